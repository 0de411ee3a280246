// Package metrics exposes desk counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_cycles_total", Help: "Scheduler cycles by outcome"},
		[]string{"outcome"}, // ok, paused, error
	)
	CandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_candidates_total", Help: "Candidates produced by policy"},
		[]string{"policy"},
	)
	DuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "signal_duplicates_total", Help: "Candidates suppressed by the dedup window"},
	)
	PersistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "signal_persist_failures_total", Help: "Candidates dropped on storage errors"},
	)
	NotifyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_notifications_total", Help: "Notification attempts by channel and result"},
		[]string{"channel", "result"},
	)
	FetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "market_fetch_failures_total", Help: "Failed candle fetches"},
		[]string{"timeframe"},
	)
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_resolutions_total", Help: "Tracker transitions by new state"},
		[]string{"state", "max_target"},
	)
	OpenSignals = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signal_open", Help: "OPEN signals seen by the last tracker pass"},
	)
	CycleDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "signal_cycle_duration_seconds", Help: "Duration of the last scheduler cycle"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, CandidatesTotal, DuplicatesTotal, PersistFailuresTotal,
		NotifyTotal, FetchFailuresTotal, ResolutionsTotal, OpenSignals, CycleDuration)
}

// ObserveCycle records a finished cycle.
func ObserveCycle(outcome string, d time.Duration) {
	CyclesTotal.WithLabelValues(outcome).Inc()
	CycleDuration.Set(d.Seconds())
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
