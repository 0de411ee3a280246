// Package scheduler runs the delivery cycle: fetch market data, evaluate the
// strategy policies, drop duplicates, persist, then notify.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/amirphl/quant-signals/internal/clock"
	"github.com/amirphl/quant-signals/internal/config"
	"github.com/amirphl/quant-signals/internal/db"
	"github.com/amirphl/quant-signals/internal/export"
	"github.com/amirphl/quant-signals/internal/filter"
	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/journal"
	"github.com/amirphl/quant-signals/internal/market"
	"github.com/amirphl/quant-signals/internal/metrics"
	"github.com/amirphl/quant-signals/internal/notifier"
	"github.com/amirphl/quant-signals/internal/regime"
	"github.com/amirphl/quant-signals/internal/signal"
	"github.com/amirphl/quant-signals/internal/strategy"
	"github.com/amirphl/quant-signals/internal/tfutils"
)

// Store is the part of storage the scheduler writes to.
type Store interface {
	db.SignalStore
	db.ConfigStore
	db.SubscriberStore
	journal.Journaler
}

type Options struct {
	Universe         []string
	Cadence          string
	Buffer           time.Duration
	MinWait          time.Duration
	Backoff          time.Duration
	Pacing           time.Duration
	DedupWindow      time.Duration
	DedupGranularity float64
	HistoryBars      int
	FetchTimeout     time.Duration
	FetchParallelism int
	Balance          float64
	MacroDXY         string
	MacroTNX         string
	MacroEMA         int
}

type Deps struct {
	Policies    []strategy.Policy
	Detector    *regime.Detector
	Provider    market.Provider
	News        market.NewsProvider // optional
	Store       Store
	Notifier    notifier.Notifier
	Broadcaster *notifier.Broadcaster // optional
	Exporter    export.Exporter       // optional
	Clock       clock.Clock
	Log         zerolog.Logger
}

// Summary describes one finished cycle.
type Summary struct {
	ID         string
	Paused     bool
	Fetched    int
	Skipped    int
	Candidates int
	Duplicates int
	Persisted  int
	Notified   int
	Regime     regime.Result
}

type Scheduler struct {
	opts   Options
	deps   Deps
	dedup  *Dedup
	params indicator.Params
	log    zerolog.Logger
}

func New(opts Options, deps Deps) *Scheduler {
	if opts.Cadence == "" {
		opts.Cadence = "5m"
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 4 * time.Hour
	}
	if opts.DedupGranularity <= 0 {
		opts.DedupGranularity = 1
	}
	if opts.HistoryBars <= 0 {
		opts.HistoryBars = 300
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.FetchParallelism <= 0 {
		opts.FetchParallelism = 8
	}
	if opts.MacroEMA <= 0 {
		opts.MacroEMA = 20
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Detector == nil {
		deps.Detector = regime.NewDetector(regime.DefaultConfig())
	}
	return &Scheduler{
		opts:   opts,
		deps:   deps,
		dedup:  NewDedup(opts.DedupWindow),
		params: indicator.DefaultParams(),
		log:    deps.Log.With().Str("component", "scheduler").Logger(),
	}
}

// Run executes cycles until ctx is done. A cycle that has started always
// finishes; cancellation is observed between cycles and while sleeping.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Strs("universe", s.opts.Universe).Str("cadence", s.opts.Cadence).Msg("scheduler started")
	for {
		if ctx.Err() != nil {
			s.log.Info().Msg("scheduler stopped")
			return nil
		}

		_, err := s.safeCycle(context.WithoutCancel(ctx))
		wait := s.nextWait(s.deps.Clock.Now())
		if err != nil {
			s.log.Error().Err(err).Dur("backoff", s.opts.Backoff).Msg("cycle failed")
			wait = s.opts.Backoff
		}

		if err := clock.Sleep(ctx, s.deps.Clock, wait, time.Second); err != nil {
			s.log.Info().Msg("scheduler stopped")
			return nil
		}
	}
}

// nextWait aligns the next cycle to the close of the cadence candle plus
// the buffer, never less than MinWait.
func (s *Scheduler) nextWait(now time.Time) time.Duration {
	next := tfutils.NextClose(now, s.opts.Cadence).Add(s.opts.Buffer)
	return max(next.Sub(now), s.opts.MinWait)
}

func (s *Scheduler) safeCycle(ctx context.Context) (sum Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return s.RunCycle(ctx)
}

// RunCycle runs a single delivery cycle. Per-instrument and per-signal
// failures are logged and contained; the returned error is reserved for
// failures of the cycle itself.
func (s *Scheduler) RunCycle(ctx context.Context) (Summary, error) {
	start := s.deps.Clock.Now()
	sum := Summary{ID: uuid.NewString()}
	log := s.log.With().Str("cycle", sum.ID).Logger()

	rt := s.runtime(ctx, log)
	if rt.Paused() {
		log.Info().Msg("system paused, cycle skipped")
		metrics.ObserveCycle("paused", s.deps.Clock.Now().Sub(start))
		sum.Paused = true
		return sum, nil
	}

	if n := s.dedup.Prune(start); n > 0 {
		log.Debug().Int("expired", n).Msg("dedup pruned")
	}

	bundles := s.fetch(ctx, start, log)
	sum.Fetched = len(bundles)
	sum.Skipped = len(s.opts.Universe) - countUniverse(bundles, s.opts.Universe)

	macro := filter.NewMacroBias(bundles[s.opts.MacroDXY][strategy.TimeframeH1], bundles[s.opts.MacroTNX][strategy.TimeframeH1], s.opts.MacroEMA)
	news := s.news(ctx, log)

	sum.Regime = s.detectRegime(ctx, bundles, rt, log)

	candidates := s.evaluate(ctx, bundles, rt, macro, news, start)
	sum.Candidates = len(candidates)

	var subs []db.Subscriber
	if s.deps.Broadcaster != nil && len(candidates) > 0 {
		var err error
		if subs, err = s.deps.Store.ActiveSubscribers(ctx, start); err != nil {
			log.Warn().Err(err).Msg("subscribers unavailable, broadcasting to channel only")
		}
	}

	for _, c := range candidates {
		fp := c.Fingerprint(s.opts.DedupGranularity)
		if s.dedup.Seen(fp) {
			sum.Duplicates++
			metrics.DuplicatesTotal.Inc()
			log.Debug().Str("instrument", c.Instrument).Str("direction", string(c.Direction)).Msg("duplicate suppressed")
			continue
		}

		if _, err := s.deps.Store.InsertSignal(ctx, c); err != nil {
			metrics.PersistFailuresTotal.Inc()
			log.Error().Err(err).Str("instrument", c.Instrument).Str("strategy", c.StrategyID).Msg("persist failed, signal dropped")
			continue
		}
		s.dedup.Mark(fp, start)
		sum.Persisted++
		s.journal(ctx, journal.Event{
			Time: start, Type: journal.TypeSignal,
			Description: fmt.Sprintf("%s %s by %s", c.Instrument, c.Direction, c.StrategyID),
			Data:        map[string]any{"signal_id": c.ID, "cycle": sum.ID, "quality": c.QualityScore},
		}, log)

		if s.notify(ctx, c, subs, log) {
			sum.Notified++
		}
		s.export(ctx, c, log)
	}

	d := s.deps.Clock.Now().Sub(start)
	metrics.ObserveCycle("ok", d)
	s.journal(ctx, journal.Event{
		Time: start, Type: journal.TypeCycle,
		Description: fmt.Sprintf("%d candidates, %d duplicates, %d persisted", sum.Candidates, sum.Duplicates, sum.Persisted),
		Data: map[string]any{
			"cycle": sum.ID, "regime": string(sum.Regime.Regime), "skipped": sum.Skipped,
			"notified": sum.Notified, "duration_ms": d.Milliseconds(),
		},
	}, log)
	log.Info().
		Int("candidates", sum.Candidates).
		Int("duplicates", sum.Duplicates).
		Int("persisted", sum.Persisted).
		Int("notified", sum.Notified).
		Int("skipped", sum.Skipped).
		Str("regime", string(sum.Regime.Regime)).
		Msg("cycle finished")
	return sum, nil
}

// runtime reads the dynamic config. An unreadable store keeps the defaults.
func (s *Scheduler) runtime(ctx context.Context, log zerolog.Logger) config.Runtime {
	entries, err := s.deps.Store.RuntimeEntries(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("runtime config unavailable, using defaults")
		return config.DefaultRuntime()
	}
	rt, warnings := config.ParseRuntime(entries)
	for _, w := range warnings {
		log.Warn().Err(w).Msg("runtime config")
	}
	return rt
}

type fetchJob struct {
	instrument, timeframe string
}

// fetch loads every instrument and timeframe concurrently. Closed markets
// and failed fetches are left out of the result.
func (s *Scheduler) fetch(ctx context.Context, now time.Time, log zerolog.Logger) map[string]indicator.Bundle {
	var jobs []fetchJob
	for _, instrument := range s.opts.Universe {
		if !filter.MarketOpen(instrument, now) {
			log.Debug().Str("instrument", instrument).Msg("market closed")
			continue
		}
		for _, tf := range strategy.Timeframes(s.deps.Policies) {
			jobs = append(jobs, fetchJob{instrument, tf})
		}
	}
	for _, m := range []string{s.opts.MacroDXY, s.opts.MacroTNX} {
		if m != "" {
			jobs = append(jobs, fetchJob{m, strategy.TimeframeH1})
		}
	}

	var (
		mu  sync.Mutex
		out = make(map[string]indicator.Bundle)
		g   errgroup.Group
	)
	g.SetLimit(s.opts.FetchParallelism)
	for _, j := range jobs {
		g.Go(func() error {
			f, err := s.fetchFrame(ctx, j)
			if err != nil {
				metrics.FetchFailuresTotal.WithLabelValues(j.timeframe).Inc()
				log.Warn().Err(err).Str("instrument", j.instrument).Str("timeframe", j.timeframe).Msg("fetch failed, skipped")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if out[j.instrument] == nil {
				out[j.instrument] = indicator.Bundle{}
			}
			out[j.instrument][j.timeframe] = f
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Scheduler) fetchFrame(ctx context.Context, j fetchJob) (*indicator.Frame, error) {
	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()
	series, err := s.deps.Provider.FetchCandles(fctx, j.instrument, j.timeframe, s.opts.HistoryBars)
	if err != nil {
		return nil, err
	}
	if series.Len() == 0 {
		return nil, fmt.Errorf("%w: no bars", market.ErrDataUnavailable)
	}
	return indicator.Build(series, s.params)
}

func (s *Scheduler) news(ctx context.Context, log zerolog.Logger) []filter.Event {
	if s.deps.News == nil {
		return nil
	}
	events, err := s.deps.News.Events(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("calendar unavailable, news filter open")
		return nil
	}
	return events
}

// detectRegime classifies the universe and stores the quality floor it
// recommends for the next cycle.
func (s *Scheduler) detectRegime(ctx context.Context, bundles map[string]indicator.Bundle, rt config.Runtime, log zerolog.Logger) regime.Result {
	frames := make(map[string]*indicator.Frame, len(s.opts.Universe))
	for _, instrument := range s.opts.Universe {
		b := bundles[instrument]
		if f := b[strategy.TimeframeH1]; f != nil {
			frames[instrument] = f
		} else if f := b[strategy.TimeframeM5]; f != nil {
			frames[instrument] = f
		}
	}
	res := s.deps.Detector.DetectUniverse(frames)
	if res.QualityFloor != rt.MinQualityScore {
		err := s.deps.Store.SetRuntime(ctx, config.Entry{
			Key:   config.KeyMinQualityScore,
			Value: strconv.FormatFloat(res.QualityFloor, 'f', -1, 64),
			Type:  "float",
		})
		if err != nil {
			log.Warn().Err(err).Msg("quality floor not stored")
		}
	}
	log.Info().Str("regime", string(res.Regime)).Float64("adx_avg", res.ADXAvg).Float64("quality_floor", res.QualityFloor).Msg(res.Detail)
	return res
}

// evaluate runs every policy on every instrument in universe order.
func (s *Scheduler) evaluate(ctx context.Context, bundles map[string]indicator.Bundle, rt config.Runtime, macro filter.MacroBias, news []filter.Event, now time.Time) []*signal.Signal {
	var out []*signal.Signal
	for _, instrument := range s.opts.Universe {
		frames, ok := bundles[instrument]
		if !ok {
			continue
		}
		in := strategy.Input{
			Instrument:  instrument,
			Frames:      frames,
			News:        news,
			Macro:       macro,
			Now:         now,
			Balance:     s.opts.Balance,
			RiskPercent: rt.RiskPerTrade,
			MinQuality:  rt.MinQualityScore,
			NewsWindow:  rt.NewsWindow(),
		}
		for _, p := range s.deps.Policies {
			c, ok := p.Analyze(ctx, in)
			if !ok {
				continue
			}
			metrics.CandidatesTotal.WithLabelValues(p.ID()).Inc()
			out = append(out, c)
		}
	}
	return out
}

// notify waits the pacing delay and sends the channel message, then the
// personal copies. Failures are logged and never retried here.
func (s *Scheduler) notify(ctx context.Context, c *signal.Signal, subs []db.Subscriber, log zerolog.Logger) bool {
	if s.opts.Pacing > 0 {
		<-s.deps.Clock.After(s.opts.Pacing)
	}
	ok := true
	if err := s.deps.Notifier.Send(ctx, notifier.FormatSignal(c)); err != nil {
		ok = false
		metrics.NotifyTotal.WithLabelValues("channel", "error").Inc()
		log.Warn().Err(err).Int64("signal_id", c.ID).Msg("notify failed")
		s.journal(ctx, journal.Event{
			Time: s.deps.Clock.Now(), Type: journal.TypeNotify,
			Description: err.Error(), Data: map[string]any{"signal_id": c.ID},
		}, log)
	} else {
		metrics.NotifyTotal.WithLabelValues("channel", "ok").Inc()
	}

	if s.deps.Broadcaster != nil && len(subs) > 0 {
		sent, err := s.deps.Broadcaster.Broadcast(ctx, c, subs)
		metrics.NotifyTotal.WithLabelValues("subscriber", "ok").Add(float64(sent))
		if err != nil {
			metrics.NotifyTotal.WithLabelValues("subscriber", "error").Inc()
		}
	}
	return ok
}

func (s *Scheduler) export(ctx context.Context, c *signal.Signal, log zerolog.Logger) {
	if s.deps.Exporter == nil {
		return
	}
	if err := s.deps.Exporter.Export(ctx, export.NewRecord(c, s.deps.Clock.Now())); err != nil {
		log.Warn().Err(err).Int64("signal_id", c.ID).Msg("bridge export failed")
	}
}

func (s *Scheduler) journal(ctx context.Context, e journal.Event, log zerolog.Logger) {
	if err := s.deps.Store.LogEvent(ctx, e); err != nil {
		log.Warn().Err(err).Str("type", e.Type).Msg("journal write failed")
	}
}

func countUniverse(bundles map[string]indicator.Bundle, universe []string) int {
	var n int
	for _, u := range universe {
		if _, ok := bundles[u]; ok {
			n++
		}
	}
	return n
}
