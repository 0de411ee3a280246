// Package tracker resolves OPEN signals against the last traded price.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/quant-signals/internal/clock"
	"github.com/amirphl/quant-signals/internal/db"
	"github.com/amirphl/quant-signals/internal/journal"
	"github.com/amirphl/quant-signals/internal/market"
	"github.com/amirphl/quant-signals/internal/metrics"
	"github.com/amirphl/quant-signals/internal/notifier"
	"github.com/amirphl/quant-signals/internal/signal"
)

type Store interface {
	db.SignalStore
	journal.Journaler
}

// Progress is where a signal stands after a price observation.
type Progress struct {
	State     signal.ResultState
	MaxTarget int
}

// Advance applies price to s. Only the stop and the last target are
// terminal; the first two targets only raise MaxTarget. Terminal signals
// never move.
func Advance(s signal.Signal, price float64) Progress {
	p := Progress{State: s.ResultState, MaxTarget: s.MaxTargetReached}
	if p.State.Terminal() {
		return p
	}
	sign := s.Direction.Sign()
	reached := func(level float64) bool { return (price-level)*sign >= 0 }

	switch {
	case (price-s.Stop)*sign <= 0:
		p.State = signal.StateSL
	case reached(s.Targets[2]):
		p.State = signal.StateTP3
		p.MaxTarget = 3
	case reached(s.Targets[1]):
		p.MaxTarget = max(p.MaxTarget, 2)
	case reached(s.Targets[0]):
		p.MaxTarget = max(p.MaxTarget, 1)
	}
	return p
}

type Deps struct {
	Store    Store
	Prices   market.PriceSource
	Notifier notifier.Notifier // optional, resolution notices
	Clock    clock.Clock
	Log      zerolog.Logger
}

// Pass summarizes one tracker pass.
type Pass struct {
	Open     int
	Priced   int
	Updated  int
	Resolved int
}

type Tracker struct {
	interval time.Duration
	deps     Deps
	log      zerolog.Logger
}

func New(interval time.Duration, deps Deps) *Tracker {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Tracker{
		interval: interval,
		deps:     deps,
		log:      deps.Log.With().Str("component", "tracker").Logger(),
	}
}

// Run checks open signals every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	t.log.Info().Dur("interval", t.interval).Msg("tracker started")
	for {
		if _, err := t.Check(context.WithoutCancel(ctx)); err != nil {
			t.log.Error().Err(err).Msg("tracker pass failed")
		}
		if err := clock.Sleep(ctx, t.deps.Clock, t.interval, time.Second); err != nil {
			t.log.Info().Msg("tracker stopped")
			return nil
		}
	}
}

// Check runs one pass: one price lookup per instrument, then a write for
// every signal whose progress changed.
func (t *Tracker) Check(ctx context.Context) (Pass, error) {
	open, err := t.deps.Store.OpenSignals(ctx)
	if err != nil {
		return Pass{}, fmt.Errorf("load open signals: %w", err)
	}
	pass := Pass{Open: len(open)}

	var order []string
	byInstrument := make(map[string][]signal.Signal)
	for _, s := range open {
		if _, ok := byInstrument[s.Instrument]; !ok {
			order = append(order, s.Instrument)
		}
		byInstrument[s.Instrument] = append(byInstrument[s.Instrument], s)
	}

	for _, instrument := range order {
		price, ok, err := t.deps.Prices.LastPrice(ctx, instrument)
		if err != nil || !ok {
			t.log.Debug().Err(err).Str("instrument", instrument).Msg("no price, signals untouched")
			continue
		}
		pass.Priced++
		for _, s := range byInstrument[instrument] {
			p := Advance(s, price)
			if p.State == s.ResultState && p.MaxTarget == s.MaxTargetReached {
				continue
			}
			if t.apply(ctx, s, p, price) {
				pass.Updated++
				if p.State.Terminal() {
					pass.Resolved++
				}
			}
		}
	}

	metrics.OpenSignals.Set(float64(pass.Open - pass.Resolved))
	if pass.Updated > 0 {
		t.log.Info().Int("open", pass.Open).Int("updated", pass.Updated).Int("resolved", pass.Resolved).Msg("tracker pass")
	}
	return pass, nil
}

func (t *Tracker) apply(ctx context.Context, s signal.Signal, p Progress, price float64) bool {
	now := t.deps.Clock.Now()
	var closedAt *time.Time
	if p.State.Terminal() {
		closedAt = &now
	}
	log := t.log.With().Int64("signal_id", s.ID).Str("instrument", s.Instrument).Logger()

	err := t.deps.Store.UpdateProgress(ctx, s.ID, p.State, p.MaxTarget, closedAt)
	if errors.Is(err, db.ErrNotFound) {
		log.Debug().Msg("signal no longer open")
		return false
	}
	if err != nil {
		log.Error().Err(err).Msg("progress not stored")
		return false
	}

	s.ResultState, s.MaxTargetReached, s.ClosedAt = p.State, p.MaxTarget, closedAt
	metrics.ResolutionsTotal.WithLabelValues(string(p.State), strconv.Itoa(p.MaxTarget)).Inc()
	log.Info().Str("state", string(p.State)).Int("max_target", p.MaxTarget).Float64("price", price).Msg("signal progressed")

	if err := t.deps.Store.LogEvent(ctx, journal.Event{
		Time: now, Type: journal.TypeResolution,
		Description: notifier.FormatResolution(s),
		Data: map[string]any{
			"signal_id": s.ID, "state": string(p.State), "max_target": p.MaxTarget, "price": price,
		},
	}); err != nil {
		log.Warn().Err(err).Msg("journal write failed")
	}

	if t.deps.Notifier != nil {
		if err := t.deps.Notifier.Send(ctx, notifier.FormatResolution(s)); err != nil {
			log.Warn().Err(err).Msg("resolution notice failed")
		}
	}
	return true
}
