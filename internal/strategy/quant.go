package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/amirphl/quant-signals/internal/alpha"
	"github.com/amirphl/quant-signals/internal/filter"
	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/regime"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
)

// tuning is the part of a quant policy that may vary per instrument.
type tuning struct {
	threshold float64 // 0 means use the regime table
	stopATR   float64
	rrScale   float64
}

// quantPolicy is the alpha pipeline shared by the intraday and swing policies.
type quantPolicy struct {
	id, name   string
	timeframe  string
	label      string
	tradeType  string
	hold       string
	minBars    int
	periods    alpha.Periods
	thresholds map[regime.Regime]float64
	otherwise  float64
	minQuality float64
	base       tuning
	jpy        *tuning
	session    *filter.Session

	deps Deps
}

func (q *quantPolicy) ID() string           { return q.id }
func (q *quantPolicy) Name() string         { return q.name }
func (q *quantPolicy) Timeframes() []string { return []string{q.timeframe} }

func (q *quantPolicy) tuningFor(instrument string, r regime.Regime) tuning {
	t := q.base
	if q.jpy != nil && strings.Contains(instrument, "JPY") {
		t = *q.jpy
	}
	if t.threshold == 0 {
		var ok bool
		if t.threshold, ok = q.thresholds[r]; !ok {
			t.threshold = q.otherwise
		}
	}
	return t
}

// Analyze runs regime, factors, combination, filters and sizing on the
// policy timeframe.
func (q *quantPolicy) Analyze(ctx context.Context, in Input) (*signal.Signal, bool) {
	log := q.deps.Log.With().Str("strategy", q.id).Str("instrument", in.Instrument).Logger()

	f := in.Frames[q.timeframe]
	if f == nil || f.Len() < q.minBars {
		return nil, false
	}
	last, ok := f.LastCandle()
	if !ok {
		return nil, false
	}
	if q.session != nil && !q.session.Contains(last.Timestamp) {
		return nil, false
	}

	r := q.deps.Detector.Classify(f)
	factors := alpha.Compute(f, q.periods)
	combined := q.deps.Combiner.Combine(factors, r, in.Instrument)
	t := q.tuningFor(in.Instrument, r)

	floor := math.Max(q.minQuality, in.MinQuality)
	if combined.Quality < floor {
		return nil, false
	}

	var dir signal.Direction
	switch {
	case combined.Value > t.threshold:
		dir = signal.Buy
	case combined.Value < -t.threshold:
		dir = signal.Sell
	default:
		return nil, false
	}

	if !filter.MacroSafe(in.Instrument, dir, in.Macro) {
		log.Debug().Str("direction", string(dir)).Msg("macro conflict")
		return nil, false
	}
	if !in.newsSafe() {
		log.Debug().Msg("high impact news window")
		return nil, false
	}

	atr := indicator.Last(f.ATR)
	if math.IsNaN(atr) || atr <= 0 {
		return nil, false
	}
	rr := risk.OptimalRR(combined.Quality, string(r))
	dist := atr * t.stopATR
	entry := last.Close
	stop, targets := levels(dir, entry, dist, [3]float64{rr.TP1 * t.rrScale, rr.TP2 * t.rrScale, rr.TP3 * t.rrScale})

	details := factors.Map()
	details["signal"] = combined.Value
	details["rr_tp1"] = rr.TP1
	details["rr_tp2"] = rr.TP2
	details["rr_tp3"] = rr.TP3
	if rsi := indicator.Last(f.RSI); !math.IsNaN(rsi) {
		details["rsi"] = indicator.Round(rsi, 2)
	}
	if pb, ok := f.PercentB(); ok {
		details["bb_pct_b"] = indicator.Round(pb, 4)
	}

	s, err := signal.New(signal.Signal{
		CreatedAt:      in.Now,
		Instrument:     in.Instrument,
		Direction:      dir,
		EntryPrice:     entry,
		Stop:           stop,
		Targets:        targets,
		StrategyID:     q.id,
		StrategyType:   q.tradeType,
		TimeframeLabel: q.label,
		QualityScore:   combined.Quality,
		RegimeLabel:    string(r),
		Confidence:     math.Abs(combined.Value),
		ExpectedHold:   q.hold,
		Reasoning:      q.reasoning(r, q.deps.Detector.Tags(f), factors, combined, last.Timestamp),
		ScoreDetails:   details,
	})
	if err != nil {
		log.Warn().Err(err).Msg("discarding malformed candidate")
		return nil, false
	}
	size(ctx, q.deps.Risk, s, in)
	return s, true
}

func (q *quantPolicy) reasoning(r regime.Regime, tags []regime.Regime, fs alpha.FactorSet, c alpha.Combined, at time.Time) string {
	summary := fmt.Sprintf("%s regime, alpha %+.2f (velocity %+.2f, zscore %+.2f, momentum %+.2f, volatility %+.2f), %s weights",
		r, c.Value, fs.Velocity, fs.ZScore, fs.Momentum, fs.Volatility, c.Source)
	if n := len(tags); n > 0 {
		summary += fmt.Sprintf(", bar %s for %d bars", tags[n-1], tagRun(tags))
	}
	if q.session != nil {
		summary += ", " + q.session.Label(at)
	}
	return summary
}

// tagRun counts how many trailing bars share the last tag.
func tagRun(tags []regime.Regime) int {
	n := 0
	for i := len(tags) - 1; i >= 0 && tags[i] == tags[len(tags)-1]; i-- {
		n++
	}
	return n
}
