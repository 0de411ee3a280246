// Package backtest replays historical bars through the strategy policies
// and resolves every accepted signal with the live tracker rules.
package backtest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/quant-signals/internal/candle"
	"github.com/amirphl/quant-signals/internal/filter"
	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/scheduler"
	"github.com/amirphl/quant-signals/internal/signal"
	"github.com/amirphl/quant-signals/internal/strategy"
	"github.com/amirphl/quant-signals/internal/tfutils"
	"github.com/amirphl/quant-signals/internal/tracker"
)

var ErrNoData = errors.New("no series for the policy timeframes")

type Options struct {
	Balance          float64
	RiskPercent      float64
	MinQuality       float64
	Warmup           int // bars of the driving timeframe before the first evaluation
	Window           int // bars handed to the policies per timeframe
	DedupWindow      time.Duration
	DedupGranularity float64
}

func (o Options) withDefaults() Options {
	if o.Balance <= 0 {
		o.Balance = 10000
	}
	if o.RiskPercent <= 0 {
		o.RiskPercent = 2
	}
	if o.Warmup <= 0 {
		o.Warmup = 200
	}
	if o.Window <= 0 {
		o.Window = 300
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 4 * time.Hour
	}
	if o.DedupGranularity <= 0 {
		o.DedupGranularity = 1
	}
	return o
}

// Trade is one replayed signal.
type Trade struct {
	Strategy  string
	Signal    signal.Signal
	OpenedAt  time.Time
	ClosedAt  time.Time
	Outcome   risk.Outcome
	RMultiple float64
}

// Results holds the replay of one instrument.
type Results struct {
	Instrument      string             `json:"instrument"`
	Trades          []Trade            `json:"trades"` // resolved, in close order
	Open            int                `json:"open"`
	Wins            int                `json:"wins"`
	Losses          int                `json:"losses"`
	Breakevens      int                `json:"breakevens"`
	TotalR          float64            `json:"total_r"`
	MaxDrawdownR    float64            `json:"max_drawdown_r"`
	MaxConsecWins   int                `json:"max_consec_wins"`
	MaxConsecLosses int                `json:"max_consec_losses"`
	EquityCurve     []float64          `json:"equity_curve"` // cumulative R after each close
	Metrics         map[string]float64 `json:"metrics"`
}

type Replayer struct {
	policies []strategy.Policy
	opts     Options
	params   indicator.Params
	log      zerolog.Logger
}

func New(policies []strategy.Policy, opts Options, log zerolog.Logger) *Replayer {
	return &Replayer{
		policies: policies,
		opts:     opts.withDefaults(),
		params:   indicator.DefaultParams(),
		log:      log.With().Str("component", "backtest").Logger(),
	}
}

type frameCursor struct {
	timeframe string
	bars      []candle.Candle
	dur       time.Duration
	next      int // bars[:next] have closed
}

// Run walks the finest timeframe the policies use, bar by bar. Each step
// first resolves open trades against the bar (adverse extreme first, so an
// ambiguous bar counts against the trade), then evaluates the policies on
// the bars closed so far.
func (r *Replayer) Run(ctx context.Context, instrument string, series map[string]*candle.Series) (Results, error) {
	res := Results{Instrument: instrument, Metrics: map[string]float64{}}

	var cursors []*frameCursor
	for _, tf := range strategy.Timeframes(r.policies) {
		s, ok := series[tf]
		if !ok || s.Len() == 0 {
			continue
		}
		cursors = append(cursors, &frameCursor{timeframe: tf, bars: s.Candles(), dur: tfutils.GetTimeframeDuration(tf)})
	}
	if len(cursors) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoData, instrument)
	}
	slices.SortFunc(cursors, func(a, b *frameCursor) int { return cmp.Compare(a.dur, b.dur) })
	drive := cursors[0]

	dedup := scheduler.NewDedup(r.opts.DedupWindow)
	var open []Trade

	for i, bar := range drive.bars {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		closeAt := bar.Timestamp.Add(drive.dur)

		open = r.resolve(open, bar, closeAt, &res)

		for _, c := range cursors {
			for c.next < len(c.bars) && !c.bars[c.next].Timestamp.Add(c.dur).After(closeAt) {
				c.next++
			}
		}
		if i+1 < r.opts.Warmup {
			continue
		}

		bundle, err := r.bundle(instrument, cursors)
		if err != nil {
			r.log.Debug().Err(err).Time("at", closeAt).Msg("frames not built")
			continue
		}
		dedup.Prune(closeAt)
		in := strategy.Input{
			Instrument:  instrument,
			Frames:      bundle,
			Macro:       filter.NeutralBias(),
			Now:         closeAt,
			Balance:     r.opts.Balance,
			RiskPercent: r.opts.RiskPercent,
			MinQuality:  r.opts.MinQuality,
		}
		for _, p := range r.policies {
			s, ok := p.Analyze(ctx, in)
			if !ok {
				continue
			}
			fp := s.Fingerprint(r.opts.DedupGranularity)
			if dedup.Seen(fp) {
				continue
			}
			dedup.Mark(fp, closeAt)
			s.ResultState, s.MaxTargetReached, s.ClosedAt = signal.StateOpen, 0, nil
			open = append(open, Trade{Strategy: p.ID(), Signal: *s, OpenedAt: closeAt})
		}
	}

	res.Open = len(open)
	calculatePerformanceMetrics(&res)
	return res, nil
}

func (r *Replayer) bundle(instrument string, cursors []*frameCursor) (indicator.Bundle, error) {
	b := make(indicator.Bundle, len(cursors))
	for _, c := range cursors {
		if c.next == 0 {
			continue
		}
		bars := c.bars[max(0, c.next-r.opts.Window):c.next]
		s, err := candle.NewSeries(instrument, c.timeframe, bars)
		if err != nil {
			return nil, err
		}
		f, err := indicator.Build(s, r.params)
		if err != nil {
			return nil, err
		}
		b[c.timeframe] = f
	}
	return b, nil
}

// resolve advances every open trade through bar and moves the terminal
// ones into res.
func (r *Replayer) resolve(open []Trade, bar candle.Candle, closeAt time.Time, res *Results) []Trade {
	kept := open[:0]
	for _, t := range open {
		adverse, favorable := bar.Low, bar.High
		if t.Signal.Direction == signal.Sell {
			adverse, favorable = bar.High, bar.Low
		}
		for _, price := range []float64{adverse, favorable} {
			p := tracker.Advance(t.Signal, price)
			t.Signal.ResultState, t.Signal.MaxTargetReached = p.State, p.MaxTarget
		}
		if !t.Signal.ResultState.Terminal() {
			kept = append(kept, t)
			continue
		}
		t.ClosedAt = closeAt
		t.Signal.Close(t.Signal.ResultState, closeAt)
		rt, _ := risk.OutcomeOf(t.Signal)
		t.Outcome, t.RMultiple = rt.Outcome, rt.RMultiple
		res.Trades = append(res.Trades, t)
	}
	return kept
}

func calculatePerformanceMetrics(res *Results) {
	var equity, peak, gains, losses float64
	var winRun, lossRun int
	for _, t := range res.Trades {
		switch t.Outcome {
		case risk.Win:
			res.Wins++
			winRun++
			lossRun = 0
			gains += t.RMultiple
		case risk.Loss:
			res.Losses++
			lossRun++
			winRun = 0
			losses -= t.RMultiple
		default:
			res.Breakevens++
			winRun, lossRun = 0, 0
		}
		res.MaxConsecWins = max(res.MaxConsecWins, winRun)
		res.MaxConsecLosses = max(res.MaxConsecLosses, lossRun)

		equity += t.RMultiple
		peak = max(peak, equity)
		res.MaxDrawdownR = max(res.MaxDrawdownR, peak-equity)
		res.EquityCurve = append(res.EquityCurve, equity)
	}
	res.TotalR = equity

	n := float64(len(res.Trades))
	if n == 0 {
		return
	}
	res.Metrics["win_rate"] = float64(res.Wins) / n
	res.Metrics["breakeven_rate"] = float64(res.Breakevens) / n
	res.Metrics["expectancy_r"] = equity / n
	if losses > 0 {
		res.Metrics["profit_factor"] = gains / losses
	}

	mean := equity / n
	var variance float64
	for _, t := range res.Trades {
		variance += (t.RMultiple - mean) * (t.RMultiple - mean)
	}
	if std := math.Sqrt(variance / n); std > 0 {
		res.Metrics["sharpe_r"] = mean / std
	}
}
