// Package strategy turns indicator frames into candidate trade signals.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/quant-signals/internal/alpha"
	"github.com/amirphl/quant-signals/internal/filter"
	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/regime"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
)

// Bundle keys for the timeframes policies read.
const (
	TimeframeM5 = "5m"
	TimeframeH1 = "1h"
)

const defaultNewsWindow = 30 * time.Minute

var ErrUnknownPolicy = errors.New("unknown strategy policy")

// Input is everything a policy sees for one instrument in one cycle.
type Input struct {
	Instrument  string
	Frames      indicator.Bundle
	News        []filter.Event
	Macro       filter.MacroBias
	Now         time.Time
	Balance     float64
	RiskPercent float64
	MinQuality  float64       // runtime floor, 0 to use the policy floor only
	NewsWindow  time.Duration // 0 means 30 minutes
}

func (in Input) newsSafe() bool {
	if len(in.News) == 0 {
		return true
	}
	window := in.NewsWindow
	if window <= 0 {
		window = defaultNewsWindow
	}
	return filter.NewNewsFilter(window).Safe(in.News, in.Instrument, in.Now)
}

// Policy is the interface for all strategy policies. Analyze returns false
// when there is no setup, which is the normal outcome.
type Policy interface {
	ID() string
	Name() string
	Timeframes() []string
	Analyze(ctx context.Context, in Input) (*signal.Signal, bool)
}

// Deps are the collaborators shared by every policy.
type Deps struct {
	Combiner *alpha.Combiner
	Detector *regime.Detector
	Risk     *risk.Manager
	Log      zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Combiner == nil {
		d.Combiner = alpha.NewCombiner(nil)
	}
	if d.Detector == nil {
		d.Detector = regime.NewDetector(regime.DefaultConfig())
	}
	if d.Risk == nil {
		d.Risk = risk.NewManager(risk.DefaultConfig(), nil, d.Log)
	}
	return d
}

// DefaultPolicies lists every policy ID in evaluation order.
func DefaultPolicies() []string {
	return []string{IntradayID, SwingID, SessionClockID, AdvancedPatternID}
}

// Build creates the named policies in order.
func Build(names []string, deps Deps) ([]Policy, error) {
	deps = deps.withDefaults()
	policies := make([]Policy, 0, len(names))

	for _, name := range names {
		var p Policy

		switch name {
		case IntradayID:
			p = NewIntraday(deps)
		case SwingID:
			p = NewSwing(deps)
		case SessionClockID:
			p = NewSessionClock(deps)
		case AdvancedPatternID:
			p = NewAdvancedPattern(deps)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
		}

		policies = append(policies, p)
	}

	return policies, nil
}

// Timeframes is the union of the timeframes policies need.
func Timeframes(policies []Policy) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range policies {
		for _, tf := range p.Timeframes() {
			if !seen[tf] {
				seen[tf] = true
				out = append(out, tf)
			}
		}
	}
	return out
}

// hourlyFrame prefers the H1 frame and falls back to M5.
func hourlyFrame(frames indicator.Bundle) *indicator.Frame {
	if f := frames[TimeframeH1]; f != nil && f.Len() > 0 {
		return f
	}
	if f := frames[TimeframeM5]; f != nil && f.Len() > 0 {
		return f
	}
	return nil
}

// weekday counts from Monday = 0.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// levels places the stop and three targets at multiples of dist from entry.
func levels(dir signal.Direction, entry, dist float64, rr [3]float64) (float64, [3]float64) {
	sign := dir.Sign()
	stop := entry - sign*dist
	var targets [3]float64
	for i, m := range rr {
		targets[i] = entry + sign*dist*m
	}
	return stop, targets
}

// size attaches lot sizing and entry layers to s.
func size(ctx context.Context, rm *risk.Manager, s *signal.Signal, in Input) {
	details := rm.CalculateLotSize(ctx, s.Instrument, s.EntryPrice, s.Stop, in.Balance, in.RiskPercent)
	details.Layers = rm.CalculateLayers(details.Lots, s.EntryPrice, s.Stop, s.Direction, s.QualityScore)
	s.Risk = details
}
