package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/pattern"
	"github.com/amirphl/quant-signals/internal/signal"
)

const AdvancedPatternID = "advanced_patterns_v23"

type dowKey struct {
	dow, hour  int
	instrument string
}

type dowEdge struct {
	direction signal.Direction
	quality   float64
	hold      string
}

var dowEdges = map[dowKey]dowEdge{
	{2, 21, "USDJPY=X"}: {signal.Sell, 9.5, "1 hour (DOW-WED-BEAR)"},
	{2, 21, "GBPJPY=X"}: {signal.Sell, 9.5, "1 hour (DOW-WED-BEAR)"},
	{4, 21, "CL=F"}:     {signal.Buy, 9.0, "1 hour (DOW-FRI-OIL-BULL)"},
	{1, 13, "GC=F"}:     {signal.Buy, 8.8, "1 hour (DOW-TUE-GOLD-BID)"},
}

// stop hunts are only traded on these (instrument, UTC hour) pairs, short.
var stopHuntHours = map[string]int{
	"CL=F":    14,
	"BTC-USD": 15,
}

// AdvancedPattern trades day-of-week hourly edges and upper-wick stop
// hunts. Entry is the open of the latest bar with a 2.5 ATR stop and a 1:1
// target.
type AdvancedPattern struct {
	stopHunt *pattern.StopHunt
	minBars  int
	stopATR  float64
	deps     Deps
}

func NewAdvancedPattern(deps Deps) *AdvancedPattern {
	return &AdvancedPattern{stopHunt: pattern.NewStopHunt(), minBars: 20, stopATR: 2.5, deps: deps.withDefaults()}
}

func (a *AdvancedPattern) ID() string           { return AdvancedPatternID }
func (a *AdvancedPattern) Name() string         { return "Advanced Patterns (DOW + PA)" }
func (a *AdvancedPattern) Timeframes() []string { return []string{TimeframeH1, TimeframeM5} }

func (a *AdvancedPattern) Analyze(ctx context.Context, in Input) (*signal.Signal, bool) {
	f := hourlyFrame(in.Frames)
	if f == nil || f.Len() < a.minBars {
		return nil, false
	}
	last, _ := f.LastCandle()
	at := last.Timestamp.UTC()
	dow, hour := weekday(at), at.Hour()
	atr := a.atr(f)

	if edge, ok := dowEdges[dowKey{dow, hour, in.Instrument}]; ok {
		reason := fmt.Sprintf("day %d hour %02d UTC edge", dow, hour)
		return a.build(ctx, in, last.Open, atr, edge.direction, edge.quality, edge.hold, "DOW_HOURLY_EDGE", reason)
	}

	if h, ok := stopHuntHours[in.Instrument]; ok && h == hour {
		m, ok := a.stopHunt.Check(last, atr)
		if !ok || m.Direction != pattern.PatternTypeBearish {
			return nil, false
		}
		reason := fmt.Sprintf("upper wick %.5f rejects above %.5f ATR", last.UpperWick(), atr)
		return a.build(ctx, in, last.Open, atr, signal.Sell, 8.5, "1 hour (STOP_HUNT_REVERSAL)", "PA_REVERSAL", reason)
	}
	return nil, false
}

// atr falls back to the mean bar range when the ATR column is not ready.
func (a *AdvancedPattern) atr(f *indicator.Frame) float64 {
	if v := indicator.Last(f.ATR); !math.IsNaN(v) && v > 0 {
		return v
	}
	return pattern.MeanRange(f.Candles, 20)
}

func (a *AdvancedPattern) build(ctx context.Context, in Input, entry, atr float64, dir signal.Direction, quality float64, hold, regimeLabel, reason string) (*signal.Signal, bool) {
	if math.IsNaN(atr) || atr <= 0 {
		return nil, false
	}
	stop, targets := levels(dir, entry, atr*a.stopATR, [3]float64{1, 1, 1})
	confidence := 1.0
	if quality > 9 {
		confidence = 1.5
	}

	s, err := signal.New(signal.Signal{
		CreatedAt:      in.Now,
		Instrument:     in.Instrument,
		Direction:      dir,
		EntryPrice:     entry,
		Stop:           stop,
		Targets:        targets,
		StrategyID:     AdvancedPatternID,
		StrategyType:   "ADVANCED_PATTERN",
		TimeframeLabel: "H1",
		QualityScore:   quality,
		RegimeLabel:    regimeLabel,
		Confidence:     confidence,
		ExpectedHold:   hold,
		Reasoning:      reason,
		ScoreDetails:   map[string]float64{"signal": dir.Sign(), "atr": atr},
	})
	if err != nil {
		a.deps.Log.Warn().Err(err).Str("instrument", in.Instrument).Msg("pattern candidate rejected")
		return nil, false
	}
	size(ctx, a.deps.Risk, s, in)
	return s, true
}
