package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/signal"
)

const SessionClockID = "session_clock_v1"

// ClockEntry trades one instrument at the start of a UTC hour.
type ClockEntry struct {
	Hour      int
	Direction signal.Direction
	RRMult    float64
}

// ClockTable is the hour table per instrument. An instrument's first
// matching entry wins.
var ClockTable = map[string][]ClockEntry{
	"CL=F": {
		{21, signal.Buy, 1.5},
		{7, signal.Sell, 1.0},
	},
	"BTC-USD": {
		{21, signal.Buy, 1.0},
		{22, signal.Buy, 1.0},
	},
	"GC=F": {
		{16, signal.Buy, 1.5},
		{11, signal.Buy, 1.0},
	},
	"EURUSD=X": {
		{8, signal.Buy, 1.0},
		{16, signal.Sell, 1.0},
	},
	"AUDUSD=X": {
		{22, signal.Buy, 1.0},
	},
	"GBPJPY=X": {
		{21, signal.Sell, 1.5},
		{18, signal.Buy, 1.0},
		{23, signal.Buy, 1.0},
	},
	"USDJPY=X": {
		{21, signal.Sell, 1.5},
		{18, signal.Buy, 1.0},
	},
}

// SessionClock enters at fixed hours with a wide 2 ATR disaster stop and a
// 1:1 marker target. It skips Fridays and ignores the alpha pipeline.
type SessionClock struct {
	table   map[string][]ClockEntry
	stopATR float64
	quality float64
	deps    Deps
}

func NewSessionClock(deps Deps) *SessionClock {
	return &SessionClock{table: ClockTable, stopATR: 2.0, quality: 8.5, deps: deps.withDefaults()}
}

func (s *SessionClock) ID() string           { return SessionClockID }
func (s *SessionClock) Name() string         { return "Session Clock (Time-Based Edge)" }
func (s *SessionClock) Timeframes() []string { return []string{TimeframeH1, TimeframeM5} }

// Analyze matches the hour of the latest bar against the table.
func (s *SessionClock) Analyze(ctx context.Context, in Input) (*signal.Signal, bool) {
	entries, ok := s.table[in.Instrument]
	if !ok {
		return nil, false
	}
	f := hourlyFrame(in.Frames)
	if f == nil {
		return nil, false
	}
	last, _ := f.LastCandle()
	at := last.Timestamp.UTC()
	dow := weekday(at)
	if dow == 4 {
		return nil, false
	}

	var match *ClockEntry
	for i := range entries {
		if entries[i].Hour == at.Hour() {
			match = &entries[i]
			break
		}
	}
	if match == nil {
		return nil, false
	}

	atr := indicator.Last(f.ATR)
	if math.IsNaN(atr) || atr <= 0 {
		return nil, false
	}
	stop, targets := levels(match.Direction, last.Open, atr*s.stopATR, [3]float64{1, 1, 1})

	sig, err := signal.New(signal.Signal{
		CreatedAt:      in.Now,
		Instrument:     in.Instrument,
		Direction:      match.Direction,
		EntryPrice:     last.Open,
		Stop:           stop,
		Targets:        targets,
		StrategyID:     SessionClockID,
		StrategyType:   "SESSION_CLOCK",
		TimeframeLabel: "H1",
		QualityScore:   s.quality,
		RegimeLabel:    "TIME_BASED_EXPECTANCY",
		Confidence:     match.RRMult,
		ExpectedHold:   "1 hour (TIME-BASED EXIT)",
		Reasoning:      fmt.Sprintf("%s at %02d:00 UTC, day %d, rr x%.1f", match.Direction, at.Hour(), dow, match.RRMult),
		ScoreDetails: map[string]float64{
			"hour":    float64(at.Hour()),
			"dow":     float64(dow),
			"rr_mult": match.RRMult,
			"signal":  match.Direction.Sign(),
		},
	})
	if err != nil {
		s.deps.Log.Warn().Err(err).Str("instrument", in.Instrument).Msg("session clock candidate rejected")
		return nil, false
	}
	size(ctx, s.deps.Risk, sig, in)
	return sig, true
}
