// Package pattern detects price-action shapes on closed candles.
package pattern

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/amirphl/quant-signals/internal/candle"
)

var ErrLengthMismatch = errors.New("candles and atr have different lengths")

// PatternType represents the type of pattern
type PatternType string

const (
	PatternTypeBullish PatternType = "bullish"
	PatternTypeBearish PatternType = "bearish"
)

// Match represents a detected pattern
type Match struct {
	Index     int
	Pattern   string
	Strength  float64 // wick over ATR, capped at 1
	Direction PatternType
	Timestamp time.Time
}

// StopHunt detects pin bars whose rejection wick is both long against the
// body and large against recent volatility. An upper wick is a bearish
// rejection of a run on buy stops; a lower wick is the bullish mirror.
type StopHunt struct {
	WickBody float64
	WickATR  float64
}

func NewStopHunt() *StopHunt {
	return &StopHunt{WickBody: 2.0, WickATR: 1.0}
}

func (s *StopHunt) Name() string { return "Stop Hunt" }

// Check classifies a single candle against atr.
func (s *StopHunt) Check(c candle.Candle, atr float64) (Match, bool) {
	if math.IsNaN(atr) || atr <= 0 {
		return Match{}, false
	}
	body := c.Body()
	upper, lower := c.UpperWick(), c.LowerWick()
	m := Match{Pattern: s.Name(), Timestamp: c.Timestamp}

	switch {
	case upper > s.WickBody*body && upper > s.WickATR*atr:
		m.Direction = PatternTypeBearish
		m.Strength = math.Min(upper/(atr*s.WickATR*2), 1)
	case lower > s.WickBody*body && lower > s.WickATR*atr:
		m.Direction = PatternTypeBullish
		m.Strength = math.Min(lower/(atr*s.WickATR*2), 1)
	default:
		return Match{}, false
	}
	return m, true
}

// Detect scans candles with one ATR value per candle.
func (s *StopHunt) Detect(candles []candle.Candle, atr []float64) ([]Match, error) {
	if len(candles) != len(atr) {
		return nil, fmt.Errorf("stop hunt: %w", ErrLengthMismatch)
	}
	var matches []Match
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			continue
		}
		if m, ok := s.Check(c, atr[i]); ok {
			m.Index = i
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// MeanRange is the average high-low range of the last n candles, used
// when ATR has not warmed up.
func MeanRange(candles []candle.Candle, n int) float64 {
	if n > len(candles) {
		n = len(candles)
	}
	if n <= 0 {
		return math.NaN()
	}
	var sum float64
	for _, c := range candles[len(candles)-n:] {
		sum += c.High - c.Low
	}
	return sum / float64(n)
}
