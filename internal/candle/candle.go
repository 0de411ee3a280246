// Package candle holds OHLCV bars and the append-only series built from them.
package candle

import (
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/quant-signals/internal/tfutils"
)

var (
	ErrOutOfOrder = errors.New("candle timestamp not after last bar")
	ErrMismatch   = errors.New("candle symbol or timeframe does not match series")
)

type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Source    string    `json:"source"`
}

// IsComplete reports whether the candle has closed at now.
func (c *Candle) IsComplete(now time.Time) bool {
	candleEnd := c.Timestamp.Add(tfutils.GetTimeframeDuration(c.Timeframe))
	return !now.Before(candleEnd)
}

// Validate checks if a candle has valid data
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	if c.Timeframe == "" {
		return errors.New("candle timeframe cannot be empty")
	}
	return nil
}

// Body is the absolute distance between open and close.
func (c *Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// UpperWick is the distance from the body top to the high.
func (c *Candle) UpperWick() float64 {
	return c.High - max(c.Open, c.Close)
}

// LowerWick is the distance from the low to the body bottom.
func (c *Candle) LowerWick() float64 {
	return min(c.Open, c.Close) - c.Low
}

// Series is an append-only run of bars for one symbol and timeframe with
// strictly increasing timestamps.
type Series struct {
	Symbol    string
	Timeframe string
	candles   []Candle
}

// NewSeries validates candles and returns them as a Series. The input must
// already be sorted; duplicates and out-of-order bars are rejected.
func NewSeries(symbol, timeframe string, candles []Candle) (*Series, error) {
	s := &Series{Symbol: symbol, Timeframe: timeframe, candles: make([]Candle, 0, len(candles))}
	for i := range candles {
		if err := s.Append(candles[i]); err != nil {
			return nil, fmt.Errorf("candle %d: %w", i, err)
		}
	}
	return s, nil
}

// Append adds c to the end of the series.
func (s *Series) Append(c Candle) error {
	if c.Symbol != s.Symbol || c.Timeframe != s.Timeframe {
		return fmt.Errorf("%w: got %s/%s", ErrMismatch, c.Symbol, c.Timeframe)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if n := len(s.candles); n > 0 && !c.Timestamp.After(s.candles[n-1].Timestamp) {
		return fmt.Errorf("%w: %s", ErrOutOfOrder, c.Timestamp.Format(time.RFC3339))
	}
	s.candles = append(s.candles, c)
	return nil
}

func (s *Series) Len() int { return len(s.candles) }

// At returns the i-th bar. Negative indexes count from the end.
func (s *Series) At(i int) Candle {
	if i < 0 {
		i += len(s.candles)
	}
	return s.candles[i]
}

// Last returns the most recent bar.
func (s *Series) Last() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Candles returns a copy of the bars.
func (s *Series) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func (s *Series) Closes() []float64 { return s.column(func(c Candle) float64 { return c.Close }) }
func (s *Series) Highs() []float64  { return s.column(func(c Candle) float64 { return c.High }) }
func (s *Series) Lows() []float64   { return s.column(func(c Candle) float64 { return c.Low }) }
func (s *Series) Opens() []float64  { return s.column(func(c Candle) float64 { return c.Open }) }

func (s *Series) column(f func(Candle) float64) []float64 {
	out := make([]float64, len(s.candles))
	for i, c := range s.candles {
		out[i] = f(c)
	}
	return out
}
