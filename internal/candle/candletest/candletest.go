// Package candletest builds deterministic candle series for tests.
package candletest

import (
	"math"
	"time"

	"github.com/amirphl/quant-signals/internal/candle"
	"github.com/amirphl/quant-signals/internal/tfutils"
)

// Shape returns the close for bar i.
type Shape func(i int) float64

// Linear rises (or falls) by step per bar.
func Linear(start, step float64) Shape {
	return func(i int) float64 { return start + step*float64(i) }
}

// Wave oscillates around mid with the given amplitude and period in bars.
func Wave(mid, amplitude float64, period int) Shape {
	return func(i int) float64 {
		return mid + amplitude*math.Sin(2*math.Pi*float64(i)/float64(period))
	}
}

// Flat stays at price.
func Flat(price float64) Shape {
	return func(int) float64 { return price }
}

// Bars builds n candles ending at end (the last bar opens at end). Each bar
// opens at the previous close and spans spread on both sides of its body.
func Bars(symbol, timeframe string, end time.Time, n int, shape Shape, spread float64) []candle.Candle {
	d := tfutils.GetTimeframeDuration(timeframe)
	start := end.Add(-time.Duration(n-1) * d)
	out := make([]candle.Candle, n)
	prev := shape(0)
	for i := 0; i < n; i++ {
		cl := shape(i)
		op := prev
		out[i] = candle.Candle{
			Timestamp: start.Add(time.Duration(i) * d),
			Open:      op,
			High:      math.Max(op, cl) + spread,
			Low:       math.Min(op, cl) - spread,
			Close:     cl,
			Volume:    100,
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    "test",
		}
		prev = cl
	}
	return out
}

// Series wraps Bars in a validated series. It panics on invalid input.
func Series(symbol, timeframe string, end time.Time, n int, shape Shape, spread float64) *candle.Series {
	s, err := candle.NewSeries(symbol, timeframe, Bars(symbol, timeframe, end, n, shape, spread))
	if err != nil {
		panic(err)
	}
	return s
}
