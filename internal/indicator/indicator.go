// Package indicator derives indicator columns from a candle series. Every
// column has one entry per bar; rows without enough history hold NaN.
package indicator

import (
	"fmt"
	"math"

	"github.com/amirphl/quant-signals/internal/candle"
)

// Params selects the periods used to build a Frame.
type Params struct {
	EMAPeriods     []int
	RSIPeriod      int
	ATRPeriod      int
	ATRAvgPeriod   int
	ADXPeriod      int
	TrendEMA       int
	VolRatioWindow int
	BBPeriod       int
	BBStdDev       float64
}

func DefaultParams() Params {
	return Params{
		EMAPeriods:     []int{20, 50, 100, 200},
		RSIPeriod:      14,
		ATRPeriod:      14,
		ATRAvgPeriod:   50,
		ADXPeriod:      14,
		TrendEMA:       100,
		VolRatioWindow: 50,
		BBPeriod:       20,
		BBStdDev:       2,
	}
}

// Frame is a series plus derived columns.
type Frame struct {
	Symbol    string
	Timeframe string
	Candles   []candle.Candle

	Open, High, Low, Close []float64

	RSI      []float64
	ATR      []float64
	ATRAvg   []float64
	ADX      []float64
	EMASlope []float64 // % change of the trend EMA against 3 rows earlier
	VolRatio []float64 // ATR / rolling mean ATR
	Bands    Bands

	params Params
	emas   map[int][]float64
}

// Build computes every column for s.
func Build(s *candle.Series, p Params) (*Frame, error) {
	f := &Frame{
		Symbol:    s.Symbol,
		Timeframe: s.Timeframe,
		Candles:   s.Candles(),
		Open:      s.Opens(),
		High:      s.Highs(),
		Low:       s.Lows(),
		Close:     s.Closes(),
		params:    p,
		emas:      make(map[int][]float64, len(p.EMAPeriods)+1),
	}

	for _, period := range p.EMAPeriods {
		f.emas[period] = CalculateEMA(f.Close, period)
	}
	if _, ok := f.emas[p.TrendEMA]; !ok {
		f.emas[p.TrendEMA] = CalculateEMA(f.Close, p.TrendEMA)
	}

	f.RSI = CalculateRSI(f.Close, p.RSIPeriod)
	if f.RSI == nil {
		f.RSI = nanSlice(len(f.Close))
	}

	var err error
	if f.ATR, err = CalculateATR(f.High, f.Low, f.Close, p.ATRPeriod); err != nil {
		return nil, fmt.Errorf("atr: %w", err)
	}
	if f.ADX, err = CalculateADX(f.High, f.Low, f.Close, p.ADXPeriod); err != nil {
		return nil, fmt.Errorf("adx: %w", err)
	}
	f.ATRAvg = RollingMean(f.ATR, p.ATRAvgPeriod)
	f.EMASlope = ShiftPctChange(f.emas[p.TrendEMA], 3)

	atrMean := RollingMean(f.ATR, p.VolRatioWindow)
	f.VolRatio = nanSlice(len(f.ATR))
	for i := range f.ATR {
		if atrMean[i] != 0 {
			f.VolRatio[i] = f.ATR[i] / atrMean[i]
		}
	}
	f.Bands = CalculateBollinger(f.Close, p.BBPeriod, p.BBStdDev)
	return f, nil
}

func (f *Frame) Len() int { return len(f.Close) }

// ATRAvgPeriod is the window of the ATRAvg column.
func (f *Frame) ATRAvgPeriod() int { return f.params.ATRAvgPeriod }

// PercentB places the last close inside the Bollinger bands: 0 at the lower
// band, 1 at the upper. ok is false while the bands are warming up or
// collapsed.
func (f *Frame) PercentB() (float64, bool) {
	upper, lower := Last(f.Bands.Upper), Last(f.Bands.Lower)
	if math.IsNaN(upper) || math.IsNaN(lower) || upper <= lower {
		return 0, false
	}
	return (Last(f.Close) - lower) / (upper - lower), true
}

// EMA returns the EMA column for period, computing it if Build did not.
func (f *Frame) EMA(period int) []float64 {
	if col, ok := f.emas[period]; ok {
		return col
	}
	return CalculateEMA(f.Close, period)
}

// TrendEMA returns the column used for slope and regime checks.
func (f *Frame) TrendEMA() []float64 { return f.EMA(f.params.TrendEMA) }

// TrendSlope is the % change of the trend EMA across the last three rows,
// rounded to 4 places. Zero when unavailable.
func (f *Frame) TrendSlope() float64 {
	ema := f.TrendEMA()
	if len(ema) < 3 {
		return 0
	}
	return Round(PctChange(ema[len(ema)-3], ema[len(ema)-1]), 4)
}

// Last returns the final value of col, or NaN when col is empty.
func Last(col []float64) float64 {
	if len(col) == 0 {
		return math.NaN()
	}
	return col[len(col)-1]
}

// Tail returns the last n values of col (all of col when shorter).
func Tail(col []float64, n int) []float64 {
	if n >= len(col) {
		return col
	}
	return col[len(col)-n:]
}

// LastCandle returns the most recent bar.
func (f *Frame) LastCandle() (candle.Candle, bool) {
	if len(f.Candles) == 0 {
		return candle.Candle{}, false
	}
	return f.Candles[len(f.Candles)-1], true
}

// Bundle maps timeframe ("5m", "1h") to the frame for one instrument.
type Bundle map[string]*Frame
