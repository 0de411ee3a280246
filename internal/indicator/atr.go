package indicator

import (
	"errors"
	"math"
)

var ErrLengthMismatch = errors.New("high, low and close must have the same length")

// TrueRange of each bar. The first bar has no previous close and uses high-low.
func TrueRange(high, low, close []float64) ([]float64, error) {
	if len(high) != len(low) || len(high) != len(close) {
		return nil, ErrLengthMismatch
	}
	tr := make([]float64, len(high))
	for i := range high {
		if i == 0 {
			tr[i] = high[i] - low[i]
			continue
		}
		tr[i] = trueRange(high[i], low[i], close[i-1])
	}
	return tr, nil
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// CalculateATR returns Wilder's average true range. The first value sits at
// index period (mean of the first period true ranges after bar 0).
func CalculateATR(high, low, close []float64, period int) ([]float64, error) {
	tr, err := TrueRange(high, low, close)
	if err != nil {
		return nil, err
	}
	out := nanSlice(len(tr))
	if period <= 0 || len(tr) <= period {
		return out, nil
	}
	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out, nil
}

// CalculateADX returns Wilder's average directional index. The first value
// sits at index 2*period-1.
func CalculateADX(high, low, close []float64, period int) ([]float64, error) {
	if len(high) != len(low) || len(high) != len(close) {
		return nil, ErrLengthMismatch
	}
	n := len(high)
	out := nanSlice(n)
	if period <= 0 || n < 2*period {
		return out, nil
	}

	var sTR, sPlus, sMinus float64
	dx := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		var plusDM, minusDM float64
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}
		tr := trueRange(high[i], low[i], close[i-1])

		if i <= period {
			sTR += tr
			sPlus += plusDM
			sMinus += minusDM
			if i < period {
				continue
			}
		} else {
			sTR = sTR - sTR/float64(period) + tr
			sPlus = sPlus - sPlus/float64(period) + plusDM
			sMinus = sMinus - sMinus/float64(period) + minusDM
		}

		if sTR == 0 {
			continue
		}
		plusDI := 100 * sPlus / sTR
		minusDI := 100 * sMinus / sTR
		if denom := plusDI + minusDI; denom > 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / denom
		}
	}

	var sum float64
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	adx := sum / float64(period)
	out[2*period-1] = adx
	for i := 2 * period; i < n; i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
		out[i] = adx
	}
	return out, nil
}
