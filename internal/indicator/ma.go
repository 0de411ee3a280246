package indicator

import "math"

// CalculateEMA returns the exponential moving average seeded with the SMA of
// the first period values. Rows before the seed are NaN.
func CalculateEMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[period-1] = prev
	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// CalculateSMA returns the simple moving average. It is RollingMean under
// the name callers expect.
func CalculateSMA(values []float64, period int) []float64 {
	return RollingMean(values, period)
}

// RollingMean is NaN wherever the window is incomplete or holds a NaN.
func RollingMean(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = Mean(values[i-window+1 : i+1])
	}
	return out
}

// RollingStdev is the rolling sample standard deviation.
func RollingStdev(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 1 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = Stdev(values[i-window+1 : i+1])
	}
	return out
}

// Mean of values; NaN if empty or any value is NaN.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Stdev is the sample standard deviation (n-1 denominator). Results within
// rounding noise of the mean's magnitude are reported as exactly 0.
func Stdev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	m := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(values)-1))
	if NearZero(sd, m) {
		return 0
	}
	return sd
}

// relEpsilon bounds float noise relative to the price level.
const relEpsilon = 1e-12

// NearZero reports whether v is indistinguishable from 0 at the scale of ref.
func NearZero(v, ref float64) bool {
	return math.Abs(v) <= relEpsilon*math.Abs(ref)
}

// Bands holds Bollinger band columns.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// CalculateBollinger returns SMA(period) +/- k sample stdevs.
func CalculateBollinger(values []float64, period int, k float64) Bands {
	mid := RollingMean(values, period)
	sd := RollingStdev(values, period)
	b := Bands{Upper: nanSlice(len(values)), Middle: mid, Lower: nanSlice(len(values))}
	for i := range values {
		b.Upper[i] = mid[i] + k*sd[i]
		b.Lower[i] = mid[i] - k*sd[i]
	}
	return b
}
