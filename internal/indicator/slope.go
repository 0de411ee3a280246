package indicator

import "math"

// LinRegSlope is the least-squares slope of values against x = 0..n-1.
// It returns NaN for fewer than two points or any NaN input.
func LinRegSlope(values []float64) float64 {
	n := float64(len(values))
	if len(values) < 2 {
		return math.NaN()
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return math.NaN()
	}
	slope := (n*sumXY - sumX*sumY) / denom
	if NearZero(slope, sumY/n) {
		return 0
	}
	return slope
}

// PctChange returns (to-from)/from*100, or 0 when from is zero or NaN.
func PctChange(from, to float64) float64 {
	if from == 0 || math.IsNaN(from) || math.IsNaN(to) {
		return 0
	}
	return (to - from) / from * 100
}

// ShiftPctChange returns the percent change of each value against the value
// lag rows earlier.
func ShiftPctChange(values []float64, lag int) []float64 {
	out := nanSlice(len(values))
	for i := lag; i < len(values); i++ {
		prev := values[i-lag]
		if math.IsNaN(prev) || math.IsNaN(values[i]) || prev == 0 {
			continue
		}
		out[i] = (values[i] - prev) / prev * 100
	}
	return out
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
