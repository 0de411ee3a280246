// Package alpha computes normalized alpha factors from indicator frames and
// folds them into one regime-weighted signal.
package alpha

import (
	"math"

	"github.com/amirphl/quant-signals/internal/indicator"
)

// FactorSet holds one evaluation of the four factors. Zero means no opinion.
type FactorSet struct {
	Velocity   float64 `json:"velocity"`
	ZScore     float64 `json:"zscore"`
	Momentum   float64 `json:"momentum"`
	Volatility float64 `json:"volatility"`
}

func (fs FactorSet) Map() map[string]float64 {
	return map[string]float64{
		"velocity":   fs.Velocity,
		"zscore":     fs.ZScore,
		"momentum":   fs.Momentum,
		"volatility": fs.Volatility,
	}
}

func (fs FactorSet) values() [4]float64 {
	return [4]float64{fs.Velocity, fs.ZScore, fs.Momentum, fs.Volatility}
}

// Periods selects the lookbacks for each factor.
type Periods struct {
	Velocity      int `yaml:"velocity"`
	ZScore        int `yaml:"zscore"`
	MomentumShort int `yaml:"momentum_short"`
	MomentumLong  int `yaml:"momentum_long"`
	Volatility    int `yaml:"volatility"`
}

// Compute evaluates all four factors on f.
func Compute(f *indicator.Frame, p Periods) FactorSet {
	return FactorSet{
		Velocity:   Velocity(f, p.Velocity),
		ZScore:     MeanReversionZScore(f, p.ZScore),
		Momentum:   Momentum(f, p.MomentumShort, p.MomentumLong),
		Volatility: VolatilityRegime(f, p.Volatility),
	}
}

// Velocity is the least-squares slope of the last period closes divided by
// the latest ATR.
func Velocity(f *indicator.Frame, period int) float64 {
	if f == nil || period < 2 || f.Len() < period {
		return 0
	}
	atr := indicator.Last(f.ATR)
	if !usable(atr) {
		return 0
	}
	return finite(indicator.LinRegSlope(indicator.Tail(f.Close, period)) / atr)
}

// MeanReversionZScore is the distance of the latest close from EMA(period)
// in units of the sample stdev of the last period closes. Positive values
// mean price is stretched above its mean.
func MeanReversionZScore(f *indicator.Frame, period int) float64 {
	if f == nil || period < 2 || f.Len() < period {
		return 0
	}
	ema := indicator.Last(f.EMA(period))
	if math.IsNaN(ema) {
		return 0
	}
	sd := indicator.Stdev(indicator.Tail(f.Close, period))
	if !usable(sd) {
		return 0
	}
	return finite((indicator.Last(f.Close) - ema) / sd)
}

// Momentum is the short rate of change minus the long one, in percent,
// scaled by ATR*10000.
func Momentum(f *indicator.Frame, short, long int) float64 {
	if f == nil || short <= 0 || long <= 0 || f.Len() < long || f.Len() < short {
		return 0
	}
	n := f.Len()
	last := f.Close[n-1]
	shortBase, longBase := f.Close[n-short], f.Close[n-long]
	if shortBase == 0 || longBase == 0 {
		return 0
	}
	atr := indicator.Last(f.ATR)
	if !usable(atr) {
		return 0
	}
	shortROC := (last/shortBase - 1) * 100
	longROC := (last/longBase - 1) * 100
	return finite((shortROC - longROC) / (atr * 10000))
}

// VolatilityRegime maps ATR expansion against its period mean into (-1, 1).
func VolatilityRegime(f *indicator.Frame, period int) float64 {
	if f == nil || period <= 0 || f.Len() < period {
		return 0
	}
	current := indicator.Last(f.ATR)
	avg := indicator.Mean(indicator.Tail(f.ATR, period))
	if math.IsNaN(current) || !usable(avg) {
		return 0
	}
	return finite(math.Tanh((current/avg - 1) * 2))
}

const noiseFloor = 1e-12

func usable(v float64) bool {
	return v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// finite maps NaN, Inf and float noise to 0 (no opinion).
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) < noiseFloor {
		return 0
	}
	return v
}
