// Package regime classifies market state for a single frame and for the
// whole instrument universe.
package regime

import (
	"fmt"
	"math"

	"github.com/amirphl/quant-signals/internal/indicator"
)

type Regime string

const (
	Trending Regime = "TRENDING"
	Ranging  Regime = "RANGING"
	Choppy   Regime = "CHOPPY"
	Mixed    Regime = "MIXED"
)

func (r Regime) String() string { return string(r) }

// Config holds every threshold the detector uses.
type Config struct {
	MinBars       int     `yaml:"min_bars" default:"50" validate:"gt=0"`
	ATRWindow     int     `yaml:"atr_window" default:"50" validate:"gt=0"`
	ChopVolRatio  float64 `yaml:"chop_vol_ratio" default:"0.9"`
	ChopADX       float64 `yaml:"chop_adx" default:"20"`
	TrendVolRatio float64 `yaml:"trend_vol_ratio" default:"1.2"`
	TrendSlope    float64 `yaml:"trend_slope" default:"0.05"`
	TrendADX      float64 `yaml:"trend_adx" default:"25"`
	TagChopRatio  float64 `yaml:"tag_chop_ratio" default:"0.8"`

	UniverseTrendADX float64 `yaml:"universe_trend_adx" default:"25"`
	UniverseMixedADX float64 `yaml:"universe_mixed_adx" default:"20"`
	NeutralADX       float64 `yaml:"neutral_adx" default:"20"`
	TrendingQuality  float64 `yaml:"trending_quality" default:"5.0"`
	MixedQuality     float64 `yaml:"mixed_quality" default:"6.5"`
	RangingQuality   float64 `yaml:"ranging_quality" default:"8.0"`
}

func DefaultConfig() Config {
	return Config{
		MinBars:          50,
		ATRWindow:        50,
		ChopVolRatio:     0.9,
		ChopADX:          20,
		TrendVolRatio:    1.2,
		TrendSlope:       0.05,
		TrendADX:         25,
		TagChopRatio:     0.8,
		UniverseTrendADX: 25,
		UniverseMixedADX: 20,
		NeutralADX:       20,
		TrendingQuality:  5.0,
		MixedQuality:     6.5,
		RangingQuality:   8.0,
	}
}

type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Inputs are the three values Classify decides on.
type Inputs struct {
	VolRatio float64
	Slope    float64
	ADX      float64 // 0 means unavailable
}

// Measure extracts classification inputs from the last row of f.
func (d *Detector) Measure(f *indicator.Frame) (Inputs, bool) {
	if f == nil || f.Len() < d.cfg.MinBars {
		return Inputs{}, false
	}
	atrNow := indicator.Last(f.ATR)
	atrAvg := indicator.Last(f.ATRAvg)
	if f.ATRAvgPeriod() != d.cfg.ATRWindow {
		atrAvg = indicator.Mean(indicator.Tail(f.ATR, d.cfg.ATRWindow))
	}
	if math.IsNaN(atrNow) || math.IsNaN(atrAvg) {
		return Inputs{}, false
	}
	in := Inputs{VolRatio: 1.0, Slope: f.TrendSlope()}
	if atrAvg != 0 {
		in.VolRatio = atrNow / atrAvg
	}
	if adx := indicator.Last(f.ADX); !math.IsNaN(adx) {
		in.ADX = adx
	}
	return in, true
}

// Classify returns the regime of the most recent bar of f. Frames that are
// too short or lack ATR history are CHOPPY.
func (d *Detector) Classify(f *indicator.Frame) Regime {
	in, ok := d.Measure(f)
	if !ok {
		return Choppy
	}
	return d.Decide(in)
}

// Decide applies the threshold rules to measured inputs.
func (d *Detector) Decide(in Inputs) Regime {
	if in.VolRatio < d.cfg.ChopVolRatio || (in.ADX > 0 && in.ADX < d.cfg.ChopADX) {
		return Choppy
	}
	if in.VolRatio > d.cfg.TrendVolRatio && math.Abs(in.Slope) > d.cfg.TrendSlope {
		if in.ADX == 0 || in.ADX > d.cfg.TrendADX {
			return Trending
		}
	}
	return Ranging
}

// Tags labels every row of f from its vol ratio and trend EMA slope columns.
// Rows with NaN inputs are RANGING.
func (d *Detector) Tags(f *indicator.Frame) []Regime {
	out := make([]Regime, f.Len())
	for i := range out {
		out[i] = Ranging
		vr, slope := f.VolRatio[i], f.EMASlope[i]
		if vr > d.cfg.TrendVolRatio && math.Abs(slope) > d.cfg.TrendSlope {
			out[i] = Trending
		}
		if vr < d.cfg.TagChopRatio {
			out[i] = Choppy
		}
	}
	return out
}

// Result is the universe-wide regime and the quality floor it recommends.
type Result struct {
	Regime       Regime
	ADXAvg       float64
	QualityFloor float64
	Detail       string
}

// DetectUniverse averages the latest ADX of each frame. Frames without
// a usable ADX count as the neutral value.
func (d *Detector) DetectUniverse(frames map[string]*indicator.Frame) Result {
	var sum float64
	var n int
	for _, f := range frames {
		if f == nil || f.Len() == 0 {
			continue
		}
		adx := indicator.Last(f.ADX)
		if math.IsNaN(adx) {
			adx = d.cfg.NeutralADX
		}
		sum += indicator.Round(adx, 2)
		n++
	}
	if n == 0 {
		return Result{
			Regime:       Mixed,
			ADXAvg:       d.cfg.NeutralADX,
			QualityFloor: d.cfg.MixedQuality,
			Detail:       "no data, neutral defaults applied",
		}
	}

	avg := indicator.Round(sum/float64(n), 2)
	switch {
	case avg >= d.cfg.UniverseTrendADX:
		return Result{Trending, avg, d.cfg.TrendingQuality, fmt.Sprintf("ADX=%.1f, market is trending, standard quality filter", avg)}
	case avg >= d.cfg.UniverseMixedADX:
		return Result{Mixed, avg, d.cfg.MixedQuality, fmt.Sprintf("ADX=%.1f, market is mixed, moderate quality filter", avg)}
	default:
		return Result{Ranging, avg, d.cfg.RangingQuality, fmt.Sprintf("ADX=%.1f, market is ranging, strict quality filter", avg)}
	}
}
