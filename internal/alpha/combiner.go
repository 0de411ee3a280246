package alpha

import (
	"math"

	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/regime"
)

// ClipLimit bounds each factor before weighting.
const ClipLimit = 4.0

// Weights multiply the factors of a FactorSet.
type Weights struct {
	Velocity   float64 `yaml:"velocity"`
	ZScore     float64 `yaml:"zscore"`
	Momentum   float64 `yaml:"momentum"`
	Volatility float64 `yaml:"volatility"`
}

func (w Weights) values() [4]float64 {
	return [4]float64{w.Velocity, w.ZScore, w.Momentum, w.Volatility}
}

// Source tells which branch of the table served a lookup.
type Source string

const (
	SourceInstrument Source = "instrument"
	SourceGlobal     Source = "global"
	SourceDefault    Source = "default"
)

type overrideKey struct {
	instrument string
	regime     regime.Regime
}

// WeightTable resolves weights by (instrument, regime), then by regime, then
// falls back to an explicit default entry.
type WeightTable struct {
	global    map[regime.Regime]Weights
	overrides map[overrideKey]Weights
	fallback  Weights
}

// DefaultWeightTable is the table every policy uses unless configured.
func DefaultWeightTable() *WeightTable {
	return &WeightTable{
		global: map[regime.Regime]Weights{
			regime.Trending: {Velocity: 0.7, ZScore: 0.1, Momentum: 0.2, Volatility: 0.0},
			regime.Ranging:  {Velocity: 0.3, ZScore: 0.5, Momentum: 0.1, Volatility: 0.1},
		},
		overrides: map[overrideKey]Weights{},
		fallback:  Weights{Velocity: 0.4, ZScore: 0.5, Momentum: 0.05, Volatility: 0.05},
	}
}

// SetGlobal replaces the weights for one regime.
func (t *WeightTable) SetGlobal(r regime.Regime, w Weights) { t.global[r] = w }

// SetOverride installs instrument-specific weights for one regime.
func (t *WeightTable) SetOverride(instrument string, r regime.Regime, w Weights) {
	t.overrides[overrideKey{instrument, r}] = w
}

// Lookup returns the weights for (instrument, r) and the branch that served them.
func (t *WeightTable) Lookup(instrument string, r regime.Regime) (Weights, Source) {
	if w, ok := t.overrides[overrideKey{instrument, r}]; ok {
		return w, SourceInstrument
	}
	if w, ok := t.global[r]; ok {
		return w, SourceGlobal
	}
	return t.fallback, SourceDefault
}

// Combined is the folded signal for one evaluation.
type Combined struct {
	Value   float64
	Quality float64
	Regime  regime.Regime
	Source  Source
}

// Combiner applies a WeightTable to factor sets.
type Combiner struct {
	table *WeightTable
}

func NewCombiner(table *WeightTable) *Combiner {
	if table == nil {
		table = DefaultWeightTable()
	}
	return &Combiner{table: table}
}

// Combine is the weighted sum of the clipped factors, rounded to 4 places.
func (c *Combiner) Combine(fs FactorSet, r regime.Regime, instrument string) Combined {
	w, src := c.table.Lookup(instrument, r)
	fv, wv := fs.values(), w.values()
	var total float64
	for i := range fv {
		total += clip(fv[i]) * wv[i]
	}
	value := indicator.Round(total, 4)
	return Combined{Value: value, Quality: QualityScore(fs, value), Regime: r, Source: src}
}

// QualityScore rates factor agreement and signal strength on [0, 10].
func QualityScore(fs FactorSet, value float64) float64 {
	var pos, neg int
	for _, v := range fs.values() {
		switch {
		case v > 0:
			pos++
		case v < 0:
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	alignment := 0.5
	if pos == 0 || neg == 0 {
		alignment = 1.0
	}
	strength := math.Min(math.Abs(value)/2.0, 1.0)
	return indicator.Round((alignment*0.6+strength*0.4)*10.0, 2)
}

func clip(v float64) float64 {
	return math.Max(math.Min(v, ClipLimit), -ClipLimit)
}
