package alpha

import (
	"math"
	"testing"
	"time"

	"github.com/amirphl/quant-signals/internal/candle/candletest"
	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/regime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFrame(t *testing.T, n int, shape candletest.Shape) *indicator.Frame {
	t.Helper()
	end := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	f, err := indicator.Build(candletest.Series("EURUSD=X", "1h", end, n, shape, 0.0005), indicator.DefaultParams())
	require.NoError(t, err)
	return f
}

func TestCombiner_Combine(t *testing.T) {
	c := NewCombiner(nil)

	t.Run("trending global weights", func(t *testing.T) {
		got := c.Combine(FactorSet{Velocity: 0.8, ZScore: -2.0, Momentum: 0.6}, regime.Trending, "EURUSD=X")
		assert.Equal(t, 0.48, got.Value)
		assert.Equal(t, SourceGlobal, got.Source)
		assert.Equal(t, 3.96, got.Quality, "mixed signs keep alignment at 0.5")
	})

	t.Run("ranging", func(t *testing.T) {
		got := c.Combine(FactorSet{Velocity: 1, ZScore: 1, Momentum: 1, Volatility: 1}, regime.Ranging, "EURUSD=X")
		assert.InDelta(t, 1.0, got.Value, 1e-9)
	})

	t.Run("mixed falls to default entry", func(t *testing.T) {
		got := c.Combine(FactorSet{Velocity: 1, ZScore: 1}, regime.Mixed, "EURUSD=X")
		assert.InDelta(t, 0.9, got.Value, 1e-9)
		assert.Equal(t, SourceDefault, got.Source)
	})

	t.Run("factors are clipped", func(t *testing.T) {
		got := c.Combine(FactorSet{Velocity: 100}, regime.Trending, "EURUSD=X")
		assert.InDelta(t, 2.8, got.Value, 1e-9)
		got = c.Combine(FactorSet{Velocity: -100}, regime.Trending, "EURUSD=X")
		assert.InDelta(t, -2.8, got.Value, 1e-9)
	})

	t.Run("instrument override", func(t *testing.T) {
		table := DefaultWeightTable()
		table.SetOverride("GC=F", regime.Trending, Weights{Velocity: 1})
		oc := NewCombiner(table)
		got := oc.Combine(FactorSet{Velocity: 0.5, ZScore: 3}, regime.Trending, "GC=F")
		assert.InDelta(t, 0.5, got.Value, 1e-9)
		assert.Equal(t, SourceInstrument, got.Source)
		other := oc.Combine(FactorSet{Velocity: 0.5, ZScore: 3}, regime.Trending, "EURUSD=X")
		assert.Equal(t, SourceGlobal, other.Source)
	})
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		name  string
		fs    FactorSet
		value float64
		want  float64
	}{
		{"all zero", FactorSet{}, 0, 0},
		{"aligned strong", FactorSet{Velocity: 1, ZScore: 2, Momentum: 0.5}, 2.5, 10},
		{"aligned weak", FactorSet{Velocity: -1, ZScore: -2}, -1, 8},
		{"mixed strong", FactorSet{Velocity: 1, ZScore: -2}, 3, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QualityScore(tt.fs, tt.value))
		})
	}

	for _, v := range []float64{-1e9, -4, -0.3, 0, 0.01, 3, 1e9} {
		q := QualityScore(FactorSet{Velocity: v, ZScore: 1}, v)
		assert.GreaterOrEqual(t, q, 0.0)
		assert.LessOrEqual(t, q, 10.0)
	}
}

func TestFactors(t *testing.T) {
	t.Run("insufficient history is neutral", func(t *testing.T) {
		f := buildFrame(t, 30, candletest.Linear(1.1, 0.001))
		assert.Zero(t, Velocity(f, 50))
		assert.Zero(t, MeanReversionZScore(f, 100))
		assert.Zero(t, Momentum(f, 10, 60))
		assert.Zero(t, VolatilityRegime(f, 50))
		assert.Zero(t, Velocity(nil, 20))
	})

	t.Run("uptrend", func(t *testing.T) {
		f := buildFrame(t, 250, candletest.Linear(1.1, 0.001))
		atr := indicator.Last(f.ATR)
		assert.InDelta(t, 0.001/atr, Velocity(f, 20), 1e-6)
		assert.Greater(t, MeanReversionZScore(f, 100), 0.0)
		assert.InDelta(t, 0.0, VolatilityRegime(f, 50), 1e-6)
		assert.Less(t, Momentum(f, 10, 30), 0.0, "the long window has gained more than the short one")
	})

	t.Run("flat closes have zero stdev", func(t *testing.T) {
		f := buildFrame(t, 150, candletest.Flat(1.2))
		assert.Zero(t, MeanReversionZScore(f, 100))
		assert.Zero(t, Velocity(f, 20))
	})

	t.Run("flat feed carries no opinion at any price level", func(t *testing.T) {
		c := NewCombiner(nil)
		periods := Periods{Velocity: 20, ZScore: 100, MomentumShort: 10, MomentumLong: 30, Volatility: 50}
		for _, price := range []float64{1.095, 1.2, 150.25, 2350.1} {
			f := buildFrame(t, 250, candletest.Flat(price))
			fs := Compute(f, periods)
			assert.Equal(t, FactorSet{}, fs, "price %v", price)
			got := c.Combine(fs, regime.Ranging, "EURUSD=X")
			assert.Zero(t, got.Value, "price %v", price)
			assert.Zero(t, got.Quality, "price %v", price)
		}
	})

	t.Run("compute fills every factor", func(t *testing.T) {
		f := buildFrame(t, 250, candletest.Wave(1.2, 0.01, 40))
		fs := Compute(f, Periods{Velocity: 20, ZScore: 100, MomentumShort: 10, MomentumLong: 30, Volatility: 50})
		for name, v := range fs.Map() {
			assert.False(t, math.IsNaN(v), name)
		}
	})
}
