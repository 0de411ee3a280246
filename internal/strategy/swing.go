package strategy

import (
	"github.com/amirphl/quant-signals/internal/alpha"
	"github.com/amirphl/quant-signals/internal/regime"
)

const SwingID = "swing_quant_h1"

// NewSwing holds H1 positions for days. JPY crosses use a stricter
// threshold, a tighter stop and an unscaled target ladder.
func NewSwing(deps Deps) Policy {
	return &quantPolicy{
		id:        SwingID,
		name:      "Swing Quant (H1 Position)",
		timeframe: TimeframeH1,
		label:     "H1",
		tradeType: "SWING",
		hold:      "1-7 days",
		minBars:   200,
		periods: alpha.Periods{
			Velocity:      50,
			ZScore:        200,
			MomentumShort: 20,
			MomentumLong:  60,
			Volatility:    100,
		},
		thresholds: map[regime.Regime]float64{
			regime.Trending: 0.8,
			regime.Ranging:  0.85,
			regime.Choppy:   0.95,
		},
		otherwise:  0.85,
		minQuality: 5.0,
		base:       tuning{stopATR: 3.0, rrScale: 1.5},
		jpy:        &tuning{threshold: 0.90, stopATR: 2.5, rrScale: 1.0},
		deps:       deps.withDefaults(),
	}
}
