package strategy

import (
	"github.com/amirphl/quant-signals/internal/alpha"
	"github.com/amirphl/quant-signals/internal/filter"
	"github.com/amirphl/quant-signals/internal/regime"
)

const IntradayID = "intraday_quant_m5"

// NewIntraday scalps M5 during the London open and the London/New York
// overlap with short lookbacks and a 1.6 ATR stop.
func NewIntraday(deps Deps) Policy {
	session := filter.IntradaySession()
	return &quantPolicy{
		id:        IntradayID,
		name:      "Intraday Quant (M5 Scalp)",
		timeframe: TimeframeM5,
		label:     "M5",
		tradeType: "SCALP",
		hold:      "4-8 hours",
		minBars:   100,
		periods: alpha.Periods{
			Velocity:      20,
			ZScore:        100,
			MomentumShort: 10,
			MomentumLong:  30,
			Volatility:    50,
		},
		thresholds: map[regime.Regime]float64{
			regime.Trending: 0.65,
			regime.Ranging:  0.80,
			regime.Choppy:   1.0,
		},
		otherwise:  0.72,
		minQuality: 5.0,
		base:       tuning{stopATR: 1.6, rrScale: 1.0},
		session:    &session,
		deps:       deps.withDefaults(),
	}
}
