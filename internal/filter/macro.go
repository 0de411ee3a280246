// Package filter holds the trade vetoes applied after a policy picks a
// direction: macro bias, economic news, trading session and market hours.
package filter

import (
	"math"

	"github.com/amirphl/quant-signals/internal/indicator"
	"github.com/amirphl/quant-signals/internal/signal"
)

type Trend string

const (
	Neutral Trend = "NEUTRAL"
	Bullish Trend = "BULLISH"
	Bearish Trend = "BEARISH"
)

type Risk string

const (
	RiskNeutral Risk = "NEUTRAL"
	RiskOn      Risk = "ON"
	RiskOff     Risk = "OFF"
)

// MacroBias is the dollar, yield and aggregate risk picture for one cycle.
type MacroBias struct {
	DXY  Trend
	TNX  Trend
	Risk Risk
}

// NeutralBias blocks nothing.
func NeutralBias() MacroBias {
	return MacroBias{DXY: Neutral, TNX: Neutral, Risk: RiskNeutral}
}

// NewMacroBias reads the dollar index and 10Y yield frames. A nil or short
// frame leaves its side NEUTRAL.
func NewMacroBias(dxy, tnx *indicator.Frame, emaPeriod int) MacroBias {
	b := NeutralBias()
	b.DXY = trendOf(dxy, emaPeriod)
	b.TNX = trendOf(tnx, emaPeriod)
	switch {
	case b.DXY == Bullish && b.TNX == Bullish:
		b.Risk = RiskOff
	case b.DXY == Bearish && b.TNX == Bearish:
		b.Risk = RiskOn
	}
	return b
}

func trendOf(f *indicator.Frame, emaPeriod int) Trend {
	if f == nil || f.Len() == 0 {
		return Neutral
	}
	ema := indicator.Last(f.EMA(emaPeriod))
	if math.IsNaN(ema) {
		return Neutral
	}
	if indicator.Last(f.Close) > ema {
		return Bullish
	}
	return Bearish
}

// MacroSafe reports whether a trade avoids a direct conflict with the bias.
// Instruments without a macro rule are always safe.
func MacroSafe(instrument string, dir signal.Direction, b MacroBias) bool {
	switch instrument {
	case "GC=F":
		if dir == signal.Buy {
			return b.TNX != Bullish
		}
		return b.TNX != Bearish
	case "EURUSD=X", "GBPUSD=X", "NZDUSD=X":
		if dir == signal.Buy {
			return b.DXY != Bullish
		}
		return b.DXY != Bearish
	case "^IXIC", "^GSPC":
		if dir == signal.Buy {
			return b.Risk != RiskOff
		}
		return b.Risk != RiskOn
	}
	return true
}
