package risk

import (
	"math"

	"github.com/amirphl/quant-signals/internal/signal"
)

// OutcomeOf maps a terminal signal to a resolved trade. A stop after any
// target was touched counts as breakeven; the final target is a win worth
// its full reward:risk.
func OutcomeOf(s signal.Signal) (Trade, bool) {
	switch s.ResultState {
	case signal.StateTP3:
		r := 0.0
		if d := math.Abs(s.EntryPrice - s.Stop); d > 0 {
			r = math.Abs(s.Targets[2]-s.EntryPrice) / d
		}
		return Trade{Outcome: Win, RMultiple: r}, true
	case signal.StateSL:
		if s.MaxTargetReached >= 1 {
			return Trade{Outcome: Breakeven}, true
		}
		return Trade{Outcome: Loss, RMultiple: -1}, true
	}
	return Trade{}, false
}
