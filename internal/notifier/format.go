package notifier

import (
	"fmt"
	"strings"

	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
)

const rule = "----------------------------------------"

// FormatSignal renders s as a plain-text message.
func FormatSignal(s *signal.Signal) string {
	var b strings.Builder
	win, lose := "+", "-"
	if s.Direction == signal.Sell {
		win, lose = "-", "+"
	}
	fmt.Fprintf(&b, "%s\nTRADE SIGNAL - %s\n%s\n", rule, s.StrategyType, rule)
	fmt.Fprintf(&b, "Symbol:       %s\n", s.Instrument)
	fmt.Fprintf(&b, "Direction:    %s\n", s.Direction)
	fmt.Fprintf(&b, "Timeframe:    %s\n", s.TimeframeLabel)
	fmt.Fprintf(&b, "Regime:       %s\n", s.RegimeLabel)
	fmt.Fprintf(&b, "Entry:        %.5f\n", s.EntryPrice)
	fmt.Fprintf(&b, "Stop Loss:    %.5f (%s%.1f pips)\n", s.Stop, lose, risk.Pips(s.Instrument, s.EntryPrice-s.Stop))
	exits := [3]string{"TP1 (50% Exit)", "TP2 (30% Exit)", "TP3 (20% Exit)"}
	for i, t := range s.Targets {
		fmt.Fprintf(&b, "%s: %.5f (%s%.1f pips)\n", exits[i], t, win, risk.Pips(s.Instrument, t-s.EntryPrice))
	}
	b.WriteString(rule + "\n")

	if len(s.Risk.Layers) > 0 {
		b.WriteString("Entry Layers:\n")
		for _, l := range s.Risk.Layers {
			fmt.Fprintf(&b, "  * %s: %.2f lots @ %.5f\n", l.Label, l.Lots, l.Price)
		}
		b.WriteString(rule + "\n")
	}
	fmt.Fprintf(&b, "Position Size: %.2f lots\n", s.Risk.Lots)
	fmt.Fprintf(&b, "Risk Amount:   $%.2f (%.2f%%)\n", s.Risk.RiskCash, s.Risk.RiskPercent)
	if s.Risk.Warning != "" {
		fmt.Fprintf(&b, "Warning: %s\n", s.Risk.Warning)
	}
	fmt.Fprintf(&b, "Quality:       %.1f/10\n", s.QualityScore)
	fmt.Fprintf(&b, "Alpha Score:   %.2f (%s)\n", s.Confidence, strength(s.Confidence))
	if s.ExpectedHold != "" {
		fmt.Fprintf(&b, "Hold:          %s\n", s.ExpectedHold)
	}
	if s.Reasoning != "" {
		fmt.Fprintf(&b, "Why: %s\n", s.Reasoning)
	}
	b.WriteString(rule)
	return b.String()
}

func strength(confidence float64) string {
	switch {
	case confidence > 1.5:
		return "STRONG"
	case confidence > 1.0:
		return "MODERATE"
	default:
		return "WEAK"
	}
}

// FormatResolution renders a tracker transition.
func FormatResolution(s signal.Signal) string {
	switch s.ResultState {
	case signal.StateTP3:
		return fmt.Sprintf("%s %s #%d closed at TP3 (%.5f)", s.Instrument, s.Direction, s.ID, s.Targets[2])
	case signal.StateSL:
		if s.MaxTargetReached > 0 {
			return fmt.Sprintf("%s %s #%d stopped at breakeven after TP%d", s.Instrument, s.Direction, s.ID, s.MaxTargetReached)
		}
		return fmt.Sprintf("%s %s #%d stopped out (%.5f)", s.Instrument, s.Direction, s.ID, s.Stop)
	default:
		return fmt.Sprintf("%s %s #%d reached TP%d", s.Instrument, s.Direction, s.ID, s.MaxTargetReached)
	}
}
