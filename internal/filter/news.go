package filter

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Event is one economic calendar entry.
type Event struct {
	Title    string    `json:"title"`
	Country  string    `json:"country"`
	Impact   string    `json:"impact"`
	Date     time.Time `json:"date"`
	Forecast string    `json:"forecast"`
	Previous string    `json:"previous"`
}

// ActiveEvent is an event inside the wash zone around now.
type ActiveEvent struct {
	Title       string
	Impact      string
	Time        time.Time
	MinutesAway float64
	Bias        Trend
}

type NewsFilter struct {
	Window        time.Duration
	TrackedImpact []string
	BlockImpact   string
}

func NewNewsFilter(window time.Duration) *NewsFilter {
	return &NewsFilter{Window: window, TrackedImpact: []string{"High", "Medium"}, BlockImpact: "High"}
}

// Currencies splits an FX symbol into its two legs ("EURUSD=X" -> EUR, USD).
func Currencies(instrument string) []string {
	s := strings.TrimSuffix(instrument, "=X")
	if len(s) != 6 {
		return nil
	}
	return []string{s[:3], s[3:]}
}

// Upcoming returns tracked events for either currency of instrument within
// the window on both sides of now.
func (n *NewsFilter) Upcoming(events []Event, instrument string, now time.Time) []ActiveEvent {
	currencies := Currencies(instrument)
	if len(currencies) == 0 {
		return nil
	}
	var out []ActiveEvent
	for _, ev := range events {
		if ev.Country != currencies[0] && ev.Country != currencies[1] {
			continue
		}
		if !n.tracked(ev.Impact) || ev.Date.IsZero() {
			continue
		}
		diff := ev.Date.Sub(now)
		if math.Abs(diff.Minutes()) > n.Window.Minutes() {
			continue
		}
		out = append(out, ActiveEvent{
			Title:       ev.Title,
			Impact:      ev.Impact,
			Time:        ev.Date.UTC(),
			MinutesAway: math.Round(diff.Minutes()*10) / 10,
			Bias:        SentimentBias(ev),
		})
	}
	return out
}

// Safe is false when a blocking-impact event is inside the window.
func (n *NewsFilter) Safe(events []Event, instrument string, now time.Time) bool {
	for _, ev := range n.Upcoming(events, instrument, now) {
		if ev.Impact == n.BlockImpact {
			return false
		}
	}
	return true
}

func (n *NewsFilter) tracked(impact string) bool {
	for _, lvl := range n.TrackedImpact {
		if lvl == impact {
			return true
		}
	}
	return false
}

var (
	bullishIfHigher = []string{"GDP", "CPI", "Retail Sales", "Employment Change", "Interest Rate", "PMI", "Consumer Confidence", "Trade Balance", "PPI"}
	bullishIfLower  = []string{"Unemployment Rate", "Jobless Claims", "Claimant Count Change"}
)

// SentimentBias predicts the currency reaction from forecast vs previous.
func SentimentBias(ev Event) Trend {
	forecast, ok1 := parseFigure(ev.Forecast)
	previous, ok2 := parseFigure(ev.Previous)
	if !ok1 || !ok2 {
		return Neutral
	}
	if containsAny(ev.Title, bullishIfHigher) {
		if forecast > previous {
			return Bullish
		}
		if forecast < previous {
			return Bearish
		}
	}
	if containsAny(ev.Title, bullishIfLower) {
		if forecast < previous {
			return Bullish
		}
		if forecast > previous {
			return Bearish
		}
	}
	return Neutral
}

func parseFigure(s string) (float64, bool) {
	s = strings.NewReplacer("%", "", "K", "", "M", "", "B", "", ",", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
