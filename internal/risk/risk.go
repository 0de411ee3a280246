// Package risk sizes positions from stop distance and recent performance.
package risk

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/amirphl/quant-signals/internal/signal"
)

type Outcome string

const (
	Win       Outcome = "WIN"
	Loss      Outcome = "LOSS"
	Breakeven Outcome = "BREAKEVEN"
)

// Trade is one resolved recommendation.
type Trade struct {
	Outcome   Outcome
	RMultiple float64
}

// History supplies resolved trades, newest first.
type History interface {
	RecentResolved(ctx context.Context, limit int) ([]Trade, error)
	// RecentDecided skips breakevens, so limit counts wins and losses only.
	RecentDecided(ctx context.Context, limit int) ([]Trade, error)
}

type Config struct {
	BaseRiskPercent float64 `yaml:"base_risk_percent" default:"2.0" validate:"gt=0,lte=100"`
	MaxRiskPercent  float64 `yaml:"max_risk_percent" default:"2.0" validate:"gt=0,lte=100"`
	HighRiskPercent float64 `yaml:"high_risk_percent" default:"10" validate:"gt=0"`
	MinLot          float64 `yaml:"min_lot" default:"0.01" validate:"gt=0"`
	LotStep         float64 `yaml:"lot_step" default:"0.01" validate:"gt=0"`
	UseKelly        bool    `yaml:"use_kelly"`
	KellyLookback   int     `yaml:"kelly_lookback" default:"50"`
	KellyMinSamples int     `yaml:"kelly_min_samples" default:"10"`
	StreakLookback  int     `yaml:"streak_lookback" default:"5"`
	TopTierQuality  float64 `yaml:"top_tier_quality" default:"8.0"`
}

func DefaultConfig() Config {
	return Config{
		BaseRiskPercent: 2.0,
		MaxRiskPercent:  2.0,
		HighRiskPercent: 10,
		MinLot:          0.01,
		LotStep:         0.01,
		KellyLookback:   50,
		KellyMinSamples: 10,
		StreakLookback:  5,
		TopTierQuality:  8.0,
	}
}

// pip value of one lot step (0.01 lot) per asset key.
var pipValues = map[string]float64{
	"EURUSD":  0.10,
	"GBPUSD":  0.10,
	"AUDUSD":  0.10,
	"USDCAD":  0.075,
	"NZDUSD":  0.10,
	"USDJPY":  0.065,
	"GBPJPY":  0.065,
	"GC":      0.10,
	"CL":      0.001,
	"BTC-USD": 0.0001,
	"GSPC":    0.05,
	"IXIC":    0.05,
}

const (
	defaultPipValue = 0.10
	// absorbs float noise in pip distances such as 1.1000-1.0950
	capTolerance = 1e-9
)

// PipValue returns the cash value of one pip on 0.01 lot.
func PipValue(instrument string) float64 {
	key := strings.NewReplacer("=X", "", "=F", "", "^", "").Replace(instrument)
	if v, ok := pipValues[key]; ok {
		return v
	}
	return defaultPipValue
}

// Pips converts a price distance into instrument pips.
func Pips(instrument string, distance float64) float64 {
	distance = math.Abs(distance)
	switch {
	case strings.Contains(instrument, "JPY"):
		return distance * 100
	case strings.Contains(instrument, "BTC"):
		return distance
	case strings.Contains(instrument, "CL"):
		return distance * 10
	case strings.Contains(instrument, "GC"), strings.Contains(instrument, "GSPC"), strings.Contains(instrument, "IXIC"):
		return distance * 10
	default:
		return distance * 10000
	}
}

type Manager struct {
	cfg     Config
	history History
	log     zerolog.Logger
}

// NewManager returns a Manager. history may be nil, which disables streak
// and Kelly adjustments.
func NewManager(cfg Config, history History, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, history: history, log: log.With().Str("component", "risk").Logger()}
}

func (m *Manager) Config() Config { return m.cfg }

// CalculateLotSize sizes a position so that a stop-out loses baseRiskPct of
// balance (adjusted by streak and Kelly), never more than the configured cap
// unless the minimum lot alone exceeds it.
func (m *Manager) CalculateLotSize(ctx context.Context, instrument string, entry, stop, balance, baseRiskPct float64) signal.RiskDetails {
	if baseRiskPct <= 0 {
		baseRiskPct = m.cfg.BaseRiskPercent
	}
	multiplier := m.streakMultiplier(ctx)

	riskPct := baseRiskPct
	if m.cfg.UseKelly {
		if f := m.kellyFraction(ctx); f > 0 {
			riskPct = math.Min(baseRiskPct*f, baseRiskPct*2)
		}
	}
	riskAmount := balance * (riskPct / 100) * multiplier

	pips := Pips(instrument, entry-stop)
	if pips == 0 || balance <= 0 {
		return signal.RiskDetails{Lots: m.cfg.MinLot}
	}
	pipVal := PipValue(instrument)

	lots := m.lotsFor(riskAmount, pipVal, pips)
	actualRisk := lots / m.cfg.LotStep * pipVal * pips
	actualPct := actualRisk / balance * 100

	if actualPct > m.cfg.MaxRiskPercent+capTolerance {
		lots = m.cappedLots(balance*(m.cfg.MaxRiskPercent/100), pipVal, pips)
		actualRisk = lots / m.cfg.LotStep * pipVal * pips
		actualPct = actualRisk / balance * 100
	}

	details := signal.RiskDetails{
		Lots:        lots,
		RiskCash:    round(actualRisk, 2),
		RiskPercent: round(actualPct, 1),
		Pips:        round(pips, 1),
	}
	switch {
	case actualRisk > balance*m.cfg.HighRiskPercent/100:
		details.Warning = fmt.Sprintf("HIGH RISK: stop risks %.1f%% of a %.2f account", actualPct, balance)
	case actualPct > m.cfg.MaxRiskPercent+capTolerance:
		details.Warning = fmt.Sprintf("minimum lot %.2f risks %.1f%%, above the %.1f%% cap", m.cfg.MinLot, actualPct, m.cfg.MaxRiskPercent)
	}
	return details
}

func (m *Manager) lotsFor(riskAmount, pipVal, pips float64) float64 {
	return math.Max(round(riskAmount/(pipVal*pips)*m.cfg.LotStep, 2), m.cfg.MinLot)
}

// cappedLots rounds down so the recomputed risk never lands above the cap.
func (m *Manager) cappedLots(capAmount, pipVal, pips float64) float64 {
	raw := decimal.NewFromFloat(capAmount/(pipVal*pips)*m.cfg.LotStep + capTolerance)
	return math.Max(raw.RoundFloor(2).InexactFloat64(), m.cfg.MinLot)
}

// streakMultiplier counts wins and losses among the most recent trades up
// to the first breakeven.
func (m *Manager) streakMultiplier(ctx context.Context) float64 {
	trades := m.recent(ctx, m.cfg.StreakLookback)
	var wins, losses int
	for _, t := range trades {
		if t.Outcome == Breakeven {
			break
		}
		if t.Outcome == Win {
			wins++
		} else {
			losses++
		}
	}
	switch {
	case wins >= 3:
		return 1.25
	case losses >= 2:
		return 0.75
	default:
		return 1.0
	}
}

// kellyFraction is 25% of full Kelly, capped at 10% of capital. Zero when
// there is too little history or no losing trade.
func (m *Manager) kellyFraction(ctx context.Context) float64 {
	decided := m.decided(ctx, m.cfg.KellyLookback)
	if len(decided) < m.cfg.KellyMinSamples {
		return 0
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, t := range decided {
		if t.Outcome == Win {
			wins++
			winSum += t.RMultiple
		} else {
			losses++
			lossSum += t.RMultiple
		}
	}
	if losses == 0 {
		return 0
	}
	avgWin := 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	avgLoss := math.Abs(lossSum / float64(losses))
	if avgLoss == 0 || avgWin == 0 {
		return 0
	}
	p := float64(wins) / float64(len(decided))
	b := avgWin / avgLoss
	kelly := (p*b - (1 - p)) / b
	return math.Max(0, math.Min(kelly*0.25, 0.1))
}

func (m *Manager) recent(ctx context.Context, limit int) []Trade {
	if m.history == nil || limit <= 0 {
		return nil
	}
	trades, err := m.history.RecentResolved(ctx, limit)
	if err != nil {
		m.log.Warn().Err(err).Msg("recent trades unavailable, sizing without history")
		return nil
	}
	return trades
}

func (m *Manager) decided(ctx context.Context, limit int) []Trade {
	if m.history == nil || limit <= 0 {
		return nil
	}
	trades, err := m.history.RecentDecided(ctx, limit)
	if err != nil {
		m.log.Warn().Err(err).Msg("decided trades unavailable, sizing without kelly")
		return nil
	}
	return trades
}

// CalculateLayers splits totalLots over three entries at entry and 30% / 60%
// of the stop distance. Top-tier quality loads 50/30/20, otherwise 40/40/20.
func (m *Manager) CalculateLayers(totalLots, entry, stop float64, dir signal.Direction, quality float64) []signal.Layer {
	splits := [3]float64{0.4, 0.4, 0.2}
	labels := [3]string{"Aggressive Layer (40%)", "Optimal Retest (40%)", "Safety Layer (20%)"}
	if quality >= m.cfg.TopTierQuality {
		splits = [3]float64{0.5, 0.3, 0.2}
		labels = [3]string{"Aggressive Layer (50%)", "Optimal Retest (30%)", "Safety Layer (20%)"}
	}
	dist := math.Abs(entry - stop)
	offsets := [3]float64{0, 0.3, 0.6}
	layers := make([]signal.Layer, 3)
	for i := range layers {
		layers[i] = signal.Layer{
			Label: labels[i],
			Price: entry - dir.Sign()*dist*offsets[i],
			Lots:  math.Max(m.cfg.MinLot, round(totalLots*splits[i], 2)),
		}
	}
	return layers
}

// RR is a reward:risk ladder for the three targets.
type RR struct {
	TP1, TP2, TP3 float64
}

var regimeRR = map[string]float64{
	"TRENDING": 1.3,
	"RANGING":  1.0,
	"CHOPPY":   0.8,
}

// OptimalRR widens targets for higher quality and trending regimes.
func OptimalRR(quality float64, regime string) RR {
	qm := math.Max(0.5, math.Min(1.5, 1.0+(quality-5.0)/10.0))
	rm, ok := regimeRR[regime]
	if !ok {
		rm = 1.0
	}
	base := 1.5 * qm * rm
	return RR{TP1: round(base, 2), TP2: round(base*2, 2), TP3: round(base*3.5, 2)}
}

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
