// Package signal defines the persisted trade recommendation record.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign is +1 for BUY and -1 for SELL.
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

func (d Direction) Valid() bool { return d == Buy || d == Sell }

type ResultState string

const (
	StateOpen ResultState = "OPEN"
	StateSL   ResultState = "SL"
	StateTP3  ResultState = "TP3"
)

// Terminal reports whether no further transitions are allowed.
func (s ResultState) Terminal() bool { return s == StateSL || s == StateTP3 }

var ErrInvalidSignal = errors.New("invalid signal")

// Layer is one staged entry of a position.
type Layer struct {
	Label string  `json:"label"`
	Price float64 `json:"price"`
	Lots  float64 `json:"lots"`
}

// RiskDetails is the sizing attached to a signal.
type RiskDetails struct {
	Lots        float64 `json:"lots"`
	RiskCash    float64 `json:"risk_cash"`
	RiskPercent float64 `json:"risk_percent"`
	Pips        float64 `json:"pips"`
	Warning     string  `json:"warning,omitempty"`
	Layers      []Layer `json:"layers,omitempty"`
}

type Signal struct {
	ID               int64              `json:"id"`
	CreatedAt        time.Time          `json:"created_at"`
	Instrument       string             `json:"instrument"`
	Direction        Direction          `json:"direction"`
	EntryPrice       float64            `json:"entry_price"`
	Stop             float64            `json:"stop"`
	Targets          [3]float64         `json:"targets"`
	StrategyID       string             `json:"strategy_id"`
	StrategyType     string             `json:"strategy_type"`
	TimeframeLabel   string             `json:"timeframe_label"`
	QualityScore     float64            `json:"quality_score"`
	RegimeLabel      string             `json:"regime_label"`
	Confidence       float64            `json:"confidence"`
	ExpectedHold     string             `json:"expected_hold"`
	Reasoning        string             `json:"reasoning"`
	Risk             RiskDetails        `json:"risk_details"`
	ScoreDetails     map[string]float64 `json:"score_details"`
	ResultState      ResultState        `json:"result_state"`
	MaxTargetReached int                `json:"max_target_reached"`
	ClosedAt         *time.Time         `json:"closed_at,omitempty"`
}

// New returns s as an OPEN signal after validating its prices.
func New(s Signal) (*Signal, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.ResultState = StateOpen
	s.MaxTargetReached = 0
	s.ClosedAt = nil
	return &s, nil
}

// Validate checks direction and price geometry: the stop must sit on the
// losing side of entry and targets on the winning side, moving away from
// entry. Equal targets are allowed.
func (s *Signal) Validate() error {
	if s.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrInvalidSignal)
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	}
	prices := append([]float64{s.EntryPrice, s.Stop}, s.Targets[:]...)
	for _, p := range prices {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: non-positive price %v", ErrInvalidSignal, p)
		}
	}
	sign := s.Direction.Sign()
	if (s.EntryPrice-s.Stop)*sign <= 0 {
		return fmt.Errorf("%w: stop %v on wrong side of entry %v", ErrInvalidSignal, s.Stop, s.EntryPrice)
	}
	prev := s.EntryPrice
	for i, t := range s.Targets {
		if (t-prev)*sign < 0 || (t-s.EntryPrice)*sign <= 0 {
			return fmt.Errorf("%w: target %d (%v) out of order", ErrInvalidSignal, i, t)
		}
		prev = t
	}
	return nil
}

// Close marks the signal terminal at t.
func (s *Signal) Close(state ResultState, t time.Time) {
	s.ResultState = state
	s.ClosedAt = &t
}

// PipSize is the price granularity used when fingerprinting entries.
func PipSize(instrument string) float64 {
	switch {
	case strings.Contains(instrument, "JPY"):
		return 0.01
	case strings.Contains(instrument, "BTC"):
		return 1
	case strings.Contains(instrument, "CL"), strings.Contains(instrument, "GC"),
		strings.Contains(instrument, "GSPC"), strings.Contains(instrument, "IXIC"):
		return 0.1
	default:
		return 0.0001
	}
}

// Fingerprint identifies a recommendation for duplicate suppression. Entries
// are rounded to granularity pips of the instrument before hashing.
func Fingerprint(instrument string, dir Direction, entry float64, timeframeLabel string, granularity float64) string {
	step := PipSize(instrument) * granularity
	if step <= 0 {
		step = PipSize(instrument)
	}
	rounded := math.Round(entry/step) * step
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.6f|%s", instrument, dir, rounded, timeframeLabel)))
	return hex.EncodeToString(sum[:8])
}

// Fingerprint of s with the given rounding granularity in pips.
func (s *Signal) Fingerprint(granularity float64) string {
	return Fingerprint(s.Instrument, s.Direction, s.EntryPrice, s.TimeframeLabel, granularity)
}
