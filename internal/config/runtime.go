package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrConfigMissing = errors.New("runtime config key missing")

// Status is the operator switch for signal generation.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusPaused Status = "PAUSED"
)

// Runtime config keys in the system_config store.
const (
	KeySystemStatus        = "system_status"
	KeyRiskPerTrade        = "risk_per_trade"
	KeyMaxConcurrentTrades = "max_concurrent_trades"
	KeyMinQualityScore     = "min_quality_score"
	KeyNewsFilterMinutes   = "news_filter_minutes"
)

// Entry is one key/value/type row of the runtime store.
type Entry struct {
	Key   string
	Value string
	Type  string // "str", "int", "float" or "bool"
}

// Runtime is a typed snapshot of the runtime store taken at cycle start.
type Runtime struct {
	SystemStatus        Status
	RiskPerTrade        float64
	MaxConcurrentTrades int
	MinQualityScore     float64
	NewsFilterMinutes   int
}

func DefaultRuntime() Runtime {
	return Runtime{
		SystemStatus:        StatusActive,
		RiskPerTrade:        2.0,
		MaxConcurrentTrades: 4,
		MinQualityScore:     5.0,
		NewsFilterMinutes:   30,
	}
}

// DefaultEntries seeds an empty store.
func DefaultEntries() []Entry {
	d := DefaultRuntime()
	return []Entry{
		{KeySystemStatus, string(d.SystemStatus), "str"},
		{KeyRiskPerTrade, strconv.FormatFloat(d.RiskPerTrade, 'f', -1, 64), "float"},
		{KeyMaxConcurrentTrades, strconv.Itoa(d.MaxConcurrentTrades), "int"},
		{KeyMinQualityScore, strconv.FormatFloat(d.MinQualityScore, 'f', -1, 64), "float"},
		{KeyNewsFilterMinutes, strconv.Itoa(d.NewsFilterMinutes), "int"},
	}
}

func (r Runtime) Paused() bool { return r.SystemStatus != StatusActive }

func (r Runtime) NewsWindow() time.Duration {
	return time.Duration(r.NewsFilterMinutes) * time.Minute
}

// ParseRuntime builds a snapshot from stored entries. Missing or malformed
// keys keep their defaults and are returned as warnings. Unknown keys are
// ignored.
func ParseRuntime(entries []Entry) (Runtime, []error) {
	r := DefaultRuntime()
	seen := map[string]bool{}
	var warnings []error

	for _, e := range entries {
		var err error
		switch e.Key {
		case KeySystemStatus:
			switch s := Status(strings.ToUpper(strings.TrimSpace(e.Value))); s {
			case StatusActive, StatusPaused:
				r.SystemStatus = s
			default:
				err = fmt.Errorf("unknown status %q", e.Value)
			}
		case KeyRiskPerTrade:
			err = parseFloat(e.Value, &r.RiskPerTrade)
		case KeyMaxConcurrentTrades:
			err = parseInt(e.Value, &r.MaxConcurrentTrades)
		case KeyMinQualityScore:
			err = parseFloat(e.Value, &r.MinQualityScore)
		case KeyNewsFilterMinutes:
			err = parseInt(e.Value, &r.NewsFilterMinutes)
		default:
			continue
		}
		seen[e.Key] = true
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w, using default", e.Key, err))
		}
	}

	for _, k := range []string{KeySystemStatus, KeyRiskPerTrade, KeyMaxConcurrentTrades, KeyMinQualityScore, KeyNewsFilterMinutes} {
		if !seen[k] {
			warnings = append(warnings, fmt.Errorf("%w: %s, using default", ErrConfigMissing, k))
		}
	}
	return r, warnings
}

func parseFloat(s string, dst *float64) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func parseInt(s string, dst *int) error {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
