package tfutils

import (
	"errors"
	"time"
)

// ErrUnsupportedTimeframe is returned for timeframes outside the supported set.
var ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

// ParseTimeframe parses timeframe string (e.g., "5m", "1h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return 0, ErrUnsupportedTimeframe
	}
	return d, nil
}

// GetTimeframeDuration returns the duration for a given timeframe
func GetTimeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// Label returns the display label attached to signals ("5m" -> "M5").
func Label(timeframe string) string {
	switch timeframe {
	case "1m":
		return "M1"
	case "5m":
		return "M5"
	case "15m":
		return "M15"
	case "30m":
		return "M30"
	case "1h":
		return "H1"
	case "4h":
		return "H4"
	case "1d":
		return "D1"
	default:
		return timeframe
	}
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}

// IsValidTimeframe checks if a timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	return GetTimeframeDuration(timeframe) > 0
}

// NextClose returns the close time of the candle that is open at t.
// Candles are aligned to the Unix epoch in UTC.
func NextClose(t time.Time, timeframe string) time.Time {
	d := GetTimeframeDuration(timeframe)
	if d == 0 {
		return t
	}
	return t.UTC().Truncate(d).Add(d)
}
