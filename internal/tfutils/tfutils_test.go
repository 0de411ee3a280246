package tfutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	d, err := ParseTimeframe("5m")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	_, err = ParseTimeframe("7m")
	assert.ErrorIs(t, err, ErrUnsupportedTimeframe)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "M5", Label("5m"))
	assert.Equal(t, "H1", Label("1h"))
	assert.Equal(t, "weird", Label("weird"))
}

func TestNextClose(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		timeframe string
		want      time.Time
	}{
		{"mid m5 candle", time.Date(2024, 3, 4, 10, 7, 30, 0, time.UTC), "5m", time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)},
		{"on boundary", time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC), "5m", time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)},
		{"h1", time.Date(2024, 3, 4, 10, 59, 59, 0, time.UTC), "1h", time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)},
		{"unknown", time.Date(2024, 3, 4, 10, 7, 0, 0, time.UTC), "x", time.Date(2024, 3, 4, 10, 7, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextClose(tt.now, tt.timeframe))
		})
	}
}
