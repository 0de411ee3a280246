package pattern

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-signals/internal/candle"
)

func bar(open, high, low, close float64) candle.Candle {
	return candle.Candle{
		Timestamp: time.Date(2024, 6, 4, 14, 0, 0, 0, time.UTC),
		Open:      open, High: high, Low: low, Close: close,
		Symbol: "CL=F", Timeframe: "1h",
	}
}

func TestStopHunt_Check(t *testing.T) {
	s := NewStopHunt()
	tests := []struct {
		name    string
		c       candle.Candle
		atr     float64
		want    bool
		wantDir PatternType
	}{
		{"upper wick rejection", bar(80.0, 81.5, 79.9, 80.1), 0.5, true, PatternTypeBearish},
		{"lower wick rejection", bar(80.1, 80.2, 78.5, 80.0), 0.5, true, PatternTypeBullish},
		{"wick shorter than atr", bar(80.0, 80.4, 79.9, 80.1), 0.5, false, ""},
		{"body too large", bar(80.0, 81.5, 79.9, 81.0), 0.5, false, ""},
		{"no atr", bar(80.0, 81.5, 79.9, 80.1), math.NaN(), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := s.Check(tt.c, tt.atr)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, tt.wantDir, m.Direction)
				assert.Greater(t, m.Strength, 0.0)
				assert.LessOrEqual(t, m.Strength, 1.0)
			}
		})
	}
}

func TestStopHunt_Detect(t *testing.T) {
	s := NewStopHunt()
	candles := []candle.Candle{
		bar(80.0, 80.4, 79.9, 80.1),
		bar(80.0, 81.5, 79.9, 80.1),
		{Open: -1},
	}
	matches, err := s.Detect(candles, []float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].Index)
	assert.Equal(t, "Stop Hunt", matches[0].Pattern)

	_, err = s.Detect(candles, []float64{0.5})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestMeanRange(t *testing.T) {
	candles := []candle.Candle{bar(1, 2, 1, 1.5), bar(1, 4, 1, 1.5), bar(1, 3, 1, 1.5)}
	assert.InDelta(t, 2.5, MeanRange(candles, 2), 1e-9)
	assert.InDelta(t, 2.0, MeanRange(candles, 10), 1e-9)
	assert.True(t, math.IsNaN(MeanRange(nil, 5)))
}
