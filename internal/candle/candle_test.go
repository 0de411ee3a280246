package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandle(ts time.Time, o, h, l, c float64) Candle {
	return Candle{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: 10, Symbol: "EURUSD=X", Timeframe: "5m", Source: "test"}
}

func TestCandle_Validate(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		candle  Candle
		wantErr bool
	}{
		{"valid", testCandle(now, 1.1, 1.2, 1.0, 1.15), false},
		{"zero timestamp", testCandle(time.Time{}, 1.1, 1.2, 1.0, 1.15), true},
		{"high below low", testCandle(now, 1.1, 1.0, 1.2, 1.1), true},
		{"open outside range", testCandle(now, 1.3, 1.2, 1.0, 1.1), true},
		{"negative price", testCandle(now, -1, 1.2, 1.0, 1.1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.candle.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCandle_Geometry(t *testing.T) {
	c := testCandle(time.Now(), 1.10, 1.20, 1.05, 1.12)
	assert.InDelta(t, 0.02, c.Body(), 1e-9)
	assert.InDelta(t, 0.08, c.UpperWick(), 1e-9)
	assert.InDelta(t, 0.05, c.LowerWick(), 1e-9)
}

func TestCandle_IsComplete(t *testing.T) {
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	c := testCandle(start, 1.1, 1.2, 1.0, 1.15)
	assert.False(t, c.IsComplete(start.Add(4*time.Minute)))
	assert.True(t, c.IsComplete(start.Add(5*time.Minute)))
}

func TestNewSeries(t *testing.T) {
	start := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	bars := []Candle{
		testCandle(start, 1.1, 1.2, 1.0, 1.15),
		testCandle(start.Add(5*time.Minute), 1.15, 1.2, 1.1, 1.18),
	}

	s, err := NewSeries("EURUSD=X", "5m", bars)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []float64{1.15, 1.18}, s.Closes())
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 1.18, last.Close)
	assert.Equal(t, 1.15, s.At(-2).Close)

	t.Run("duplicate timestamp rejected", func(t *testing.T) {
		_, err := NewSeries("EURUSD=X", "5m", []Candle{bars[0], bars[0]})
		assert.ErrorIs(t, err, ErrOutOfOrder)
	})

	t.Run("out of order rejected", func(t *testing.T) {
		_, err := NewSeries("EURUSD=X", "5m", []Candle{bars[1], bars[0]})
		assert.ErrorIs(t, err, ErrOutOfOrder)
	})

	t.Run("wrong symbol rejected", func(t *testing.T) {
		err := s.Append(Candle{Symbol: "GBPUSD=X", Timeframe: "5m"})
		assert.ErrorIs(t, err, ErrMismatch)
	})

	t.Run("empty series", func(t *testing.T) {
		empty, err := NewSeries("EURUSD=X", "5m", nil)
		require.NoError(t, err)
		_, ok := empty.Last()
		assert.False(t, ok)
	})
}
