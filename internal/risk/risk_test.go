package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-signals/internal/signal"
)

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) RecentResolved(ctx context.Context, limit int) ([]Trade, error) {
	args := m.Called(ctx, limit)
	trades, _ := args.Get(0).([]Trade)
	return trades, args.Error(1)
}

func (m *mockHistory) RecentDecided(ctx context.Context, limit int) ([]Trade, error) {
	args := m.Called(ctx, limit)
	trades, _ := args.Get(0).([]Trade)
	return trades, args.Error(1)
}

func trades(outcomes ...Outcome) []Trade {
	out := make([]Trade, len(outcomes))
	for i, o := range outcomes {
		r := -1.0
		if o == Win {
			r = 2.0
		} else if o == Breakeven {
			r = 0
		}
		out[i] = Trade{Outcome: o, RMultiple: r}
	}
	return out
}

func TestCalculateLotSize_MinLotFloor(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())
	d := m.CalculateLotSize(context.Background(), "EURUSD=X", 1.1000, 1.0950, 200, 2.0)

	assert.Equal(t, 0.01, d.Lots)
	assert.Equal(t, 50.0, d.Pips)
	assert.Equal(t, 5.0, d.RiskCash)
	assert.Equal(t, 2.5, d.RiskPercent)
	assert.NotEmpty(t, d.Warning, "minimum lot above the cap is flagged")
}

func TestCalculateLotSize_Normal(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())
	d := m.CalculateLotSize(context.Background(), "EURUSD=X", 1.1000, 1.0950, 10000, 2.0)

	assert.Equal(t, 0.4, d.Lots)
	assert.Equal(t, 200.0, d.RiskCash)
	assert.Equal(t, 2.0, d.RiskPercent)
	assert.Empty(t, d.Warning)
}

func TestCalculateLotSize_HighRiskWarning(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())
	// 500 pips on 0.01 lot is 50 cash, a quarter of the account.
	d := m.CalculateLotSize(context.Background(), "EURUSD=X", 1.1000, 1.0500, 200, 2.0)
	assert.Equal(t, 0.01, d.Lots)
	assert.Contains(t, d.Warning, "HIGH RISK")
}

func TestCalculateLotSize_ZeroDistance(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())
	d := m.CalculateLotSize(context.Background(), "EURUSD=X", 1.1, 1.1, 1000, 2.0)
	assert.Equal(t, 0.01, d.Lots)
	assert.Zero(t, d.RiskCash)
}

func TestCalculateLotSize_CapHoldsAcrossPipTable(t *testing.T) {
	h := &mockHistory{}
	h.On("RecentResolved", mock.Anything, 5).Return(trades(Win, Win, Win), nil)
	m := NewManager(DefaultConfig(), h, zerolog.Nop())

	cases := []struct {
		instrument  string
		entry, stop float64
	}{
		{"EURUSD=X", 1.1000, 1.0950},
		{"GBPUSD=X", 1.2700, 1.2655},
		{"AUDUSD=X", 0.6600, 0.6570},
		{"USDCAD=X", 1.3600, 1.3560},
		{"NZDUSD=X", 0.6100, 0.6075},
		{"USDJPY=X", 150.00, 149.40},
		{"GBPJPY=X", 190.00, 189.20},
		{"GC=F", 2300.0, 2290.0},
		{"CL=F", 80.00, 79.20},
		{"BTC-USD", 60000, 59000},
		{"^GSPC", 5200, 5180},
		{"^IXIC", 18000, 17900},
		{"XAGUSD=X", 27.0, 26.5},
	}
	for _, c := range cases {
		t.Run(c.instrument, func(t *testing.T) {
			d := m.CalculateLotSize(context.Background(), c.instrument, c.entry, c.stop, 1_000_000, 2.0)
			assert.LessOrEqual(t, d.RiskPercent, 2.0)
			assert.GreaterOrEqual(t, d.Lots, 0.01)
		})
	}
}

func TestStreakMultiplier(t *testing.T) {
	tests := []struct {
		name    string
		history []Trade
		err     error
		want    float64
	}{
		{"three wins", trades(Win, Win, Win, Loss), nil, 1.25},
		{"wins counted until breakeven", trades(Win, Loss, Win, Win), nil, 1.25},
		{"two losses", trades(Loss, Loss, Win), nil, 0.75},
		{"breakeven stops the count", trades(Loss, Breakeven, Loss), nil, 1.0},
		{"no history", nil, nil, 1.0},
		{"store error", nil, errors.New("db down"), 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &mockHistory{}
			h.On("RecentResolved", mock.Anything, 5).Return(tt.history, tt.err)
			m := NewManager(DefaultConfig(), h, zerolog.Nop())
			assert.Equal(t, tt.want, m.streakMultiplier(context.Background()))
			h.AssertExpectations(t)
		})
	}
}

func TestKellyFraction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseKelly = true

	t.Run("too few samples", func(t *testing.T) {
		h := &mockHistory{}
		h.On("RecentDecided", mock.Anything, 50).Return(trades(Win, Loss, Win), nil)
		m := NewManager(cfg, h, zerolog.Nop())
		assert.Zero(t, m.kellyFraction(context.Background()))
	})

	t.Run("no losses", func(t *testing.T) {
		h := &mockHistory{}
		h.On("RecentDecided", mock.Anything, 50).Return(trades(Win, Win, Win, Win, Win, Win, Win, Win, Win, Win), nil)
		m := NewManager(cfg, h, zerolog.Nop())
		assert.Zero(t, m.kellyFraction(context.Background()))
	})

	t.Run("edge is capped", func(t *testing.T) {
		// p=0.6, b=2: kelly=0.4, quarter kelly=0.1
		h := &mockHistory{}
		h.On("RecentDecided", mock.Anything, 50).Return(trades(Win, Win, Win, Win, Win, Win, Loss, Loss, Loss, Loss), nil)
		m := NewManager(cfg, h, zerolog.Nop())
		assert.InDelta(t, 0.1, m.kellyFraction(context.Background()), 1e-9)
	})

	t.Run("breakevens do not shrink the sample", func(t *testing.T) {
		h := &mockHistory{}
		h.On("RecentDecided", mock.Anything, 50).Return(trades(Win, Win, Win, Win, Win, Win, Loss, Loss, Loss, Loss), nil)
		m := NewManager(cfg, h, zerolog.Nop())
		assert.InDelta(t, 0.1, m.kellyFraction(context.Background()), 1e-9)
		h.AssertNotCalled(t, "RecentResolved", mock.Anything, 50)
	})

	t.Run("kelly shrinks risk", func(t *testing.T) {
		h := &mockHistory{}
		h.On("RecentDecided", mock.Anything, 50).Return(trades(Win, Win, Win, Win, Win, Win, Loss, Loss, Loss, Loss), nil)
		h.On("RecentResolved", mock.Anything, 5).Return(trades(Breakeven), nil)
		m := NewManager(cfg, h, zerolog.Nop())
		d := m.CalculateLotSize(context.Background(), "EURUSD=X", 1.1000, 1.0950, 100000, 2.0)
		// 2% * 0.1 = 0.2% of 100000 = 200 cash over 50 pips at 0.10
		assert.Equal(t, 0.4, d.Lots)
		assert.Equal(t, 0.2, d.RiskPercent)
	})
}

func TestCalculateLayers(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zerolog.Nop())

	top := m.CalculateLayers(1.0, 1.1000, 1.0900, signal.Buy, 8.5)
	require.Len(t, top, 3)
	assert.Equal(t, []float64{0.5, 0.3, 0.2}, []float64{top[0].Lots, top[1].Lots, top[2].Lots})
	assert.InDelta(t, 1.1000, top[0].Price, 1e-9)
	assert.InDelta(t, 1.0970, top[1].Price, 1e-9)
	assert.InDelta(t, 1.0940, top[2].Price, 1e-9)

	std := m.CalculateLayers(0.01, 80, 81, signal.Sell, 6)
	assert.Equal(t, []float64{0.01, 0.01, 0.01}, []float64{std[0].Lots, std[1].Lots, std[2].Lots})
	assert.InDelta(t, 80.3, std[1].Price, 1e-9)
	assert.InDelta(t, 80.6, std[2].Price, 1e-9)
	assert.Contains(t, std[0].Label, "40%")
}

func TestOptimalRR(t *testing.T) {
	tests := []struct {
		quality float64
		regime  string
		want    RR
	}{
		{5, "RANGING", RR{1.5, 3.0, 5.25}},
		{10, "TRENDING", RR{2.93, 5.85, 10.24}},
		{0, "CHOPPY", RR{0.6, 1.2, 2.1}},
		{7, "MIXED", RR{1.8, 3.6, 6.3}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OptimalRR(tt.quality, tt.regime), "%v %s", tt.quality, tt.regime)
	}
}

func TestPips(t *testing.T) {
	assert.InDelta(t, 50, Pips("EURUSD=X", 0.005), 1e-6)
	assert.InDelta(t, 60, Pips("USDJPY=X", -0.6), 1e-6)
	assert.InDelta(t, 1000, Pips("BTC-USD", 1000), 1e-6)
	assert.InDelta(t, 8, Pips("CL=F", 0.8), 1e-6)
	assert.InDelta(t, 100, Pips("GC=F", 10), 1e-6)
	assert.Equal(t, 0.001, PipValue("CL=F"))
	assert.Equal(t, 0.10, PipValue("UNKNOWN"))
	assert.Equal(t, 0.05, PipValue("^GSPC"))
}

func TestOutcomeOf(t *testing.T) {
	s := signal.Signal{
		Direction: signal.Buy, EntryPrice: 1.1, Stop: 1.095,
		Targets: [3]float64{1.105, 1.11, 1.12}, ResultState: signal.StateOpen,
	}
	_, ok := OutcomeOf(s)
	assert.False(t, ok, "open signals are not trades")

	tests := []struct {
		name  string
		state signal.ResultState
		max   int
		want  Trade
	}{
		{"final target", signal.StateTP3, 3, Trade{Outcome: Win, RMultiple: 4}},
		{"stop untouched", signal.StateSL, 0, Trade{Outcome: Loss, RMultiple: -1}},
		{"stop after tp1", signal.StateSL, 1, Trade{Outcome: Breakeven}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.ResultState, s.MaxTargetReached = tt.state, tt.max
			got, ok := OutcomeOf(s)
			require.True(t, ok)
			assert.Equal(t, tt.want.Outcome, got.Outcome)
			assert.InDelta(t, tt.want.RMultiple, got.RMultiple, 1e-9)
		})
	}
}
