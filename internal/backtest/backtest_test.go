package backtest

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-signals/internal/candle"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
	"github.com/amirphl/quant-signals/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// barClose is the close time of bar i of an hourly series starting at t0.
func barClose(i int) time.Time { return t0.Add(time.Duration(i+1) * time.Hour) }

// scriptedPolicy fires a fixed setup at given close times.
type scriptedPolicy struct {
	setups map[time.Time]signal.Signal
}

func (p *scriptedPolicy) ID() string           { return "scripted" }
func (p *scriptedPolicy) Name() string         { return "Scripted" }
func (p *scriptedPolicy) Timeframes() []string { return []string{strategy.TimeframeH1} }

func (p *scriptedPolicy) Analyze(ctx context.Context, in strategy.Input) (*signal.Signal, bool) {
	s, ok := p.setups[in.Now]
	if !ok {
		return nil, false
	}
	s.Instrument, s.CreatedAt, s.TimeframeLabel = in.Instrument, in.Now, "H1"
	return &s, true
}

func hourlySeries(t *testing.T, n int, special map[int][4]float64) *candle.Series {
	t.Helper()
	bars := make([]candle.Candle, n)
	for i := range bars {
		ohlc := [4]float64{100, 100.1, 99.9, 100}
		if v, ok := special[i]; ok {
			ohlc = v
		}
		bars[i] = candle.Candle{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3],
			Volume: 1, Symbol: "XAU", Timeframe: strategy.TimeframeH1,
		}
	}
	s, err := candle.NewSeries("XAU", strategy.TimeframeH1, bars)
	require.NoError(t, err)
	return s
}

func TestRun(t *testing.T) {
	policy := &scriptedPolicy{setups: map[time.Time]signal.Signal{
		barClose(249): {Direction: signal.Buy, EntryPrice: 100, Stop: 99, Targets: [3]float64{101, 102, 103}},
		barClose(270): {Direction: signal.Sell, EntryPrice: 100, Stop: 101, Targets: [3]float64{99, 98, 97}},
		barClose(280): {Direction: signal.Buy, EntryPrice: 100, Stop: 99, Targets: [3]float64{101, 102, 103}},
	}}
	series := hourlySeries(t, 300, map[int][4]float64{
		250: {100, 101.2, 99.9, 101},
		251: {101, 102.1, 100.5, 102},
		252: {102, 102.2, 98.5, 98.8},
		271: {100, 100.2, 96.5, 97},
	})

	r := New([]strategy.Policy{policy}, Options{Warmup: 200}, zerolog.Nop())
	res, err := r.Run(context.Background(), "XAU", map[string]*candle.Series{strategy.TimeframeH1: series})
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	first := res.Trades[0]
	assert.Equal(t, signal.StateSL, first.Signal.ResultState)
	assert.Equal(t, 2, first.Signal.MaxTargetReached, "stop after two targets keeps the mark")
	assert.Equal(t, risk.Breakeven, first.Outcome)
	assert.True(t, first.ClosedAt.Equal(barClose(252)))

	second := res.Trades[1]
	assert.Equal(t, signal.StateTP3, second.Signal.ResultState)
	assert.InDelta(t, 3.0, second.RMultiple, 1e-9)

	assert.Equal(t, 1, res.Open)
	assert.Equal(t, 1, res.Wins)
	assert.Equal(t, 1, res.Breakevens)
	assert.Zero(t, res.Losses)
	assert.InDelta(t, 3.0, res.TotalR, 1e-9)
	assert.InDelta(t, 0.5, res.Metrics["win_rate"], 1e-9)
	assert.Equal(t, []float64{0, 3}, res.EquityCurve)
}

func TestRun_Duplicates(t *testing.T) {
	setup := signal.Signal{Direction: signal.Buy, EntryPrice: 100, Stop: 99, Targets: [3]float64{101, 102, 103}}
	policy := &scriptedPolicy{setups: map[time.Time]signal.Signal{
		barClose(210): setup,
		barClose(211): setup, // inside the window
		barClose(220): setup,
	}}
	r := New([]strategy.Policy{policy}, Options{}, zerolog.Nop())
	res, err := r.Run(context.Background(), "XAU", map[string]*candle.Series{strategy.TimeframeH1: hourlySeries(t, 230, nil)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Open)
	assert.Empty(t, res.Trades)
}

func TestRun_NoData(t *testing.T) {
	r := New([]strategy.Policy{&scriptedPolicy{}}, Options{}, zerolog.Nop())
	_, err := r.Run(context.Background(), "XAU", nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRunUniverse(t *testing.T) {
	policy := &scriptedPolicy{setups: map[time.Time]signal.Signal{
		barClose(249): {Direction: signal.Sell, EntryPrice: 100, Stop: 101, Targets: [3]float64{99, 98, 97}},
	}}
	loss := hourlySeries(t, 260, map[int][4]float64{250: {100, 101.5, 99.95, 101}})
	r := New([]strategy.Policy{policy}, Options{}, zerolog.Nop())

	out, err := r.RunUniverse(context.Background(), map[string]map[string]*candle.Series{
		"XAU":   {strategy.TimeframeH1: loss},
		"EMPTY": {},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Successful)
	assert.Equal(t, 1, out.Failed)
	assert.InDelta(t, -1.0, out.OverallMetrics["total_r"], 1e-9)
	assert.InDelta(t, 1.0, out.OverallMetrics["worst_drawdown_r"], 1e-9)
}

func TestLoadCSV(t *testing.T) {
	in := `timestamp,open,high,low,close,volume
2024-01-01T00:00:00Z,1.1,1.2,1.0,1.15,10
1704070800,1.15,1.25,1.1,1.2
`
	s, err := LoadCSV(strings.NewReader(in), "EURUSD=X", "1h")
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, 10.0, s.At(0).Volume)
	assert.True(t, s.At(1).Timestamp.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "EURUSD=X", s.At(1).Symbol)

	_, err = LoadCSV(strings.NewReader("2024-01-01T00:00:00Z,1,x,1,1\n"), "EURUSD=X", "1h")
	assert.Error(t, err)

	_, err = LoadCSV(strings.NewReader("1704070800,1,1,1,1\n1704067200,1,1,1,1\n"), "EURUSD=X", "1h")
	assert.ErrorIs(t, err, candle.ErrOutOfOrder)
}

func TestSaveCSV(t *testing.T) {
	res := Results{Instrument: "XAU", Trades: []Trade{{
		Strategy: "scripted",
		Signal: signal.Signal{
			Direction: signal.Buy, EntryPrice: 100, Stop: 99,
			ResultState: signal.StateTP3, MaxTargetReached: 3,
		},
		OpenedAt: t0, ClosedAt: t0.Add(time.Hour), Outcome: risk.Win, RMultiple: 3,
	}}}
	var buf bytes.Buffer
	require.NoError(t, SaveCSV(&buf, res))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"XAU", "scripted", "BUY", "100.00000", "99.00000", "2024-01-01T00:00:00Z", "2024-01-01T01:00:00Z", "TP3", "3", "3.00"}, rows[1])
}
