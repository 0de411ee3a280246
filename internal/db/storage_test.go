package db

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-signals/internal/config"
	dbconf "github.com/amirphl/quant-signals/internal/db/conf"
	"github.com/amirphl/quant-signals/internal/journal"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// forEachStorage runs fn against the memory store and, when a local
// postgres is reachable, against a fresh database.
func forEachStorage(t *testing.T, fn func(t *testing.T, s Storage)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("postgres", func(t *testing.T) {
		cfg, cleanup := dbconf.NewTestConfig(t)
		defer cleanup()
		p, err := New(*cfg)
		require.NoError(t, err)
		fn(t, p)
	})
}

func sampleSignal(instrument string) *signal.Signal {
	return &signal.Signal{
		CreatedAt:      base,
		Instrument:     instrument,
		Direction:      signal.Buy,
		EntryPrice:     1.1000,
		Stop:           1.0950,
		Targets:        [3]float64{1.1050, 1.1100, 1.1200},
		StrategyID:     "swing_quant_h1",
		StrategyType:   "SWING",
		TimeframeLabel: "H1",
		QualityScore:   7.5,
		RegimeLabel:    "TRENDING",
		Confidence:     0.8,
		ExpectedHold:   "1-7 days",
		Reasoning:      "trend",
		Risk: signal.RiskDetails{
			Lots: 0.4, RiskCash: 200, RiskPercent: 2, Pips: 50,
			Layers: []signal.Layer{{Label: "L1", Price: 1.1, Lots: 0.4}},
		},
		ScoreDetails: map[string]float64{"signal": 1},
	}
}

func TestSignalStore(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		in := sampleSignal("EURUSD=X")
		in.ResultState = signal.StateSL

		id, err := st.InsertSignal(ctx, in)
		require.NoError(t, err)
		assert.Positive(t, id)
		assert.Equal(t, id, in.ID)

		got, err := st.GetSignal(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, signal.StateOpen, got.ResultState)
		assert.Zero(t, got.MaxTargetReached)
		assert.Nil(t, got.ClosedAt)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.Equal(t, in.Targets, got.Targets)
		assert.Equal(t, in.Risk, got.Risk)
		assert.Equal(t, in.ScoreDetails, got.ScoreDetails)
		assert.Equal(t, "SWING", got.StrategyType)

		_, err = st.GetSignal(ctx, id+100)
		assert.ErrorIs(t, err, ErrNotFound)

		bad := sampleSignal("EURUSD=X")
		bad.Stop = 1.2
		_, err = st.InsertSignal(ctx, bad)
		assert.ErrorIs(t, err, signal.ErrInvalidSignal)
	})
}

func TestUpdateProgress(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		id, err := st.InsertSignal(ctx, sampleSignal("EURUSD=X"))
		require.NoError(t, err)
		other, err := st.InsertSignal(ctx, sampleSignal("GC=F"))
		require.NoError(t, err)

		require.NoError(t, st.UpdateProgress(ctx, id, signal.StateOpen, 1, nil))
		assert.ErrorIs(t, st.UpdateProgress(ctx, id, signal.StateOpen, 0, nil), ErrNotFound, "max target never decreases")
		require.NoError(t, st.UpdateProgress(ctx, id, signal.StateOpen, 1, nil), "same level is a no-op write")

		closed := base.Add(time.Hour)
		require.NoError(t, st.UpdateProgress(ctx, id, signal.StateSL, 1, &closed))
		assert.ErrorIs(t, st.UpdateProgress(ctx, id, signal.StateTP3, 3, &closed), ErrNotFound, "terminal rows are frozen")
		assert.ErrorIs(t, st.UpdateProgress(ctx, 9999, signal.StateOpen, 1, nil), ErrNotFound)
		assert.Error(t, st.UpdateProgress(ctx, other, signal.StateOpen, 4, nil))

		got, err := st.GetSignal(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, signal.StateSL, got.ResultState)
		assert.Equal(t, 1, got.MaxTargetReached)
		require.NotNil(t, got.ClosedAt)
		assert.True(t, got.ClosedAt.Equal(closed))
		assert.Equal(t, 1.0950, got.Stop, "prices untouched")

		open, err := st.OpenSignals(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, other, open[0].ID)
	})
}

func TestRecentResolved(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		closeAs := func(state signal.ResultState, maxTarget int, at time.Time) {
			id, err := st.InsertSignal(ctx, sampleSignal("EURUSD=X"))
			require.NoError(t, err)
			require.NoError(t, st.UpdateProgress(ctx, id, state, maxTarget, &at))
		}
		closeAs(signal.StateSL, 0, base.Add(1*time.Hour))
		closeAs(signal.StateTP3, 3, base.Add(2*time.Hour))
		closeAs(signal.StateSL, 2, base.Add(3*time.Hour))
		_, err := st.InsertSignal(ctx, sampleSignal("GC=F"))
		require.NoError(t, err)

		trades, err := st.RecentResolved(ctx, 10)
		require.NoError(t, err)
		require.Len(t, trades, 3)
		assert.Equal(t, risk.Breakeven, trades[0].Outcome)
		assert.Zero(t, trades[0].RMultiple)
		assert.Equal(t, risk.Win, trades[1].Outcome)
		assert.InDelta(t, 4.0, trades[1].RMultiple, 1e-9)
		assert.Equal(t, risk.Loss, trades[2].Outcome)
		assert.Equal(t, -1.0, trades[2].RMultiple)

		trades, err = st.RecentResolved(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, trades, 1)

		decided, err := st.RecentDecided(ctx, 2)
		require.NoError(t, err)
		require.Len(t, decided, 2, "the breakeven does not use up the limit")
		assert.Equal(t, risk.Win, decided[0].Outcome)
		assert.Equal(t, risk.Loss, decided[1].Outcome)

		recent, err := st.RecentSignals(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, recent, 2)
	})
}

func TestConfigStore(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		require.NoError(t, st.SetRuntime(ctx, config.Entry{Key: config.KeySystemStatus, Value: "PAUSED", Type: "str"}))
		require.NoError(t, st.SeedRuntime(ctx, config.DefaultEntries()))

		entries, err := st.RuntimeEntries(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, 5)

		r, warnings := config.ParseRuntime(entries)
		assert.Empty(t, warnings)
		assert.True(t, r.Paused(), "seeding keeps operator values")

		require.NoError(t, st.SetRuntime(ctx, config.Entry{Key: config.KeySystemStatus, Value: "ACTIVE", Type: "str"}))
		entries, err = st.RuntimeEntries(ctx)
		require.NoError(t, err)
		r, _ = config.ParseRuntime(entries)
		assert.False(t, r.Paused())
	})
}

func TestSubscriberStore(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		past, future := base.Add(-time.Hour), base.Add(time.Hour)
		for _, s := range []Subscriber{
			{ChatID: "1", Name: "a", Balance: 1000, RiskPercent: 1, MaxConcurrentTrades: 2, Active: true},
			{ChatID: "2", Name: "b", Balance: 5000, RiskPercent: 2, Active: true, ExpiresAt: &future, Instruments: []string{"GC=F"}},
			{ChatID: "3", Name: "expired", Balance: 1000, Active: true, ExpiresAt: &past},
			{ChatID: "4", Name: "inactive", Balance: 1000, Active: false},
		} {
			require.NoError(t, st.SaveSubscriber(ctx, s))
		}

		subs, err := st.ActiveSubscribers(ctx, base)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, "1", subs[0].ChatID)
		assert.True(t, subs[0].Wants("EURUSD=X"))
		assert.Equal(t, []string{"GC=F"}, subs[1].Instruments)
		assert.False(t, subs[1].Wants("EURUSD=X"))
		assert.True(t, subs[1].Wants("GC=F"))
	})
}

func TestJournal(t *testing.T) {
	forEachStorage(t, func(t *testing.T, st Storage) {
		ctx := context.Background()
		require.NoError(t, st.LogEvent(ctx, journal.Event{Time: base.Add(2 * time.Minute), Type: journal.TypeSignal, Description: "second"}))
		require.NoError(t, st.LogEvent(ctx, journal.Event{Time: base, Type: journal.TypeSignal, Description: "first", Data: map[string]any{"id": "7"}}))
		require.NoError(t, st.LogEvent(ctx, journal.Event{Time: base, Type: journal.TypeError, Description: "other"}))

		events, err := st.GetEvents(ctx, journal.TypeSignal, base, base.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "first", events[0].Description)
		assert.Equal(t, "7", events[0].Data["id"])
		assert.Equal(t, "second", events[1].Description)

		events, err = st.GetEvents(ctx, journal.TypeSignal, base.Add(time.Minute), base.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}
