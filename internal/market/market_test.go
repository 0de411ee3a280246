package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/quant-signals/internal/candle/candletest"
	"github.com/amirphl/quant-signals/internal/filter"
)

var end = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic()
	s.SetCandles("EURUSD=X", "1h", candletest.Bars("EURUSD=X", "1h", end, 50, candletest.Flat(1.1), 0.001))
	s.SetPrice("EURUSD=X", 1.1)

	series, err := s.FetchCandles(ctx, "EURUSD=X", "1h", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, series.Len())
	last, _ := series.Last()
	assert.Equal(t, end, last.Timestamp)

	_, err = s.FetchCandles(ctx, "EURUSD=X", "5m", 20)
	assert.ErrorIs(t, err, ErrDataUnavailable)

	boom := errors.New("boom")
	s.Fail("EURUSD=X", boom)
	_, err = s.FetchCandles(ctx, "EURUSD=X", "1h", 20)
	assert.ErrorIs(t, err, boom)

	p, ok, err := s.LastPrice(ctx, "EURUSD=X")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.1, p)
	_, ok, _ = s.LastPrice(ctx, "GC=F")
	assert.False(t, ok)
}

func newTestFeed(t *testing.T) (*RedisFeed, string) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ns := fmt.Sprintf("test:%d", time.Now().UnixNano())
	f, err := NewRedisFeed(RedisConfig{Addr: addr, PriceKey: ns + ":prices", NewsKey: ns + ":news", MaxBars: 30})
	if err != nil {
		t.Skipf("Skipping test: Redis is not reachable: %v", err)
	}
	t.Cleanup(func() {
		f.client.Del(context.Background(), ns+":prices", ns+":news", candleKey(ns, "1h"))
		f.Close()
	})
	return f, ns
}

func TestRedisFeed(t *testing.T) {
	f, instrument := newTestFeed(t)
	ctx := context.Background()

	bars := candletest.Bars(instrument, "1h", end, 40, candletest.Linear(100, 1), 0.5)
	require.NoError(t, f.PublishCandles(ctx, bars))

	series, err := f.FetchCandles(ctx, instrument, "1h", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, series.Len())
	last, _ := series.Last()
	assert.True(t, last.Timestamp.Equal(end))

	all, err := f.FetchCandles(ctx, instrument, "1h", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, all.Len(), "list trimmed to MaxBars")

	_, err = f.FetchCandles(ctx, instrument, "5m", 10)
	assert.ErrorIs(t, err, ErrDataUnavailable)

	_, ok, err := f.LastPrice(ctx, instrument)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, f.SetPrice(ctx, instrument, 101.25))
	p, ok, err := f.LastPrice(ctx, instrument)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 101.25, p)

	events := []filter.Event{{Title: "CPI", Country: "USD", Impact: "High", Date: end}}
	require.NoError(t, f.SetEvents(ctx, events, time.Minute))
	got, err := f.Events(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CPI", got[0].Title)
	assert.True(t, got[0].Date.Equal(end))
}
