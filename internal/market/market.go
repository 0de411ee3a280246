// Package market defines the data collaborators the desk consumes: OHLC
// history, the economic calendar and last traded prices.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amirphl/quant-signals/internal/candle"
	"github.com/amirphl/quant-signals/internal/filter"
)

var ErrDataUnavailable = errors.New("market data unavailable")

// Provider returns up to bars of the most recent closed candles, oldest first.
type Provider interface {
	FetchCandles(ctx context.Context, instrument, timeframe string, bars int) (*candle.Series, error)
}

// NewsProvider returns the calendar events around the current week.
type NewsProvider interface {
	Events(ctx context.Context) ([]filter.Event, error)
}

// PriceSource returns the last price of instrument. ok is false when no
// price is known.
type PriceSource interface {
	LastPrice(ctx context.Context, instrument string) (price float64, ok bool, err error)
}

// Static serves fixed data. It backs tests and dry runs.
type Static struct {
	mu      sync.RWMutex
	candles map[string][]candle.Candle
	prices  map[string]float64
	events  []filter.Event
	fail    map[string]error
}

func NewStatic() *Static {
	return &Static{
		candles: make(map[string][]candle.Candle),
		prices:  make(map[string]float64),
		fail:    make(map[string]error),
	}
}

func seriesKey(instrument, timeframe string) string { return instrument + "|" + timeframe }

func (s *Static) SetCandles(instrument, timeframe string, candles []candle.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[seriesKey(instrument, timeframe)] = candles
}

// Fail makes every fetch of instrument return err.
func (s *Static) Fail(instrument string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[instrument] = err
}

func (s *Static) SetPrice(instrument string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[instrument] = price
}

func (s *Static) SetEvents(events []filter.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

func (s *Static) FetchCandles(ctx context.Context, instrument, timeframe string, bars int) (*candle.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail[instrument]; err != nil {
		return nil, err
	}
	cs, ok := s.candles[seriesKey(instrument, timeframe)]
	if !ok || len(cs) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, instrument, timeframe)
	}
	if bars > 0 && len(cs) > bars {
		cs = cs[len(cs)-bars:]
	}
	return candle.NewSeries(instrument, timeframe, cs)
}

func (s *Static) Events(ctx context.Context) ([]filter.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]filter.Event(nil), s.events...), nil
}

func (s *Static) LastPrice(ctx context.Context, instrument string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[instrument]
	return p, ok, nil
}
