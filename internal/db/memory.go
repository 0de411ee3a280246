package db

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/quant-signals/internal/config"
	"github.com/amirphl/quant-signals/internal/journal"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
)

// MemoryStorage keeps everything in process. It is used by tests and by
// the memory driver.
type MemoryStorage struct {
	mu sync.RWMutex

	signals      map[int64]signal.Signal
	nextSignalID int64

	runtime     map[string]config.Entry
	subscribers map[string]Subscriber

	// Events (append-only)
	events []journal.Event
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		signals:     make(map[int64]signal.Signal),
		runtime:     make(map[string]config.Entry),
		subscribers: make(map[string]Subscriber),
		events:      make([]journal.Event, 0, 1024),
	}
}

// GetDB returns nil for in-memory storage (no SQL database)
func (m *MemoryStorage) GetDB() *sql.DB { return nil }

// copySignal detaches the mutable members from the stored value.
func copySignal(s signal.Signal) signal.Signal {
	s.ScoreDetails = maps.Clone(s.ScoreDetails)
	s.Risk.Layers = slices.Clone(s.Risk.Layers)
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		s.ClosedAt = &t
	}
	return s
}

// -------- SignalStore --------

func (m *MemoryStorage) InsertSignal(ctx context.Context, s *signal.Signal) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSignalID++
	s.ID = m.nextSignalID
	s.CreatedAt = s.CreatedAt.UTC()
	s.ResultState = signal.StateOpen
	s.MaxTargetReached = 0
	s.ClosedAt = nil
	m.signals[s.ID] = copySignal(*s)
	return s.ID, nil
}

func (m *MemoryStorage) GetSignal(ctx context.Context, id int64) (*signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signals[id]
	if !ok {
		return nil, ErrNotFound
	}
	s = copySignal(s)
	return &s, nil
}

func (m *MemoryStorage) OpenSignals(ctx context.Context) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []signal.Signal
	for _, s := range m.signals {
		if s.ResultState == signal.StateOpen {
			out = append(out, copySignal(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) RecentSignals(ctx context.Context, limit int) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]signal.Signal, 0, len(m.signals))
	for _, s := range m.signals {
		out = append(out, copySignal(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStorage) UpdateProgress(ctx context.Context, id int64, state signal.ResultState, maxTarget int, closedAt *time.Time) error {
	if maxTarget < 0 || maxTarget > 3 {
		return fmt.Errorf("max target %d out of range", maxTarget)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[id]
	if !ok || s.ResultState != signal.StateOpen || s.MaxTargetReached > maxTarget {
		return ErrNotFound
	}
	s.ResultState = state
	s.MaxTargetReached = maxTarget
	s.ClosedAt = nil
	if closedAt != nil {
		t := closedAt.UTC()
		s.ClosedAt = &t
	}
	m.signals[id] = s
	return nil
}

func (m *MemoryStorage) RecentResolved(ctx context.Context, limit int) ([]risk.Trade, error) {
	return m.resolved(limit, func(risk.Trade) bool { return true }), nil
}

func (m *MemoryStorage) RecentDecided(ctx context.Context, limit int) ([]risk.Trade, error) {
	return m.resolved(limit, func(t risk.Trade) bool { return t.Outcome != risk.Breakeven }), nil
}

func (m *MemoryStorage) resolved(limit int, keep func(risk.Trade) bool) []risk.Trade {
	m.mu.RLock()
	var closed []signal.Signal
	for _, s := range m.signals {
		if !s.ResultState.Terminal() || s.ClosedAt == nil {
			continue
		}
		if t, ok := risk.OutcomeOf(s); ok && keep(t) {
			closed = append(closed, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(closed, func(i, j int) bool {
		if !closed[i].ClosedAt.Equal(*closed[j].ClosedAt) {
			return closed[i].ClosedAt.After(*closed[j].ClosedAt)
		}
		return closed[i].ID > closed[j].ID
	})
	if limit >= 0 && len(closed) > limit {
		closed = closed[:limit]
	}
	trades := make([]risk.Trade, 0, len(closed))
	for _, s := range closed {
		t, _ := risk.OutcomeOf(s)
		trades = append(trades, t)
	}
	return trades
}

// -------- ConfigStore --------

func (m *MemoryStorage) RuntimeEntries(ctx context.Context) ([]config.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]config.Entry, 0, len(m.runtime))
	for _, e := range m.runtime {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStorage) SetRuntime(ctx context.Context, e config.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runtime[e.Key] = e
	return nil
}

func (m *MemoryStorage) SeedRuntime(ctx context.Context, entries []config.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.runtime[e.Key]; !ok {
			m.runtime[e.Key] = e
		}
	}
	return nil
}

// -------- SubscriberStore --------

func (m *MemoryStorage) SaveSubscriber(ctx context.Context, s Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Instruments = slices.Clone(s.Instruments)
	m.subscribers[s.ChatID] = s
	return nil
}

func (m *MemoryStorage) ActiveSubscribers(ctx context.Context, now time.Time) ([]Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscriber
	for _, s := range m.subscribers {
		if !s.Active || (s.ExpiresAt != nil && !s.ExpiresAt.After(now)) {
			continue
		}
		s.Instruments = slices.Clone(s.Instruments)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

// -------- Journaler --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start = start.UTC()
	end = end.UTC()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && !e.Time.After(end) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*Default)(nil)
)
