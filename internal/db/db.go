// Package db
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/amirphl/quant-signals/internal/config"
	"github.com/amirphl/quant-signals/internal/journal"
	"github.com/amirphl/quant-signals/internal/risk"
	"github.com/amirphl/quant-signals/internal/signal"
)

var ErrNotFound = errors.New("not found")

// SignalStore persists recommendations. Price fields are written once on
// insert; only progress columns of OPEN rows change afterwards.
type SignalStore interface {
	InsertSignal(ctx context.Context, s *signal.Signal) (int64, error)
	GetSignal(ctx context.Context, id int64) (*signal.Signal, error)
	OpenSignals(ctx context.Context) ([]signal.Signal, error)
	// UpdateProgress moves an OPEN row forward. It returns ErrNotFound when
	// the row is missing, already terminal, or maxTarget would go down.
	UpdateProgress(ctx context.Context, id int64, state signal.ResultState, maxTarget int, closedAt *time.Time) error
	RecentSignals(ctx context.Context, limit int) ([]signal.Signal, error)
}

// ConfigStore is the key/value/type runtime configuration table.
type ConfigStore interface {
	RuntimeEntries(ctx context.Context) ([]config.Entry, error)
	SetRuntime(ctx context.Context, e config.Entry) error
	SeedRuntime(ctx context.Context, entries []config.Entry) error
}

// Subscriber is a paying recipient of personalized sizing.
type Subscriber struct {
	ChatID              string
	Name                string
	Balance             float64
	RiskPercent         float64
	MaxConcurrentTrades int
	Instruments         []string // empty means all
	Active              bool
	ExpiresAt           *time.Time
}

// Wants reports whether the subscriber follows instrument.
func (s Subscriber) Wants(instrument string) bool {
	if len(s.Instruments) == 0 {
		return true
	}
	for _, i := range s.Instruments {
		if i == instrument {
			return true
		}
	}
	return false
}

// SubscriberStore lists subscribers. Expired or inactive ones are never
// returned by ActiveSubscribers.
type SubscriberStore interface {
	SaveSubscriber(ctx context.Context, s Subscriber) error
	ActiveSubscribers(ctx context.Context, now time.Time) ([]Subscriber, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	SignalStore
	ConfigStore
	SubscriberStore
	journal.Journaler
	risk.History
}
