// Package journal records what the desk did and why.
package journal

import (
	"context"
	"time"
)

// Event types written by the scheduler and tracker.
const (
	TypeCycle      = "cycle"
	TypeSignal     = "signal"
	TypeResolution = "resolution"
	TypeNotify     = "notify"
	TypeError      = "error"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}
