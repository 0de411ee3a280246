// Package clock abstracts wall time so loops can run on virtual time in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the system clock.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now().UTC() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a virtual clock. After advances the clock by d and fires at once,
// so a loop sleeping on it runs as fast as it can.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake { return &Fake{now: now.UTC()} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	now := f.now
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Sleep waits d on c in ticks of at most tick, returning ctx.Err() as soon
// as ctx is done.
func Sleep(ctx context.Context, c Clock, d, tick time.Duration) error {
	if tick <= 0 {
		tick = d
	}
	for d > 0 {
		step := min(tick, d)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.After(step):
		}
		d -= step
	}
	return ctx.Err()
}
