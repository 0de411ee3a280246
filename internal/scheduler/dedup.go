package scheduler

import "time"

// Dedup remembers fingerprints delivered within a rolling window. It is
// owned by the scheduler goroutine and is not safe for concurrent use.
type Dedup struct {
	window time.Duration
	seen   map[string]time.Time
}

func NewDedup(window time.Duration) *Dedup {
	return &Dedup{window: window, seen: make(map[string]time.Time)}
}

// Prune forgets fingerprints older than the window. It runs once per cycle.
func (d *Dedup) Prune(now time.Time) int {
	cutoff := now.Add(-d.window)
	var n int
	for fp, at := range d.seen {
		if !at.After(cutoff) {
			delete(d.seen, fp)
			n++
		}
	}
	return n
}

func (d *Dedup) Seen(fp string) bool {
	_, ok := d.seen[fp]
	return ok
}

func (d *Dedup) Mark(fp string, at time.Time) { d.seen[fp] = at }

func (d *Dedup) Len() int { return len(d.seen) }
