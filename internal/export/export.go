// Package export hands accepted signals to a downstream execution bridge.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amirphl/quant-signals/internal/signal"
)

// ErrCorruptFile marks a bridge file that is not a JSON record array.
var ErrCorruptFile = errors.New("corrupt bridge file")

// BridgeRecord is the execution bridge view of a signal.
type BridgeRecord struct {
	ID         string     `json:"id"`
	SignalID   int64      `json:"signal_id"`
	Symbol     string     `json:"symbol"`
	Direction  string     `json:"direction"`
	Entry      float64    `json:"entry"`
	Stop       float64    `json:"stop"`
	Targets    [3]float64 `json:"targets"`
	Lots       float64    `json:"lots"`
	Strategy   string     `json:"strategy"`
	Executed   bool       `json:"executed"`
	ExportedAt time.Time  `json:"exported_at"`
}

func NewRecord(s *signal.Signal, at time.Time) BridgeRecord {
	return BridgeRecord{
		ID:         uuid.NewString(),
		SignalID:   s.ID,
		Symbol:     s.Instrument,
		Direction:  string(s.Direction),
		Entry:      s.EntryPrice,
		Stop:       s.Stop,
		Targets:    s.Targets,
		Lots:       s.Risk.Lots,
		Strategy:   s.StrategyID,
		ExportedAt: at.UTC(),
	}
}

type Exporter interface {
	Export(ctx context.Context, r BridgeRecord) error
}

// Multi exports to every exporter and joins their errors.
type Multi []Exporter

func (m Multi) Export(ctx context.Context, r BridgeRecord) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileRing keeps the newest Limit records in a JSON array file. Records
// older than MaxAge are pruned on every write.
type FileRing struct {
	mu     sync.Mutex
	path   string
	limit  int
	maxAge time.Duration
	now    func() time.Time
}

func NewFileRing(path string, limit int, maxAge time.Duration, now func() time.Time) *FileRing {
	if limit <= 0 {
		limit = 50
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &FileRing{path: path, limit: limit, maxAge: maxAge, now: now}
}

func (f *FileRing) Export(ctx context.Context, r BridgeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.readForWrite()
	if err != nil {
		return err
	}
	records = append(records, r)
	return f.write(f.prune(records))
}

// Records returns the current file content.
func (f *FileRing) Records() ([]BridgeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

// Prune drops expired records without adding one.
func (f *FileRing) Prune() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	records, err := f.readForWrite()
	if err != nil {
		return err
	}
	return f.write(f.prune(records))
}

func (f *FileRing) prune(records []BridgeRecord) []BridgeRecord {
	if f.maxAge > 0 {
		cutoff := f.now().Add(-f.maxAge)
		kept := records[:0]
		for _, r := range records {
			if r.ExportedAt.After(cutoff) {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	if len(records) > f.limit {
		records = records[len(records)-f.limit:]
	}
	return records
}

// readForWrite moves a corrupt file aside so the bridge's copy, executed
// flags included, survives for inspection, then starts from an empty ring.
func (f *FileRing) readForWrite() ([]BridgeRecord, error) {
	records, err := f.read()
	if !errors.Is(err, ErrCorruptFile) {
		return records, err
	}
	aside := f.path + ".corrupt-" + f.now().Format("20060102T150405")
	if rerr := os.Rename(f.path, aside); rerr != nil {
		return nil, fmt.Errorf("%w: move aside: %v", err, rerr)
	}
	return nil, nil
}

// read treats a missing file as empty.
func (f *FileRing) read() ([]BridgeRecord, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bridge file: %w", err)
	}
	var records []BridgeRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptFile, f.path, err)
	}
	return records, nil
}

func (f *FileRing) write(records []BridgeRecord) error {
	if records == nil {
		records = []BridgeRecord{}
	}
	b, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create bridge dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write bridge file: %w", err)
	}
	return os.Rename(tmp, f.path)
}
