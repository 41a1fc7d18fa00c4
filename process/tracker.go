package process

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docrag/core"
)

// DefaultRetention is how long terminal records are kept before a sweep removes them.
const DefaultRetention = 24 * time.Hour

// Tracker records the progress of ingestion runs keyed by process id.
// All methods are safe for concurrent use. The lock is only held for map access.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]*core.ProcessRecord
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetention sets how long terminal records survive. Non-positive values keep the default.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records:   make(map[string]*core.ProcessRecord),
		retention: DefaultRetention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "process-tracker")
	return t
}

// Create registers a new pending record for documentID and returns a copy of it.
// Expired terminal records are swept on the way.
func (t *Tracker) Create(documentID string) *core.ProcessRecord {
	now := t.now()
	rec := &core.ProcessRecord{
		ProcessId:  uuid.NewString(),
		DocumentId: documentID,
		Status:     core.ProcessStatusPending,
		Message:    "Queued for processing",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	t.mu.Lock()
	removed := t.sweep(now, t.retention)
	t.records[rec.ProcessId] = rec
	out := *rec
	t.mu.Unlock()

	if removed > 0 {
		t.logger.Debug("swept expired process records", "removed", removed)
	}
	return &out
}

// Update moves a record forward. It returns false if the id is unknown or the
// record is already terminal. percent is clamped to [0,100]; errMsg is only kept
// when status is failed.
func (t *Tracker) Update(id string, status core.ProcessStatus, percent int, message, errMsg string) bool {
	percent = max(0, min(100, percent))
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.Status.Terminal() {
		return false
	}
	if status < rec.Status {
		return false
	}

	rec.Status = status
	rec.ProgressPercent = percent
	if message != "" {
		rec.Message = message
	}
	rec.UpdatedAt = now
	if status.Terminal() {
		rec.CompletedAt = now
	}
	if status == core.ProcessStatusFailed {
		rec.Error = errMsg
	}
	return true
}

// Get returns a copy of the record.
func (t *Tracker) Get(id string) (*core.ProcessRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return nil, false
	}
	out := *rec
	return &out, true
}

// List returns copies of every record, newest first.
func (t *Tracker) List() []*core.ProcessRecord {
	return t.collect(func(*core.ProcessRecord) bool { return true })
}

// ListByDocument returns copies of the records of one document, newest first.
func (t *Tracker) ListByDocument(documentID string) []*core.ProcessRecord {
	return t.collect(func(r *core.ProcessRecord) bool { return r.DocumentId == documentID })
}

func (t *Tracker) collect(keep func(*core.ProcessRecord) bool) []*core.ProcessRecord {
	t.mu.Lock()
	out := make([]*core.ProcessRecord, 0, len(t.records))
	for _, rec := range t.records {
		if keep(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ProcessId < out[j].ProcessId
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cleanup removes terminal records that completed more than retention ago and
// returns how many were removed. A non-positive retention uses the tracker's own.
func (t *Tracker) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		retention = t.retention
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweep(t.now(), retention)
}

// sweep must be called with the lock held.
func (t *Tracker) sweep(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	removed := 0
	for id, rec := range t.records {
		if rec.Status.Terminal() && rec.CompletedAt.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired records every interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Cleanup(0); n > 0 {
				t.logger.Info("cleaned up process records", "removed", n)
			}
		}
	}
}

// Len returns the number of tracked records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
