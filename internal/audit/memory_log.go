package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog is an in-memory implementation of Log for tests and local
// development.
type MemoryLog struct {
	mu      sync.RWMutex
	records []*TransitionRecord
}

// NewMemoryLog creates a new in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append writes a record.
func (l *MemoryLog) Append(ctx context.Context, rec *TransitionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *rec
	l.records = append(l.records, &copied)
	return nil
}

// Query returns records for a flag within [from, to], ordered by time.
func (l *MemoryLog) Query(ctx context.Context, flagID string, from, to time.Time) ([]*TransitionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*TransitionRecord
	for _, rec := range l.records {
		if rec.FlagID != flagID {
			continue
		}
		if !from.IsZero() && rec.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && rec.OccurredAt.After(to) {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// Ensure MemoryLog implements Log interface.
var _ Log = (*MemoryLog)(nil)
