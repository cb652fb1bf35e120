package storage

import (
	"context"
	"sync"

	"github.com/xtxerr/gridcast/internal/forecast"
)

// Memory is an in-process backend holding its snapshot in memory. It backs
// the sample-data serving mode and test fixtures; it satisfies the same
// atomic-replace contract as the durable variants by swapping the snapshot
// slice under a lock.
type Memory struct {
	mu      sync.RWMutex
	id      string
	records []forecast.Record

	// LoadErr, when set, is returned by LoadAll. Tests use it to simulate
	// an unavailable backend.
	LoadErr error
}

// NewMemory creates a memory backend seeded with the given records.
func NewMemory(id string, records []forecast.Record) *Memory {
	return &Memory{id: id, records: records}
}

// ID identifies the backend instance.
func (m *Memory) ID() string { return m.id }

// LoadAll returns the current snapshot.
func (m *Memory) LoadAll(ctx context.Context) ([]forecast.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LoadErr != nil {
		return nil, m.LoadErr
	}

	out := make([]forecast.Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

// ReplaceAll swaps the snapshot wholesale.
func (m *Memory) ReplaceAll(ctx context.Context, records []forecast.Record) error {
	snapshot := make([]forecast.Record, len(records))
	copy(snapshot, records)

	m.mu.Lock()
	m.records = snapshot
	m.mu.Unlock()
	return nil
}

// Append adds records without removing existing rows.
func (m *Memory) Append(ctx context.Context, records []forecast.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	combined := make([]forecast.Record, 0, len(m.records)+len(records))
	combined = append(combined, m.records...)
	combined = append(combined, records...)
	m.records = combined
	return nil
}
