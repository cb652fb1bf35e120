// Package cache holds loaded forecast snapshots in memory with a TTL.
// Concurrent misses for the same backend coalesce into a single load, so a
// cold cache under load issues one backend read rather than one per
// request.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/logging"
)

var log = logging.Component("cache")

// DefaultTTL is used when a Cache is created with a non-positive TTL.
const DefaultTTL = 15 * time.Minute

// Loader produces a fresh snapshot, typically a storage backend's LoadAll.
type Loader func(ctx context.Context) ([]forecast.Record, error)

// Snapshot is an immutable cached dataset. Callers must not mutate Records.
type Snapshot struct {
	Records    []forecast.Record
	LoadedAt   time.Time
	Generation uint64
}

// Stats tracks cache effectiveness.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Loads   uint64
	Errors  uint64
	Entries int
}

type entry struct {
	snapshot *Snapshot
	expires  time.Time
}

// Cache maps backend IDs to snapshots.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	group   singleflight.Group
	gen     uint64

	hits   atomic.Uint64
	misses atomic.Uint64
	loads  atomic.Uint64
	errs   atomic.Uint64

	// nowFn is replaceable for expiry tests.
	nowFn func() time.Time
}

// New creates a cache with the given TTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		nowFn:   time.Now,
	}
}

// GetOrLoad returns the cached snapshot for backendID, loading it through
// loader on a miss or after expiry. Concurrent calls for the same backend
// share one load.
func (c *Cache) GetOrLoad(ctx context.Context, backendID string, loader Loader) (*Snapshot, error) {
	if snap := c.lookup(backendID); snap != nil {
		c.hits.Add(1)
		return snap, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(backendID, func() (interface{}, error) {
		// A load that finished while this call was queued serves us too.
		if snap := c.lookup(backendID); snap != nil {
			return snap, nil
		}
		return c.load(ctx, backendID, loader)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Clear drops the entry for one backend. The next GetOrLoad reloads.
func (c *Cache) Clear(backendID string) {
	c.mu.Lock()
	delete(c.entries, backendID)
	c.mu.Unlock()

	log.Info("cache cleared", "backend", backendID)
}

// ClearAll drops every entry.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	log.Info("cache cleared", "backend", "all")
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Loads:   c.loads.Load(),
		Errors:  c.errs.Load(),
		Entries: entries,
	}
}

// lookup returns the live entry for backendID, or nil. It does not touch
// the counters; GetOrLoad records one hit or miss per call.
func (c *Cache) lookup(backendID string) *Snapshot {
	c.mu.RLock()
	e, ok := c.entries[backendID]
	c.mu.RUnlock()

	if !ok || c.nowFn().After(e.expires) {
		return nil
	}
	return e.snapshot
}

func (c *Cache) load(ctx context.Context, backendID string, loader Loader) (*Snapshot, error) {
	start := c.nowFn()
	records, err := loader(ctx)
	if err != nil {
		c.errs.Add(1)
		return nil, err
	}

	c.mu.Lock()
	c.gen++
	snap := &Snapshot{
		Records:    records,
		LoadedAt:   start,
		Generation: c.gen,
	}
	c.entries[backendID] = &entry{snapshot: snap, expires: start.Add(c.ttl)}
	c.mu.Unlock()
	c.loads.Add(1)

	log.Info("snapshot cached",
		"backend", backendID,
		"records", len(records),
		"generation", snap.Generation)
	return snap, nil
}
