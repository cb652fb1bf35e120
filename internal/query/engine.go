package query

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/xtxerr/gridcast/internal/cache"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/logging"
	"github.com/xtxerr/gridcast/internal/storage"
)

// Stats tracks query engine activity.
type Stats struct {
	Queries       atomic.Uint64
	RecordsServed atomic.Uint64
}

// Engine executes specs against one backend, reading the snapshot through
// the cache.
type Engine struct {
	backend storage.Backend
	cache   *cache.Cache
	stats   Stats
}

// NewEngine creates a query engine over the given backend and cache.
func NewEngine(backend storage.Backend, c *cache.Cache) *Engine {
	return &Engine{backend: backend, cache: c}
}

// Stats returns the engine counters.
func (e *Engine) Stats() (queries, recordsServed uint64) {
	return e.stats.Queries.Load(), e.stats.RecordsServed.Load()
}

// BackendID identifies the active backend.
func (e *Engine) BackendID() string {
	return e.backend.ID()
}

// ClearCache drops the cached snapshot for the active backend.
func (e *Engine) ClearCache() {
	e.cache.Clear(e.backend.ID())
}

// Execute runs a spec and returns the matching records, projected and
// sorted by (grid_id, month) ascending. Predicates apply in a fixed order:
// grid-id set, country, month, thresholds. Thresholds see full metric
// values; projection happens last. An empty result is not an error.
func (e *Engine) Execute(ctx context.Context, spec *Spec) ([]forecast.Record, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var out []forecast.Record
	for i := range snap.Records {
		rec := &snap.Records[i]

		if len(spec.GridIDs) > 0 {
			if _, ok := spec.GridIDs[rec.GridID]; !ok {
				continue
			}
		}
		if spec.Country != "" && rec.CountryID != spec.Country {
			continue
		}
		if spec.Months != nil {
			if _, ok := spec.Months[rec.Month]; !ok {
				continue
			}
		}
		if !matchThresholds(rec, spec.Thresholds) {
			continue
		}

		out = append(out, rec.Project(spec.Metrics))
	}

	forecast.SortRecords(out)

	e.stats.Queries.Add(1)
	e.stats.RecordsServed.Add(uint64(len(out)))
	logging.WithContext(ctx).Debug("query executed",
		"matched", len(out),
		"scanned", len(snap.Records),
		"full_scan", spec.FullScan())
	return out, nil
}

func matchThresholds(rec *forecast.Record, thresholds []Threshold) bool {
	for _, th := range thresholds {
		if !th.Matches(rec.Metrics[th.Metric]) {
			return false
		}
	}
	return true
}

func (e *Engine) snapshot(ctx context.Context) (*cache.Snapshot, error) {
	ctx = logging.ContextWithBackendID(ctx, e.backend.ID())
	return e.cache.GetOrLoad(ctx, e.backend.ID(), e.backend.LoadAll)
}

// MonthInfo describes one month present in the snapshot.
type MonthInfo struct {
	Month         string `json:"month"`
	ForecastCount int    `json:"forecast_count"`
	Countries     int    `json:"countries"`
}

// Months lists the months present in the snapshot, ascending, with record
// and country counts.
func (e *Engine) Months(ctx context.Context) ([]MonthInfo, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[forecast.Month]int)
	countries := make(map[forecast.Month]map[string]struct{})
	for i := range snap.Records {
		rec := &snap.Records[i]
		counts[rec.Month]++
		if rec.CountryID == "" {
			continue
		}
		if countries[rec.Month] == nil {
			countries[rec.Month] = make(map[string]struct{})
		}
		countries[rec.Month][rec.CountryID] = struct{}{}
	}

	out := make([]MonthInfo, 0, len(counts))
	for m, n := range counts {
		out = append(out, MonthInfo{
			Month:         string(m),
			ForecastCount: n,
			Countries:     len(countries[m]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// GridCell describes one grid cell present in the snapshot.
type GridCell struct {
	GridID    int64   `json:"grid_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	CountryID string  `json:"country_id,omitempty"`
}

// GridCells lists the distinct grid cells in the snapshot, optionally
// restricted to one country, sorted by grid id.
func (e *Engine) GridCells(ctx context.Context, country string) ([]GridCell, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var out []GridCell
	for i := range snap.Records {
		rec := &snap.Records[i]
		if country != "" && rec.CountryID != country {
			continue
		}
		if _, ok := seen[rec.GridID]; ok {
			continue
		}
		seen[rec.GridID] = struct{}{}
		out = append(out, GridCell{
			GridID:    rec.GridID,
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			CountryID: rec.CountryID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GridID < out[j].GridID })
	return out, nil
}

// Countries lists the distinct country identifiers in the snapshot,
// ascending.
func (e *Engine) Countries(ctx context.Context) ([]string, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for i := range snap.Records {
		if c := snap.Records[i].CountryID; c != "" {
			seen[c] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}
