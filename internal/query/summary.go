package query

import (
	"context"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/gridcast/internal/forecast"
)

// PointEstimateStats summarizes the distribution of the point estimate
// across the snapshot.
type PointEstimateStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

// Summary describes the whole snapshot.
type Summary struct {
	Count         int                 `json:"count"`
	Countries     int                 `json:"countries"`
	Months        int                 `json:"months"`
	GridCells     int                 `json:"grid_cells"`
	PointEstimate *PointEstimateStats `json:"point_estimate,omitempty"`
}

// Summarize computes dataset-level statistics over the cached snapshot.
// Percentiles come from a DDSketch at 1% relative accuracy, so they are
// approximate but cheap regardless of snapshot size.
func (e *Engine) Summarize(ctx context.Context) (*Summary, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	countries := make(map[string]struct{})
	months := make(map[forecast.Month]struct{})
	cells := make(map[int64]struct{})

	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return nil, err
	}

	sum := 0.0
	min := math.MaxFloat64
	max := -math.MaxFloat64

	for i := range snap.Records {
		rec := &snap.Records[i]
		if rec.CountryID != "" {
			countries[rec.CountryID] = struct{}{}
		}
		months[rec.Month] = struct{}{}
		cells[rec.GridID] = struct{}{}

		v := rec.Metrics[forecast.MetricMAP]
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		if err := sketch.Add(v); err != nil {
			return nil, err
		}
	}

	out := &Summary{
		Count:     len(snap.Records),
		Countries: len(countries),
		Months:    len(months),
		GridCells: len(cells),
	}

	if out.Count > 0 {
		p50, _ := sketch.GetValueAtQuantile(0.50)
		p90, _ := sketch.GetValueAtQuantile(0.90)
		p99, _ := sketch.GetValueAtQuantile(0.99)
		out.PointEstimate = &PointEstimateStats{
			Avg: sum / float64(out.Count),
			Min: min,
			Max: max,
			P50: p50,
			P90: p90,
			P99: p99,
		}
	}

	return out, nil
}
