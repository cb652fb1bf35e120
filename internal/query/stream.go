package query

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/xtxerr/gridcast/internal/forecast"
)

// wireRecord is the serialized record shape. Absent country/admin
// identifiers serialize as null, not empty strings.
type wireRecord struct {
	GridID    int64              `json:"grid_id"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	CountryID *string            `json:"country_id"`
	Admin1ID  *string            `json:"admin_1_id"`
	Admin2ID  *string            `json:"admin_2_id"`
	Month     string             `json:"month"`
	Metrics   map[string]float64 `json:"metrics"`
}

func toWire(rec *forecast.Record) wireRecord {
	metrics := make(map[string]float64, len(rec.Metrics))
	for m, v := range rec.Metrics {
		metrics[string(m)] = v
	}
	return wireRecord{
		GridID:    rec.GridID,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		CountryID: nullable(rec.CountryID),
		Admin1ID:  nullable(rec.Admin1ID),
		Admin2ID:  nullable(rec.Admin2ID),
		Month:     string(rec.Month),
		Metrics:   metrics,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// echo mirrors the resolved query parameters back in aggregate responses.
type echo struct {
	Country       string   `json:"country,omitempty"`
	GridIDs       []int64  `json:"grid_ids,omitempty"`
	Months        []string `json:"months,omitempty"`
	Metrics       []string `json:"metrics"`
	MetricFilters []string `json:"metric_filters,omitempty"`
	Format        string   `json:"format"`
}

type aggregateResponse struct {
	Data  []wireRecord `json:"data"`
	Count int          `json:"count"`
	Query echo         `json:"query"`
}

// WriteAggregate writes the single-payload response: every record, a
// count, and an echo of the resolved query.
func WriteAggregate(w io.Writer, records []forecast.Record, spec *Spec) error {
	metrics := make([]string, len(spec.Metrics))
	for i, m := range spec.Metrics {
		metrics[i] = string(m)
	}

	resp := aggregateResponse{
		Data:  make([]wireRecord, len(records)),
		Count: len(records),
		Query: echo{
			Country:       spec.Country,
			GridIDs:       spec.sortedGridIDs(),
			Months:        spec.sortedMonths(),
			Metrics:       metrics,
			MetricFilters: spec.params.MetricFilters,
			Format:        string(spec.Format),
		},
	}
	for i := range records {
		resp.Data[i] = toWire(&records[i])
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("encode aggregate response: %w", err)
	}
	return nil
}

// WriteIncremental writes one record per line, flushing after each so a
// slow consumer sees rows as they are produced. Consumer cancellation
// stops production without error.
func WriteIncremental(ctx context.Context, w io.Writer, records []forecast.Record) error {
	flusher, _ := w.(interface{ Flush() })
	enc := json.NewEncoder(w)

	for i := range records {
		if ctx.Err() != nil {
			return nil
		}

		if err := enc.Encode(toWire(&records[i])); err != nil {
			// The consumer going away shows up as a write error with a
			// cancelled context; anything else is a real failure.
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}
