// Package ingest turns raw posterior forecast draws into published
// snapshot records: summarize each draw set, join grid-cell metadata,
// validate the whole batch, then publish through a storage backend.
// Any error aborts before a partial publish becomes visible.
package ingest

import (
	"context"
	"fmt"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/logging"
	"github.com/xtxerr/gridcast/internal/storage"
)

var log = logging.Component("ingest")

// Mode selects how the pipeline publishes.
type Mode string

const (
	// ModeReplace swaps the whole snapshot.
	ModeReplace Mode = "replace"

	// ModeAppend adds records alongside existing ones. Uniqueness is
	// checked within the new batch only, not against published rows.
	ModeAppend Mode = "append"
)

// ParseMode validates a mode string, defaulting empty to replace.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeReplace):
		return ModeReplace, nil
	case string(ModeAppend):
		return ModeAppend, nil
	default:
		return "", fmt.Errorf("unknown ingestion mode %q (want replace or append)", s)
	}
}

// Cell is auxiliary grid-cell metadata joined onto summarized records.
type Cell struct {
	Latitude  float64
	Longitude float64
	CountryID string
	Admin1ID  string
	Admin2ID  string
}

// Result reports what a pipeline run produced.
type Result struct {
	DrawSets  int
	Records   int
	Mode      Mode
	BackendID string
}

// Run executes the pipeline: summarize every draw set, join cell metadata
// when present, validate the batch, publish. The first summarization error
// aborts the run; validation reports every violation at once.
func Run(ctx context.Context, backend storage.Backend, sets []forecast.DrawSet, cells map[int64]Cell, mode Mode) (*Result, error) {
	if len(sets) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidData, "no draw sets to ingest")
	}

	records := make([]forecast.Record, 0, len(sets))
	for i := range sets {
		set := &sets[i]

		metrics, err := forecast.Summarize(set)
		if err != nil {
			return nil, fmt.Errorf("summarize grid %d month %s: %w", set.GridID, set.Month, err)
		}

		rec := forecast.Record{
			GridID:  set.GridID,
			Month:   set.Month,
			Metrics: metrics,
		}
		if cell, ok := cells[set.GridID]; ok {
			rec.Latitude = cell.Latitude
			rec.Longitude = cell.Longitude
			rec.CountryID = cell.CountryID
			rec.Admin1ID = cell.Admin1ID
			rec.Admin2ID = cell.Admin2ID
		}
		records = append(records, rec)
	}

	if err := forecast.ValidateBatch(records); err != nil {
		return nil, err
	}

	forecast.SortRecords(records)

	switch mode {
	case ModeReplace:
		if err := backend.ReplaceAll(ctx, records); err != nil {
			return nil, fmt.Errorf("publish snapshot: %w", err)
		}
	case ModeAppend:
		if err := backend.Append(ctx, records); err != nil {
			return nil, fmt.Errorf("append snapshot: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown ingestion mode %q", mode)
	}

	log.Info("pipeline published",
		"draw_sets", len(sets),
		"records", len(records),
		"mode", mode,
		"backend", backend.ID())

	return &Result{
		DrawSets:  len(sets),
		Records:   len(records),
		Mode:      mode,
		BackendID: backend.ID(),
	}, nil
}
