package ingest

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/gridcast/internal/forecast"
)

// DrawRow is one posterior sample in the raw draw input: a single
// fatality-count draw for one grid cell and month.
type DrawRow struct {
	GridID int64   `parquet:"grid_id"`
	Month  string  `parquet:"month,zstd"`
	Value  float64 `parquet:"value"`
}

// CellRow is one grid cell in the auxiliary metadata input.
type CellRow struct {
	GridID    int64   `parquet:"grid_id"`
	Latitude  float64 `parquet:"latitude"`
	Longitude float64 `parquet:"longitude"`
	CountryID string  `parquet:"country_id,optional,zstd"`
	Admin1ID  string  `parquet:"admin_1_id,optional,zstd"`
	Admin2ID  string  `parquet:"admin_2_id,optional,zstd"`
}

// ReadDraws loads a Parquet draw file and groups samples into per-cell,
// per-month draw sets, preserving the file's sample order within each set.
// Sets come back ordered by (grid_id, month) so runs are reproducible.
func ReadDraws(path string) ([]forecast.DrawSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read draw file: %w", err)
	}

	rows, err := parquet.Read[DrawRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode draw file %s: %w", path, err)
	}

	type key struct {
		gridID int64
		month  string
	}
	groups := make(map[key]*forecast.DrawSet)
	var order []key

	for i := range rows {
		k := key{rows[i].GridID, rows[i].Month}
		set, ok := groups[k]
		if !ok {
			set = &forecast.DrawSet{GridID: k.gridID, Month: forecast.Month(k.month)}
			groups[k] = set
			order = append(order, k)
		}
		set.Draws = append(set.Draws, rows[i].Value)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].gridID != order[j].gridID {
			return order[i].gridID < order[j].gridID
		}
		return order[i].month < order[j].month
	})

	sets := make([]forecast.DrawSet, 0, len(order))
	for _, k := range order {
		sets = append(sets, *groups[k])
	}

	log.Debug("draws loaded", "path", path, "samples", len(rows), "sets", len(sets))
	return sets, nil
}

// ReadCells loads the auxiliary cell metadata keyed by grid id. A cell
// appearing more than once keeps its first occurrence.
func ReadCells(path string) (map[int64]Cell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cell file: %w", err)
	}

	rows, err := parquet.Read[CellRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode cell file %s: %w", path, err)
	}

	cells := make(map[int64]Cell, len(rows))
	for i := range rows {
		if _, ok := cells[rows[i].GridID]; ok {
			continue
		}
		cells[rows[i].GridID] = Cell{
			Latitude:  rows[i].Latitude,
			Longitude: rows[i].Longitude,
			CountryID: rows[i].CountryID,
			Admin1ID:  rows[i].Admin1ID,
			Admin2ID:  rows[i].Admin2ID,
		}
	}

	log.Debug("cells loaded", "path", path, "cells", len(cells))
	return cells, nil
}

// WriteDraws writes draw rows to a Parquet file. Test fixtures and the
// sample tooling use it; the serving path never writes draws.
func WriteDraws(path string, rows []DrawRow) error {
	return writeParquet(path, rows)
}

// WriteCells writes cell metadata rows to a Parquet file.
func WriteCells(path string, rows []CellRow) error {
	return writeParquet(path, rows)
}

func writeParquet[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer for %s: %w", path, err)
	}
	return f.Close()
}
