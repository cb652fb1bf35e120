// prepare runs the forecast preparation pipeline: it reads raw posterior
// draws (and optional grid-cell metadata), summarizes them into the
// published 13-metric records, validates the batch, and publishes it to a
// storage backend. Any validation failure exits non-zero without touching
// the published snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/xtxerr/gridcast/internal/config"
	"github.com/xtxerr/gridcast/internal/ingest"
	"github.com/xtxerr/gridcast/internal/logging"
	"github.com/xtxerr/gridcast/internal/storage"
	"github.com/xtxerr/gridcast/internal/storage/duck"
	"github.com/xtxerr/gridcast/internal/storage/parquetdir"
)

func main() {
	drawsPath := flag.String("draws", "", "raw draw parquet file (required)")
	cellsPath := flag.String("cells", "", "grid-cell metadata parquet file (optional)")
	backendKind := flag.String("backend", config.KindParquet, "output backend: parquet or duckdb")
	dataDir := flag.String("data", "data", "parquet output directory")
	dbPath := flag.String("db", "", "duckdb database path (empty for in-memory)")
	mode := flag.String("mode", "replace", "publish mode: replace or append")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logging.Init(logging.ParseLevel(*logLevel), false)

	if *drawsPath == "" {
		fmt.Fprintln(os.Stderr, "prepare: -draws is required")
		flag.Usage()
		os.Exit(2)
	}

	publishMode, err := ingest.ParseMode(*mode)
	if err != nil {
		fatal(err)
	}

	backend, err := openBackend(*backendKind, *dataDir, *dbPath)
	if err != nil {
		fatal(err)
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	sets, err := ingest.ReadDraws(*drawsPath)
	if err != nil {
		fatal(err)
	}

	cells := map[int64]ingest.Cell{}
	if *cellsPath != "" {
		cells, err = ingest.ReadCells(*cellsPath)
		if err != nil {
			fatal(err)
		}
	}

	res, err := ingest.Run(context.Background(), backend, sets, cells, publishMode)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("published %d records from %d draw sets to %s (%s)\n",
		res.Records, res.DrawSets, res.BackendID, res.Mode)
}

func openBackend(kind, dataDir, dbPath string) (storage.Backend, error) {
	switch kind {
	case config.KindParquet:
		return parquetdir.New(dataDir)
	case config.KindDuckDB:
		return duck.New(duck.Config{Path: dbPath})
	default:
		return nil, fmt.Errorf("unsupported output backend %q (want parquet or duckdb)", kind)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "prepare: %v\n", err)
	os.Exit(1)
}
