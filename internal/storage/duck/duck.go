// Package duck implements the relational storage backend on DuckDB.
// Records live in a single forecasts table keyed by (grid_id, month);
// ReplaceAll repopulates the table inside one transaction so readers never
// see a partially replaced table.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/logging"
	"github.com/xtxerr/gridcast/internal/storage"
)

var log = logging.Component("duck")

// Config holds relational backend configuration.
type Config struct {
	// Path is the database file path. Empty means in-memory.
	Path string

	// QueryTimeout bounds individual statements.
	QueryTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{QueryTimeout: 30 * time.Second}
}

// Backend stores forecast records in a DuckDB table.
type Backend struct {
	db     *sql.DB
	config Config
}

// "map" must stay quoted: it is a reserved word in DuckDB.
const schema = `
CREATE TABLE IF NOT EXISTS forecasts (
	grid_id    BIGINT NOT NULL,
	month      VARCHAR NOT NULL,
	country_id VARCHAR,
	admin_1_id VARCHAR,
	admin_2_id VARCHAR,
	latitude   DOUBLE NOT NULL,
	longitude  DOUBLE NOT NULL,
	"map"      DOUBLE NOT NULL,
	ci_50_low  DOUBLE NOT NULL,
	ci_50_high DOUBLE NOT NULL,
	ci_90_low  DOUBLE NOT NULL,
	ci_90_high DOUBLE NOT NULL,
	ci_99_low  DOUBLE NOT NULL,
	ci_99_high DOUBLE NOT NULL,
	prob_0     DOUBLE NOT NULL,
	prob_1     DOUBLE NOT NULL,
	prob_10    DOUBLE NOT NULL,
	prob_100   DOUBLE NOT NULL,
	prob_1000  DOUBLE NOT NULL,
	prob_10000 DOUBLE NOT NULL
)`

const columnList = `grid_id, month, country_id, admin_1_id, admin_2_id, latitude, longitude,
	"map", ci_50_low, ci_50_high, ci_90_low, ci_90_high, ci_99_low, ci_99_high,
	prob_0, prob_1, prob_10, prob_100, prob_1000, prob_10000`

// New opens (or creates) the database and ensures the forecasts table
// exists. No primary key is declared: append-mode ingestion may
// legitimately introduce rows that collide with previously published ones.
func New(cfg Config) (*Backend, error) {
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(errors.ErrBackendUnavailable, "ping database: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Backend{db: db, config: cfg}, nil
}

// ID identifies the backend instance.
func (b *Backend) ID() string {
	if b.config.Path == "" {
		return "duckdb:memory"
	}
	return "duckdb:" + b.config.Path
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// LoadAll reads the full forecasts table.
func (b *Backend) LoadAll(ctx context.Context) ([]forecast.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.QueryTimeout)
	defer cancel()

	rows, err := b.db.QueryContext(ctx, "SELECT "+columnList+" FROM forecasts")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBackendUnavailable, "query forecasts: %v", err)
	}
	defer rows.Close()

	var records []forecast.Record
	for rows.Next() {
		var row storage.ForecastRow
		var country, admin1, admin2 sql.NullString

		err := rows.Scan(
			&row.GridID, &row.Month, &country, &admin1, &admin2,
			&row.Latitude, &row.Longitude,
			&row.MAP, &row.CI50Low, &row.CI50High,
			&row.CI90Low, &row.CI90High, &row.CI99Low, &row.CI99High,
			&row.Prob0, &row.Prob1, &row.Prob10,
			&row.Prob100, &row.Prob1000, &row.Prob10000,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row.CountryID = country.String
		row.Admin1ID = admin1.String
		row.Admin2ID = admin2.String
		records = append(records, storage.RowToRecord(&row))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrBackendUnavailable, "iterate forecasts: %v", err)
	}

	log.Debug("snapshot loaded", "records", len(records))
	return records, nil
}

// ReplaceAll repopulates the table in one transaction: truncate then bulk
// insert, so a concurrent reader sees the old rows until commit.
func (b *Backend) ReplaceAll(ctx context.Context, records []forecast.Record) error {
	return b.publish(ctx, records, true)
}

// Append inserts records without removing existing rows.
func (b *Backend) Append(ctx context.Context, records []forecast.Record) error {
	return b.publish(ctx, records, false)
}

func (b *Backend) publish(ctx context.Context, records []forecast.Record, truncate bool) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(errors.ErrBackendUnavailable, "begin transaction: %v", err)
	}
	defer tx.Rollback()

	if truncate {
		if _, err := tx.ExecContext(ctx, "DELETE FROM forecasts"); err != nil {
			return fmt.Errorf("truncate forecasts: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO forecasts (`+columnList+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		row := storage.RecordToRow(&records[i])
		_, err := stmt.ExecContext(ctx,
			row.GridID, row.Month,
			nullable(row.CountryID), nullable(row.Admin1ID), nullable(row.Admin2ID),
			row.Latitude, row.Longitude,
			row.MAP, row.CI50Low, row.CI50High,
			row.CI90Low, row.CI90High, row.CI99Low, row.CI99High,
			row.Prob0, row.Prob1, row.Prob10,
			row.Prob100, row.Prob1000, row.Prob10000,
		)
		if err != nil {
			return fmt.Errorf("insert grid %d month %s: %w", row.GridID, row.Month, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrBackendUnavailable, "commit publish: %v", err)
	}

	log.Info("snapshot published", "records", len(records), "replaced", truncate)
	return nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
