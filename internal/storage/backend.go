// Package storage defines the common read/replace contract implemented by
// the three interchangeable forecast storage backends (columnar-file,
// relational, remote-object), along with the shared Parquet row codec they
// exchange snapshots in.
//
// Backend selection is a configuration-time decision; the query layer
// depends only on the Backend interface.
package storage

import (
	"context"

	"github.com/xtxerr/gridcast/internal/forecast"
)

// Backend is the common contract of every storage variant.
//
// LoadAll is a full snapshot read and may be expensive; callers route it
// through the cache layer. ReplaceAll is an atomic bulk replace: concurrent
// readers observe either the complete old snapshot or the complete new one,
// never a mix. Append adds records without removing existing rows; it does
// not re-validate (grid_id, month) uniqueness against rows already
// published, only within the appended batch.
type Backend interface {
	// ID identifies the backend instance for cache keying and logging.
	ID() string

	// LoadAll reads the full current snapshot.
	LoadAll(ctx context.Context) ([]forecast.Record, error)

	// ReplaceAll atomically replaces the published snapshot.
	ReplaceAll(ctx context.Context, records []forecast.Record) error

	// Append publishes additional records alongside the existing snapshot.
	Append(ctx context.Context, records []forecast.Record) error
}
