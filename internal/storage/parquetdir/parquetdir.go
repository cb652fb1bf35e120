// Package parquetdir implements the columnar-file storage backend: a
// directory of Parquet segments holding one forecast snapshot.
//
// Segment membership is governed by a manifest file. LoadAll reads only
// the segments the manifest lists, and publishers swap the manifest via
// temp-file + rename, so a reader observes the segment set of exactly one
// manifest generation and never a mix of two snapshots.
package parquetdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/logging"
	"github.com/xtxerr/gridcast/internal/storage"
)

var log = logging.Component("parquetdir")

// manifestName is the file listing the live segments, one name per line.
const manifestName = "MANIFEST"

// loadRetries bounds how often LoadAll restarts after a concurrent replace
// pruned a segment between the manifest read and the segment read.
const loadRetries = 3

// Backend reads and writes forecast snapshots in a local directory of
// Parquet files.
type Backend struct {
	dir string
	seq atomic.Uint64
}

// New creates a columnar-file backend rooted at dir, creating the
// directory if needed.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Backend{dir: dir}, nil
}

// ID identifies the backend instance.
func (b *Backend) ID() string {
	return "parquet:" + b.dir
}

// LoadAll reads every manifest-listed segment, in manifest order. A missing
// manifest yields an empty snapshot, not an error. When a listed segment
// disappears mid-read a replace ran concurrently; the load restarts from
// the new manifest.
func (b *Backend) LoadAll(ctx context.Context) ([]forecast.Record, error) {
	for attempt := 0; attempt < loadRetries; attempt++ {
		names, err := b.readManifest()
		if err != nil {
			return nil, err
		}

		records, stale, err := b.readSegments(ctx, names)
		if err != nil {
			return nil, err
		}
		if stale {
			continue
		}

		log.Debug("snapshot loaded", "segments", len(names), "records", len(records))
		return records, nil
	}

	return nil, errors.Wrapf(errors.ErrBackendUnavailable,
		"snapshot kept changing during read (%d attempts)", loadRetries)
}

// ReplaceAll atomically replaces the snapshot: the records go into a fresh
// uniquely-named segment, the manifest is swapped to list only that
// segment, and unreferenced segments are pruned afterwards. A concurrent
// reader resolves segments through the old manifest or the new one, never
// a mix of both.
func (b *Backend) ReplaceAll(ctx context.Context, records []forecast.Record) error {
	name := b.segmentName()
	if err := b.writeSegment(ctx, filepath.Join(b.dir, name), records); err != nil {
		return err
	}
	if err := b.writeManifest([]string{name}); err != nil {
		return err
	}

	b.prune(map[string]bool{name: true})

	log.Info("snapshot replaced", "records", len(records), "segment", name)
	return nil
}

// Append publishes an additional segment and adds it to the manifest
// without touching existing segments.
func (b *Backend) Append(ctx context.Context, records []forecast.Record) error {
	names, err := b.readManifest()
	if err != nil {
		return err
	}

	name := b.segmentName()
	if err := b.writeSegment(ctx, filepath.Join(b.dir, name), records); err != nil {
		return err
	}
	if err := b.writeManifest(append(names, name)); err != nil {
		return err
	}

	log.Info("segment appended", "records", len(records), "segment", name)
	return nil
}

func (b *Backend) segmentName() string {
	return fmt.Sprintf("forecasts-%d-%04d.parquet", time.Now().UnixMilli(), b.seq.Add(1))
}

// readSegments decodes the listed segments. stale reports that a listed
// segment vanished underneath us and the caller should re-read the
// manifest.
func (b *Backend) readSegments(ctx context.Context, names []string) (records []forecast.Record, stale bool, err error) {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		data, err := os.ReadFile(filepath.Join(b.dir, name))
		if os.IsNotExist(err) {
			return nil, true, nil
		}
		if err != nil {
			return nil, false, errors.Wrapf(errors.ErrBackendUnavailable, "read segment %s: %v", name, err)
		}

		segment, err := storage.ReadRows(data)
		if err != nil {
			return nil, false, fmt.Errorf("decode segment %s: %w", name, err)
		}
		records = append(records, segment...)
	}
	return records, false, nil
}

// readManifest returns the live segment names. No manifest means an empty
// snapshot.
func (b *Backend) readManifest() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, manifestName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrBackendUnavailable, "read manifest: %v", err)
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// writeManifest swaps the manifest via temp-file + rename.
func (b *Backend) writeManifest(names []string) error {
	tmp, err := os.CreateTemp(b.dir, ".manifest-*.tmp")
	if err != nil {
		return errors.Wrapf(errors.ErrBackendUnavailable, "create temp manifest: %v", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(strings.Join(names, "\n") + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(errors.ErrBackendUnavailable, "write manifest: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(errors.ErrBackendUnavailable, "close manifest: %v", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(b.dir, manifestName)); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(errors.ErrBackendUnavailable, "swap manifest: %v", err)
	}
	return nil
}

// writeSegment writes records to a temporary file in the same directory and
// renames it into place.
func (b *Backend) writeSegment(ctx context.Context, target string, records []forecast.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, ".forecasts-*.tmp")
	if err != nil {
		return errors.Wrapf(errors.ErrBackendUnavailable, "create temp file: %v", err)
	}
	tmpPath := tmp.Name()

	if err := storage.WriteRows(tmp, records); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(errors.ErrBackendUnavailable, "close temp file: %v", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(errors.ErrBackendUnavailable, "rename into place: %v", err)
	}
	return nil
}

// prune removes segment files the manifest no longer references.
func (b *Backend) prune(live map[string]bool) {
	paths, err := filepath.Glob(filepath.Join(b.dir, "*.parquet"))
	if err != nil {
		log.Warn("list segments for prune", "error", err)
		return
	}

	for _, path := range paths {
		if live[filepath.Base(path)] {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("remove superseded segment", "path", path, "error", err)
		}
	}
}
