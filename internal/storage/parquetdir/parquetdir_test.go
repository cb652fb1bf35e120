package parquetdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/storage"
)

func testRecords(t *testing.T, n int) []forecast.Record {
	t.Helper()

	records := forecast.GenerateSample([]forecast.Month{"2025-08"}, 10)
	if len(records) < n {
		t.Fatalf("sample too small: %d < %d", len(records), n)
	}
	return records[:n]
}

func TestRoundTrip(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := testRecords(t, 5)
	if err := b.ReplaceAll(context.Background(), want); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}

	for i := range want {
		if got[i].Key() != want[i].Key() {
			t.Errorf("record %d: got key %s, want %s", i, got[i].Key(), want[i].Key())
		}
		for _, m := range forecast.AllMetrics {
			if got[i].Metrics[m] != want[i].Metrics[m] {
				t.Errorf("record %d metric %s: got %v, want %v",
					i, m, got[i].Metrics[m], want[i].Metrics[m])
			}
		}
	}
}

func TestLoadAllEmptyDirectory(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d records from empty directory, want 0", len(got))
	}
}

func TestAppendAccumulates(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	records := testRecords(t, 6)
	if err := b.Append(context.Background(), records[:4]); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	if err := b.Append(context.Background(), records[4:]); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("got %d records after two appends, want 6", len(got))
	}
}

func TestReplaceAllRemovesAppendSegments(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	records := testRecords(t, 4)
	if err := b.Append(context.Background(), records[:2]); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.ReplaceAll(context.Background(), records[2:]); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records after replace, want 2", len(got))
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("got %d segments after replace, want 1: %v", len(paths), paths)
	}
}

func TestReplaceAllLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.ReplaceAll(context.Background(), testRecords(t, 3)); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// A replace writes its segment before swapping the manifest, so for a
// moment old and new segments coexist on disk. A reader arriving in that
// window must resolve through the manifest and see one snapshot, not the
// union of both.
func TestLoadAllIgnoresUnlistedSegments(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	records := testRecords(t, 10)
	if err := b.Append(context.Background(), records[:5]); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// An incoming snapshot written but not yet published.
	f, err := os.Create(filepath.Join(dir, "forecasts-9999999999999-0001.parquet"))
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	if err := storage.WriteRows(f, records[5:]); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close segment: %v", err)
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d records, want 5 (published snapshot only)", len(got))
	}
	for i := range got {
		if got[i].Key() != records[i].Key() {
			t.Errorf("record %d: got key %s, want %s", i, got[i].Key(), records[i].Key())
		}
	}
}

func TestLoadAllStaleManifest(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	manifest := filepath.Join(dir, "MANIFEST")
	if err := os.WriteFile(manifest, []byte("forecasts-gone.parquet\n"), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	_, err = b.LoadAll(context.Background())
	if !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Fatalf("got %v, want ErrBackendUnavailable", err)
	}
}

func TestLoadAllCancelled(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.ReplaceAll(context.Background(), testRecords(t, 2)); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.LoadAll(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
