package s3remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/storage"
)

// fakeClient is an in-memory object store. failures counts down: while
// positive, every call fails.
type fakeClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures int
	calls    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) fail() error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("injected failure")
	}
	return nil
}

func (f *fakeClient) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeClient) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}

	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}

	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}

	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newTestBackend(client Client) *Backend {
	b := New(client, Config{
		Bucket:        "forecasts",
		Prefix:        "snapshots",
		RetryBaseWait: time.Millisecond,
	})
	b.sleepFn = func(time.Duration) {}
	return b
}

func TestRoundTrip(t *testing.T) {
	client := newFakeClient()
	b := newTestBackend(client)

	want := forecast.GenerateSample([]forecast.Month{"2025-08"}, 2)
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
	}

	if _, ok := client.objects["snapshots/MANIFEST"]; !ok {
		t.Fatalf("manifest object missing, have %v", keysOf(client))
	}
	if n := len(parquetKeysOf(client)); n != 1 {
		t.Fatalf("got %d snapshot objects, want 1: %v", n, keysOf(client))
	}
}

func TestReplaceAllPrunesAppendObjects(t *testing.T) {
	client := newFakeClient()
	b := newTestBackend(client)

	records := forecast.GenerateSample([]forecast.Month{"2025-08"}, 2)
	if err := b.Append(context.Background(), records[:5]); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.ReplaceAll(context.Background(), records[5:]); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	if n := len(parquetKeysOf(client)); n != 1 {
		t.Fatalf("got %d snapshot objects after replace, want 1: %v", n, keysOf(client))
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != len(records)-5 {
		t.Fatalf("got %d records, want %d", len(got), len(records)-5)
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	client := newFakeClient()
	b := newTestBackend(client)

	records := forecast.GenerateSample([]forecast.Month{"2025-08"}, 1)
	if err := b.ReplaceAll(context.Background(), records); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	client.failures = 1
	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll after transient failure: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
}

func TestRetryExhaustionReportsUnavailable(t *testing.T) {
	client := newFakeClient()
	client.failures = 100
	b := newTestBackend(client)

	_, err := b.LoadAll(context.Background())
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Fatalf("got %v, want ErrBackendUnavailable", err)
	}
}

func TestSingleKeyBackend(t *testing.T) {
	client := newFakeClient()
	b := New(client, Config{
		Bucket:        "forecasts",
		Key:           "pinned/forecasts.parquet",
		RetryBaseWait: time.Millisecond,
	})
	b.sleepFn = func(time.Duration) {}

	records := forecast.GenerateSample([]forecast.Month{"2025-08"}, 1)
	if err := b.ReplaceAll(context.Background(), records); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	if _, ok := client.objects["pinned/forecasts.parquet"]; !ok {
		t.Fatalf("pinned object missing, have %v", keysOf(client))
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}

	if err := b.Append(context.Background(), records); err == nil {
		t.Fatal("expected Append to fail for single-key backend")
	}
}

// A replace uploads its object before swapping the manifest, so for a
// moment old and new objects coexist under the prefix. A reader arriving
// in that window must resolve through the manifest and see one snapshot,
// not the union of both.
func TestLoadAllIgnoresUnlistedObjects(t *testing.T) {
	client := newFakeClient()
	b := newTestBackend(client)

	records := forecast.GenerateSample([]forecast.Month{"2025-08"}, 2)
	if err := b.ReplaceAll(context.Background(), records[:5]); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	// An incoming snapshot uploaded but not yet published.
	var buf bytes.Buffer
	if err := storage.WriteRows(&buf, records[5:]); err != nil {
		t.Fatalf("encode: %v", err)
	}
	client.mu.Lock()
	client.objects["snapshots/forecasts-9999999999999-0001.parquet"] = buf.Bytes()
	client.mu.Unlock()

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

func TestLoadAllEmptyPrefix(t *testing.T) {
	b := newTestBackend(newFakeClient())

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d records from empty prefix, want 0", len(got))
	}
}

func keysOf(c *fakeClient) []string {
	var keys []string
	for key := range c.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func parquetKeysOf(c *fakeClient) []string {
	var keys []string
	for _, key := range keysOf(c) {
		if strings.HasSuffix(key, ".parquet") {
			keys = append(keys, key)
		}
	}
	return keys
}
