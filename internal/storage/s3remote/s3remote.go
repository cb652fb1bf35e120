// Package s3remote implements the remote-object storage backend. It
// downloads Parquet snapshot objects from a bucket under a configured
// prefix (or a single pinned key) and delegates decoding to the shared
// columnar codec. Network calls run with bounded timeouts and retries
// behind a circuit breaker; exhausting the budget surfaces a
// backend-unavailable error rather than hanging.
//
// Under a prefix, object membership is governed by a manifest object.
// LoadAll reads only the objects the manifest lists, and publishers swap
// the manifest with a single PUT (atomic per object), so a reader observes
// the object set of exactly one manifest generation and never a mix of two
// snapshots.
package s3remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker/v2"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
	"github.com/xtxerr/gridcast/internal/logging"
	"github.com/xtxerr/gridcast/internal/storage"
)

var log = logging.Component("s3remote")

// manifestName is the object listing the live snapshot keys, one per line.
const manifestName = "MANIFEST"

// loadRetries bounds how often LoadAll restarts after a concurrent replace
// pruned an object between the manifest read and the object download.
const loadRetries = 3

// errNoSuchObject marks a download of an object that does not exist. It is
// not transient, so it bypasses the retry budget and does not count as a
// breaker failure.
var errNoSuchObject = errors.New("object does not exist")

// Client abstracts the S3 operations used by the backend, for testability.
type Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds remote backend configuration.
type Config struct {
	// Bucket is the bucket name.
	Bucket string

	// Prefix scopes the manifest and publication. Ignored when Key is set.
	Prefix string

	// Key pins the backend to a single object instead of a manifest under
	// the prefix.
	Key string

	// MaxAttempts bounds retries per network operation.
	MaxAttempts int

	// RetryBaseWait is the initial backoff between attempts; it doubles
	// per attempt.
	RetryBaseWait time.Duration

	// OpTimeout bounds a single network operation.
	OpTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		RetryBaseWait: 500 * time.Millisecond,
		OpTimeout:     30 * time.Second,
	}
}

// Backend serves forecast snapshots from a remote object store.
type Backend struct {
	client  Client
	config  Config
	breaker *gobreaker.CircuitBreaker[[]byte]
	seq     atomic.Uint64
	sleepFn func(time.Duration) // for testability; defaults to time.Sleep
}

// New creates a remote-object backend over the given client.
func New(client Client, cfg Config) *Backend {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBaseWait <= 0 {
		cfg.RetryBaseWait = def.RetryBaseWait
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "s3remote",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNoSuchObject)
		},
	})

	return &Backend{
		client:  client,
		config:  cfg,
		breaker: cb,
		sleepFn: time.Sleep,
	}
}

// ID identifies the backend instance.
func (b *Backend) ID() string {
	if b.config.Key != "" {
		return "s3:" + b.config.Bucket + "/" + b.config.Key
	}
	return "s3:" + b.config.Bucket + "/" + b.config.Prefix
}

// LoadAll downloads and decodes the published snapshot objects. A missing
// manifest (or missing pinned key) yields an empty snapshot. When a listed
// object disappears mid-read a replace ran concurrently; the load restarts
// from the new manifest.
func (b *Backend) LoadAll(ctx context.Context) ([]forecast.Record, error) {
	if b.config.Key != "" {
		data, err := b.download(ctx, b.config.Key)
		if errors.Is(err, errNoSuchObject) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		records, err := storage.ReadRows(data)
		if err != nil {
			return nil, fmt.Errorf("decode object %s: %w", b.config.Key, err)
		}
		return records, nil
	}

	for attempt := 0; attempt < loadRetries; attempt++ {
		keys, err := b.readManifest(ctx)
		if err != nil {
			return nil, err
		}

		var records []forecast.Record
		stale := false
		for _, key := range keys {
			data, err := b.download(ctx, key)
			if errors.Is(err, errNoSuchObject) {
				stale = true
				break
			}
			if err != nil {
				return nil, err
			}

			segment, err := storage.ReadRows(data)
			if err != nil {
				return nil, fmt.Errorf("decode object %s: %w", key, err)
			}
			records = append(records, segment...)
		}
		if stale {
			continue
		}

		log.Debug("snapshot loaded", "objects", len(keys), "records", len(records))
		return records, nil
	}

	return nil, errors.Wrapf(errors.ErrBackendUnavailable,
		"snapshot kept changing during read (%d attempts)", loadRetries)
}

// ReplaceAll atomically replaces the snapshot. With a pinned key the PUT
// itself is the swap (atomic per object). Under a prefix the records go
// into a fresh uniquely-named object, the manifest is swapped to list only
// that object, and unreferenced objects are pruned afterwards; a concurrent
// reader resolves objects through the old manifest or the new one, never a
// mix of both.
func (b *Backend) ReplaceAll(ctx context.Context, records []forecast.Record) error {
	if b.config.Key != "" {
		if err := b.upload(ctx, b.config.Key, records); err != nil {
			return err
		}
		log.Info("snapshot replaced", "records", len(records), "key", b.config.Key)
		return nil
	}

	target := b.targetKey(b.objectName())
	if err := b.upload(ctx, target, records); err != nil {
		return err
	}
	if err := b.writeManifest(ctx, []string{target}); err != nil {
		return err
	}

	b.prune(ctx, map[string]bool{target: true})

	log.Info("snapshot replaced", "records", len(records), "key", target)
	return nil
}

// Append uploads an additional object and adds it to the manifest without
// touching existing objects.
func (b *Backend) Append(ctx context.Context, records []forecast.Record) error {
	if b.config.Key != "" {
		return fmt.Errorf("append unsupported for single-key backend %s", b.ID())
	}

	keys, err := b.readManifest(ctx)
	if err != nil {
		return err
	}

	target := b.targetKey(b.objectName())
	if err := b.upload(ctx, target, records); err != nil {
		return err
	}
	if err := b.writeManifest(ctx, append(keys, target)); err != nil {
		return err
	}

	log.Info("object appended", "records", len(records), "key", target)
	return nil
}

func (b *Backend) objectName() string {
	return fmt.Sprintf("forecasts-%d-%04d.parquet", time.Now().UnixMilli(), b.seq.Add(1))
}

// readManifest returns the live snapshot keys. No manifest means an empty
// snapshot.
func (b *Backend) readManifest(ctx context.Context) ([]string, error) {
	data, err := b.download(ctx, b.targetKey(manifestName))
	if errors.Is(err, errNoSuchObject) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			keys = append(keys, line)
		}
	}
	return keys, nil
}

// writeManifest swaps the manifest object with a single PUT.
func (b *Backend) writeManifest(ctx context.Context, keys []string) error {
	body := []byte(strings.Join(keys, "\n") + "\n")
	key := b.targetKey(manifestName)

	_, err := b.withRetry(ctx, "upload "+key, func(ctx context.Context) ([]byte, error) {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		})
		return nil, err
	})
	return err
}

// prune deletes snapshot objects the manifest no longer references.
func (b *Backend) prune(ctx context.Context, live map[string]bool) {
	keys, err := b.listSegments(ctx)
	if err != nil {
		log.Warn("list objects for prune", "error", err)
		return
	}

	for _, key := range keys {
		if live[key] {
			continue
		}
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			log.Warn("delete superseded object", "key", key, "error", err)
		}
	}
}

// listSegments collects every .parquet object under the prefix (paginated).
func (b *Backend) listSegments(ctx context.Context) ([]string, error) {
	prefix := strings.Trim(b.config.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	var keys []string
	var continuation *string

	for {
		_, err := b.withRetry(ctx, "list objects", func(ctx context.Context) ([]byte, error) {
			resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(b.config.Bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuation,
			})
			if err != nil {
				return nil, err
			}
			for _, obj := range resp.Contents {
				if obj.Key != nil && strings.HasSuffix(*obj.Key, ".parquet") {
					keys = append(keys, *obj.Key)
				}
			}
			continuation = nil
			if resp.IsTruncated != nil && *resp.IsTruncated {
				continuation = resp.NextContinuationToken
			}
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		if continuation == nil {
			break
		}
	}

	return keys, nil
}

// download fetches one object body.
func (b *Backend) download(ctx context.Context, key string) ([]byte, error) {
	return b.withRetry(ctx, "download "+key, func(ctx context.Context) ([]byte, error) {
		resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var missing *types.NoSuchKey
			if errors.As(err, &missing) {
				return nil, errNoSuchObject
			}
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
}

// upload encodes and PUTs one snapshot object.
func (b *Backend) upload(ctx context.Context, key string, records []forecast.Record) error {
	var buf bytes.Buffer
	if err := storage.WriteRows(&buf, records); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err := b.withRetry(ctx, "upload "+key, func(ctx context.Context) ([]byte, error) {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.config.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(buf.Bytes()),
		})
		return nil, err
	})
	return err
}

// withRetry runs op through the circuit breaker with bounded attempts and
// doubling backoff, honoring context cancellation between attempts. A
// missing object is reported as-is without consuming the retry budget.
func (b *Backend) withRetry(ctx context.Context, what string, op func(context.Context) ([]byte, error)) ([]byte, error) {
	var lastErr error
	wait := b.config.RetryBaseWait

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := b.breaker.Execute(func() ([]byte, error) {
			opCtx, cancel := context.WithTimeout(ctx, b.config.OpTimeout)
			defer cancel()
			return op(opCtx)
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, errNoSuchObject) {
			return nil, err
		}
		lastErr = err

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			break
		}

		log.Warn("remote operation failed", "op", what, "attempt", attempt, "error", err)
		if attempt < b.config.MaxAttempts {
			b.sleepFn(wait)
			wait *= 2
		}
	}

	return nil, errors.Wrapf(errors.ErrBackendUnavailable, "%s after %d attempts: %v",
		what, b.config.MaxAttempts, lastErr)
}

// targetKey joins the prefix and an object name.
func (b *Backend) targetKey(name string) string {
	if b.config.Key != "" {
		return b.config.Key
	}
	prefix := strings.Trim(b.config.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
