package logging

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

// recordingHandler captures emitted records for inspection. Derived
// handlers share the record sink.
type recordingHandler struct {
	mu      *sync.Mutex
	attrs   []slog.Attr
	records *[]slog.Record
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	r.AddAttrs(h.attrs...)
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &recordingHandler{mu: h.mu, attrs: merged, records: h.records}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) recorded() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.records
}

func attrsOf(r slog.Record) map[string]string {
	out := make(map[string]string)
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.String()
		return true
	})
	return out
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentAttribute(t *testing.T) {
	h := newRecordingHandler()
	InitWithHandler(h)
	defer Init(slog.LevelInfo, false)

	Component("cache").Info("snapshot cached")

	records := h.recorded()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if got := attrsOf(records[0])["component"]; got != "cache" {
		t.Errorf("component attribute %q, want %q", got, "cache")
	}
}

func TestWithContextCarriesRequestScope(t *testing.T) {
	h := newRecordingHandler()
	InitWithHandler(h)
	defer Init(slog.LevelInfo, false)

	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctx = ContextWithBackendID(ctx, "parquet:/data")

	WithContext(ctx).Info("query executed")

	records := h.recorded()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	attrs := attrsOf(records[0])
	if attrs["request_id"] != "req-42" {
		t.Errorf("request_id %q, want %q", attrs["request_id"], "req-42")
	}
	if attrs["backend"] != "parquet:/data" {
		t.Errorf("backend %q, want %q", attrs["backend"], "parquet:/data")
	}
}

func TestWithContextWithoutScope(t *testing.T) {
	h := newRecordingHandler()
	InitWithHandler(h)
	defer Init(slog.LevelInfo, false)

	WithContext(context.Background()).Info("plain")

	records := h.recorded()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	attrs := attrsOf(records[0])
	if _, ok := attrs["request_id"]; ok {
		t.Error("request_id attribute present without scope")
	}
	if _, ok := attrs["backend"]; ok {
		t.Error("backend attribute present without scope")
	}
}
