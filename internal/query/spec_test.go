package query

import (
	"strings"
	"testing"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
)

func TestParseDefaults(t *testing.T) {
	spec, err := Parse(Params{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !spec.FullScan() {
		t.Error("empty params should be a full scan")
	}
	if len(spec.Metrics) != forecast.MetricCount {
		t.Errorf("got %d default metrics, want %d", len(spec.Metrics), forecast.MetricCount)
	}
	if spec.Format != FormatJSON {
		t.Errorf("got default format %q, want json", spec.Format)
	}
	if spec.Months != nil {
		t.Error("no month params should leave month filter nil")
	}
}

func TestParseGridIDs(t *testing.T) {
	spec, err := Parse(Params{GridIDs: []string{"1", "2", "2"}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(spec.GridIDs) != 2 {
		t.Fatalf("got %d grid ids, want 2", len(spec.GridIDs))
	}
	if spec.FullScan() {
		t.Error("grid-id filter should not be a full scan")
	}

	for _, bad := range []string{"abc", "0", "-4", "1.5", ""} {
		if _, err := Parse(Params{GridIDs: []string{bad}}); !errors.Is(err, errors.ErrInvalidFilter) {
			t.Errorf("grid id %q: got %v, want ErrInvalidFilter", bad, err)
		}
	}
}

func TestParseMonthRange(t *testing.T) {
	spec, err := Parse(Params{MonthRange: "2025-08:2025-10"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(spec.Months) != 3 {
		t.Fatalf("got %d months, want 3", len(spec.Months))
	}
	for _, m := range []forecast.Month{"2025-08", "2025-09", "2025-10"} {
		if _, ok := spec.Months[m]; !ok {
			t.Errorf("month %s missing from expanded range", m)
		}
	}
}

func TestParseMonthRangeInverted(t *testing.T) {
	_, err := Parse(Params{MonthRange: "2025-10:2025-08"})
	if !errors.Is(err, errors.ErrInvalidFilter) {
		t.Fatalf("got %v, want ErrInvalidFilter", err)
	}
}

func TestParseMonthsAndRangeCombine(t *testing.T) {
	spec, err := Parse(Params{
		Months:     []string{"2026-01"},
		MonthRange: "2025-08:2025-09",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(spec.Months) != 3 {
		t.Fatalf("got %d months, want 3", len(spec.Months))
	}
}

func TestParseMetricsProjection(t *testing.T) {
	spec, err := Parse(Params{Metrics: []string{"prob_100", "map", "map"}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// Deduplicated, in schema order.
	if len(spec.Metrics) != 2 || spec.Metrics[0] != forecast.MetricMAP || spec.Metrics[1] != forecast.MetricProb100 {
		t.Fatalf("got projection %v", spec.Metrics)
	}

	_, err = Parse(Params{Metrics: []string{"casualties"}})
	if !errors.Is(err, errors.ErrInvalidFilter) {
		t.Fatalf("unknown metric: got %v, want ErrInvalidFilter", err)
	}
}

func TestParseThresholds(t *testing.T) {
	spec, err := Parse(Params{MetricFilters: []string{"prob_100>=0.5", "map<10"}})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(spec.Thresholds) != 2 {
		t.Fatalf("got %d thresholds, want 2", len(spec.Thresholds))
	}

	th := spec.Thresholds[0]
	if th.Metric != forecast.MetricProb100 || th.Op != OpGTE || th.Bound != 0.5 {
		t.Fatalf("unexpected threshold %+v", th)
	}
}

func TestParseThresholdErrorsNameToken(t *testing.T) {
	cases := []string{
		"bogus>=1",
		"map>>1",
		"map>=abc",
		"map",
		"map==",
	}
	for _, raw := range cases {
		_, err := Parse(Params{MetricFilters: []string{raw}})
		if !errors.Is(err, errors.ErrInvalidFilter) {
			t.Errorf("%q: got %v, want ErrInvalidFilter", raw, err)
			continue
		}
		if !strings.Contains(err.Error(), raw) && !strings.Contains(err.Error(), strings.Split(raw, ">")[0]) {
			t.Errorf("%q: error %q does not name the offending token", raw, err)
		}
	}
}

func TestParseCountry(t *testing.T) {
	if _, err := Parse(Params{Country: "729"}); err != nil {
		t.Fatalf("valid country rejected: %v", err)
	}
	for _, bad := range []string{"SE", "7291", "72a"} {
		if _, err := Parse(Params{Country: bad}); !errors.Is(err, errors.ErrInvalidFilter) {
			t.Errorf("country %q: got %v, want ErrInvalidFilter", bad, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	spec, err := Parse(Params{Format: "ndjson"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Format != FormatNDJSON {
		t.Fatalf("got format %q, want ndjson", spec.Format)
	}

	if _, err := Parse(Params{Format: "xml"}); !errors.Is(err, errors.ErrInvalidFilter) {
		t.Fatalf("format xml: got %v, want ErrInvalidFilter", err)
	}
}

func TestThresholdMatches(t *testing.T) {
	cases := []struct {
		op    Op
		value float64
		bound float64
		want  bool
	}{
		{OpGT, 2, 1, true},
		{OpGT, 1, 1, false},
		{OpGTE, 1, 1, true},
		{OpLT, 0.5, 1, true},
		{OpLTE, 1, 1, true},
		{OpEQ, 1, 1, true},
		{OpEQ, 1.1, 1, false},
	}
	for _, tc := range cases {
		th := Threshold{Metric: forecast.MetricMAP, Op: tc.op, Bound: tc.bound}
		if got := th.Matches(tc.value); got != tc.want {
			t.Errorf("%v %s %v: got %v, want %v", tc.value, tc.op, tc.bound, got, tc.want)
		}
	}
}
