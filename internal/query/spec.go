// Package query parses forecast queries into validated specs and executes
// them against a cached backend snapshot.
package query

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xtxerr/gridcast/internal/errors"
	"github.com/xtxerr/gridcast/internal/forecast"
)

// Format selects the wire representation of a result set.
type Format string

const (
	// FormatJSON is the aggregate single-payload response.
	FormatJSON Format = "json"

	// FormatNDJSON is the incremental newline-delimited response.
	FormatNDJSON Format = "ndjson"
)

// Op is a threshold comparison operator.
type Op string

const (
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
	OpEQ  Op = "=="
)

// Threshold is one parsed metric predicate. Multiple thresholds are ANDed.
type Threshold struct {
	Metric forecast.Metric
	Op     Op
	Bound  float64
}

// Matches reports whether value satisfies the predicate.
func (t Threshold) Matches(value float64) bool {
	switch t.Op {
	case OpGT:
		return value > t.Bound
	case OpGTE:
		return value >= t.Bound
	case OpLT:
		return value < t.Bound
	case OpLTE:
		return value <= t.Bound
	case OpEQ:
		return value == t.Bound
	default:
		return false
	}
}

// Params are the raw, unvalidated query parameters as they arrive on the
// wire.
type Params struct {
	Country       string
	GridIDs       []string
	Months        []string
	MonthRange    string
	Metrics       []string
	MetricFilters []string
	Format        string
}

// Spec is a validated, immutable query. A Spec with no country and no grid
// ids is a deliberate full scan of the snapshot; that mode exists for bulk
// exports and is not an accidental default, since a Spec only comes from an
// explicit Parse call.
type Spec struct {
	Country    string
	GridIDs    map[int64]struct{}
	Months     map[forecast.Month]struct{}
	Metrics    []forecast.Metric
	Thresholds []Threshold
	Format     Format

	// raw inputs retained for the aggregate response echo
	params Params
}

var thresholdPattern = regexp.MustCompile(`^([a-z0-9_]+)(>=|<=|==|>|<)(.+)$`)

// Parse validates raw parameters into a Spec. Every malformed input fails
// with an invalid-filter error naming the offending token; nothing is
// silently dropped or defaulted except the metric projection (all 13) and
// the format (json).
func Parse(p Params) (*Spec, error) {
	spec := &Spec{params: p}

	if p.Country != "" {
		if err := validateCountry(p.Country); err != nil {
			return nil, err
		}
		spec.Country = p.Country
	}

	if len(p.GridIDs) > 0 {
		spec.GridIDs = make(map[int64]struct{}, len(p.GridIDs))
		for _, raw := range p.GridIDs {
			id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil || id <= 0 {
				return nil, errors.NewInvalidFilter(raw, "grid id must be a positive integer")
			}
			spec.GridIDs[id] = struct{}{}
		}
	}

	months, err := parseMonths(p.Months, p.MonthRange)
	if err != nil {
		return nil, err
	}
	spec.Months = months

	metrics, err := parseMetrics(p.Metrics)
	if err != nil {
		return nil, err
	}
	spec.Metrics = metrics

	for _, raw := range p.MetricFilters {
		th, err := parseThreshold(raw)
		if err != nil {
			return nil, err
		}
		spec.Thresholds = append(spec.Thresholds, th)
	}

	switch p.Format {
	case "", string(FormatJSON):
		spec.Format = FormatJSON
	case string(FormatNDJSON):
		spec.Format = FormatNDJSON
	default:
		return nil, errors.NewInvalidFilter(p.Format, "format must be json or ndjson")
	}

	return spec, nil
}

// FullScan reports whether the spec selects the entire snapshot (no country
// and no grid-id filter).
func (s *Spec) FullScan() bool {
	return s.Country == "" && len(s.GridIDs) == 0
}

// validateCountry accepts the numeric country identifiers records carry.
func validateCountry(c string) error {
	if len(c) == 0 || len(c) > 3 {
		return errors.NewInvalidFilter(c, "country must be a numeric code of up to 3 digits")
	}
	for _, r := range c {
		if r < '0' || r > '9' {
			return errors.NewInvalidFilter(c, "country must be a numeric code of up to 3 digits")
		}
	}
	return nil
}

// parseMonths combines the explicit month list and the inclusive range into
// one membership set. nil means no month filtering.
func parseMonths(explicit []string, monthRange string) (map[forecast.Month]struct{}, error) {
	if len(explicit) == 0 && monthRange == "" {
		return nil, nil
	}

	months := make(map[forecast.Month]struct{})
	for _, raw := range explicit {
		m, err := forecast.ParseMonth(raw)
		if err != nil {
			return nil, errors.NewInvalidFilter(raw, "month must be YYYY-MM")
		}
		months[m] = struct{}{}
	}

	if monthRange != "" {
		start, end, ok := strings.Cut(monthRange, ":")
		if !ok {
			return nil, errors.NewInvalidFilter(monthRange, "month range must be YYYY-MM:YYYY-MM")
		}
		from, err := forecast.ParseMonth(start)
		if err != nil {
			return nil, errors.NewInvalidFilter(start, "month must be YYYY-MM")
		}
		to, err := forecast.ParseMonth(end)
		if err != nil {
			return nil, errors.NewInvalidFilter(end, "month must be YYYY-MM")
		}
		if to < from {
			return nil, errors.NewInvalidFilter(monthRange, "month range end precedes start")
		}
		for _, m := range forecast.MonthsBetween(from, to) {
			months[m] = struct{}{}
		}
	}

	return months, nil
}

// parseMetrics resolves the projection, defaulting to all metrics and
// deduplicating while preserving schema order.
func parseMetrics(raw []string) ([]forecast.Metric, error) {
	if len(raw) == 0 {
		out := make([]forecast.Metric, len(forecast.AllMetrics))
		copy(out, forecast.AllMetrics)
		return out, nil
	}

	requested := make(map[forecast.Metric]struct{}, len(raw))
	for _, name := range raw {
		m, err := forecast.ParseMetric(name)
		if err != nil {
			return nil, errors.NewInvalidFilter(name, "unknown metric")
		}
		requested[m] = struct{}{}
	}

	var out []forecast.Metric
	for _, m := range forecast.AllMetrics {
		if _, ok := requested[m]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// parseThreshold parses one predicate token, e.g. "prob_100>=0.5".
func parseThreshold(raw string) (Threshold, error) {
	m := thresholdPattern.FindStringSubmatch(raw)
	if m == nil {
		return Threshold{}, errors.NewInvalidFilter(raw, "expected <metric><op><number>")
	}

	metric, err := forecast.ParseMetric(m[1])
	if err != nil {
		return Threshold{}, errors.NewInvalidFilter(raw, fmt.Sprintf("unknown metric %q", m[1]))
	}

	bound, err := strconv.ParseFloat(m[3], 64)
	if err != nil || math.IsNaN(bound) || math.IsInf(bound, 0) {
		return Threshold{}, errors.NewInvalidFilter(raw, fmt.Sprintf("malformed operand %q", m[3]))
	}

	return Threshold{Metric: metric, Op: Op(m[2]), Bound: bound}, nil
}

// sortedGridIDs returns the grid-id filter in ascending order, for the
// response echo.
func (s *Spec) sortedGridIDs() []int64 {
	if len(s.GridIDs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(s.GridIDs))
	for id := range s.GridIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// sortedMonths returns the month filter in ascending order, for the
// response echo.
func (s *Spec) sortedMonths() []string {
	if len(s.Months) == 0 {
		return nil
	}
	months := make([]string, 0, len(s.Months))
	for m := range s.Months {
		months = append(months, string(m))
	}
	sort.Strings(months)
	return months
}
