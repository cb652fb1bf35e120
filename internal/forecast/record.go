// Package forecast defines the published forecast data model: the 13-metric
// schema, grid-cell records, raw posterior draw sets, the draw summarizer,
// and the pre-publication schema validator.
package forecast

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// monthPattern matches the external YYYY-MM month representation.
var monthPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// Month is a calendar year-month in YYYY-MM form. The representation is
// chosen so that lexicographic order equals chronological order.
type Month string

// ParseMonth validates a YYYY-MM string.
func ParseMonth(s string) (Month, error) {
	m := monthPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("invalid month %q: want YYYY-MM", s)
	}
	mon, _ := strconv.Atoi(m[2])
	if mon < 1 || mon > 12 {
		return "", fmt.Errorf("invalid month %q: month out of range", s)
	}
	return Month(s), nil
}

// Valid reports whether the month is well formed.
func (m Month) Valid() bool {
	_, err := ParseMonth(string(m))
	return err == nil
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	parts := monthPattern.FindStringSubmatch(string(m))
	year, _ := strconv.Atoi(parts[1])
	mon, _ := strconv.Atoi(parts[2])
	mon++
	if mon > 12 {
		mon = 1
		year++
	}
	return Month(fmt.Sprintf("%04d-%02d", year, mon))
}

// UpcomingMonths returns n consecutive months starting from the current
// calendar month. Used to seed sample snapshots.
func UpcomingMonths(n int) []Month {
	months := make([]Month, 0, n)
	m := Month(time.Now().UTC().Format("2006-01"))
	for i := 0; i < n; i++ {
		months = append(months, m)
		m = m.Next()
	}
	return months
}

// MonthsBetween expands an inclusive month range in chronological order.
// The caller must have verified start <= end.
func MonthsBetween(start, end Month) []Month {
	var months []Month
	for m := start; m <= end; m = m.Next() {
		months = append(months, m)
	}
	return months
}

// Record is one grid cell's forecast for one month. (GridID, Month) is
// unique within a dataset snapshot. Records are created in bulk by the
// preparation pipeline, immutable once published, and replaced wholesale on
// the next ingestion.
type Record struct {
	GridID    int64
	Month     Month
	CountryID string // zero-padded numeric code, empty when unknown
	Admin1ID  string
	Admin2ID  string
	Latitude  float64
	Longitude float64
	Metrics   map[Metric]float64
}

// Key returns the snapshot-unique identity of the record.
func (r *Record) Key() string {
	return fmt.Sprintf("%d/%s", r.GridID, r.Month)
}

// Project returns a copy of the record carrying only the requested metrics.
func (r *Record) Project(metrics []Metric) Record {
	out := *r
	out.Metrics = make(map[Metric]float64, len(metrics))
	for _, m := range metrics {
		if v, ok := r.Metrics[m]; ok {
			out.Metrics[m] = v
		}
	}
	return out
}

// SortRecords orders records by (grid_id, month) ascending so that repeated
// identical queries produce byte-for-byte identical output.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].GridID != records[j].GridID {
			return records[i].GridID < records[j].GridID
		}
		return records[i].Month < records[j].Month
	})
}

// DrawSet is the raw input to summarization: the ordered posterior
// fatality-count draws for one grid cell and month. Draw sets exist only
// during preparation and are discarded after summarization.
type DrawSet struct {
	GridID int64
	Month  Month
	Draws  []float64
}
