package forecast

import (
	"fmt"
	"math"

	"github.com/xtxerr/gridcast/internal/errors"
)

// ValidateBatch enforces the schema invariants on a batch of candidate
// records before publication. Validation is all-or-nothing: a single
// violation rejects the entire batch, and the returned error enumerates
// every violated record, not just the first.
//
// Checks: positive grid id, well-formed month, coordinate ranges, presence
// of all 13 metrics, probability metrics in [0,1], non-negative finite
// estimate and bounds, low <= high for each confidence pair, and
// (grid_id, month) uniqueness within the batch.
func ValidateBatch(records []Record) error {
	var v errors.SchemaViolations

	seen := make(map[string]bool, len(records))

	for i := range records {
		r := &records[i]
		month := string(r.Month)

		if r.GridID <= 0 {
			v.Add(r.GridID, month, "grid_id", "must be positive")
		}
		if !r.Month.Valid() {
			v.Add(r.GridID, month, "month", "not in YYYY-MM form")
		}
		if r.Latitude < -90 || r.Latitude > 90 {
			v.Add(r.GridID, month, "latitude", fmt.Sprintf("%v out of range [-90,90]", r.Latitude))
		}
		if r.Longitude < -180 || r.Longitude > 180 {
			v.Add(r.GridID, month, "longitude", fmt.Sprintf("%v out of range [-180,180]", r.Longitude))
		}

		key := r.Key()
		if seen[key] {
			v.Add(r.GridID, month, "grid_id/month", "duplicate within batch")
		}
		seen[key] = true

		for _, m := range AllMetrics {
			val, ok := r.Metrics[m]
			if !ok {
				v.Add(r.GridID, month, string(m), "missing")
				continue
			}
			if math.IsNaN(val) || math.IsInf(val, 0) {
				v.Add(r.GridID, month, string(m), "not finite")
				continue
			}
			if val < 0 {
				v.Add(r.GridID, month, string(m), "negative")
			}
			if m.IsProbability() && val > 1 {
				v.Add(r.GridID, month, string(m), fmt.Sprintf("%v above 1", val))
			}
		}

		for high, low := range ciPairs {
			hv, hok := r.Metrics[high]
			lv, lok := r.Metrics[low]
			if hok && lok && lv > hv {
				v.Add(r.GridID, month, string(high),
					fmt.Sprintf("upper bound %v below lower bound %v", hv, lv))
			}
		}
	}

	return v.Err()
}
