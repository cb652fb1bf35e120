package forecast

import (
	"math"
	"sort"
	"strconv"

	"github.com/xtxerr/gridcast/internal/errors"
)

// Fatality-count thresholds for the six published exceedance probabilities.
var thresholds = []struct {
	metric Metric
	value  float64
}{
	{MetricProb0, 0},
	{MetricProb1, 1},
	{MetricProb10, 10},
	{MetricProb100, 100},
	{MetricProb1000, 1000},
	{MetricProb10000, 10000},
}

// Confidence levels for the three published interval pairs.
var ciLevels = []struct {
	level float64
	low   Metric
	high  Metric
}{
	{0.50, MetricCI50Low, MetricCI50High},
	{0.90, MetricCI90Low, MetricCI90High},
	{0.99, MetricCI99Low, MetricCI99High},
}

// Summarize converts a raw posterior draw set into the 13 published metrics.
//
// The point estimate (map) is the median of the draws. This is the one
// consistent rule used everywhere: preparation and any recomputation must
// agree on it.
//
// Confidence interval pairs at level L are the two-sided empirical quantiles
// at (1-L)/2 and 1-(1-L)/2 over the sorted draws, with linear interpolation
// between adjacent order statistics. Threshold probabilities are the
// fraction of draws greater than or equal to the threshold, reduced to
// 32-bit float precision.
//
// An empty draw set and negative or non-finite draw values fail with a data
// error naming the grid cell and month; no metrics are emitted for the set.
func Summarize(ds *DrawSet) (map[Metric]float64, error) {
	if len(ds.Draws) == 0 {
		return nil, errors.NewInvalidData(ds.GridID, string(ds.Month), "empty draw set")
	}

	for i, v := range ds.Draws {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.NewInvalidData(ds.GridID, string(ds.Month),
				"non-finite draw value at index "+strconv.Itoa(i))
		}
		if v < 0 {
			return nil, errors.NewInvalidData(ds.GridID, string(ds.Month),
				"negative draw value at index "+strconv.Itoa(i))
		}
	}

	sorted := make([]float64, len(ds.Draws))
	copy(sorted, ds.Draws)
	sort.Float64s(sorted)

	metrics := make(map[Metric]float64, MetricCount)
	metrics[MetricMAP] = quantile(sorted, 0.5)

	for _, ci := range ciLevels {
		tail := (1 - ci.level) / 2
		low := quantile(sorted, tail)
		high := quantile(sorted, 1-tail)
		// Ties or interpolation rounding must not invert the pair.
		if low > high {
			low = high
		}
		metrics[ci.low] = low
		metrics[ci.high] = high
	}

	n := float64(len(sorted))
	for _, t := range thresholds {
		idx := sort.SearchFloat64s(sorted, t.value)
		frac := (n - float64(idx)) / n
		metrics[t.metric] = float64(float32(frac))
	}

	return metrics, nil
}

// quantile computes the empirical quantile q over sorted draws, linearly
// interpolating between adjacent order statistics.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
