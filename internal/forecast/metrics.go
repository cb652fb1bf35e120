package forecast

import "fmt"

// Metric identifies one of the 13 published forecast metrics.
type Metric string

// The published metric set. Every record carries all 13; queries may
// project a subset.
const (
	MetricMAP       Metric = "map"
	MetricCI50Low   Metric = "ci_50_low"
	MetricCI50High  Metric = "ci_50_high"
	MetricCI90Low   Metric = "ci_90_low"
	MetricCI90High  Metric = "ci_90_high"
	MetricCI99Low   Metric = "ci_99_low"
	MetricCI99High  Metric = "ci_99_high"
	MetricProb0     Metric = "prob_0"
	MetricProb1     Metric = "prob_1"
	MetricProb10    Metric = "prob_10"
	MetricProb100   Metric = "prob_100"
	MetricProb1000  Metric = "prob_1000"
	MetricProb10000 Metric = "prob_10000"
)

// AllMetrics lists every published metric in canonical output order.
var AllMetrics = []Metric{
	MetricMAP,
	MetricCI50Low,
	MetricCI50High,
	MetricCI90Low,
	MetricCI90High,
	MetricCI99Low,
	MetricCI99High,
	MetricProb0,
	MetricProb1,
	MetricProb10,
	MetricProb100,
	MetricProb1000,
	MetricProb10000,
}

// MetricCount is the number of published metrics.
const MetricCount = 13

// metricDescriptions maps each metric to its published description.
var metricDescriptions = map[Metric]string{
	MetricMAP:       "Most Accurate Prediction (median of posterior draws)",
	MetricCI50Low:   "50% confidence interval lower bound",
	MetricCI50High:  "50% confidence interval upper bound",
	MetricCI90Low:   "90% confidence interval lower bound",
	MetricCI90High:  "90% confidence interval upper bound",
	MetricCI99Low:   "99% confidence interval lower bound",
	MetricCI99High:  "99% confidence interval upper bound",
	MetricProb0:     "Probability of 0 or more fatalities",
	MetricProb1:     "Probability of 1 or more fatalities",
	MetricProb10:    "Probability of 10 or more fatalities",
	MetricProb100:   "Probability of 100 or more fatalities",
	MetricProb1000:  "Probability of 1000 or more fatalities",
	MetricProb10000: "Probability of 10000 or more fatalities",
}

// Description returns the published description for a metric.
func (m Metric) Description() string {
	return metricDescriptions[m]
}

// IsProbability reports whether the metric is constrained to [0,1].
func (m Metric) IsProbability() bool {
	switch m {
	case MetricProb0, MetricProb1, MetricProb10, MetricProb100, MetricProb1000, MetricProb10000:
		return true
	}
	return false
}

// ciPairs maps each confidence-interval upper bound to its lower bound.
var ciPairs = map[Metric]Metric{
	MetricCI50High: MetricCI50Low,
	MetricCI90High: MetricCI90Low,
	MetricCI99High: MetricCI99Low,
}

// ParseMetric validates a metric name.
func ParseMetric(name string) (Metric, error) {
	m := Metric(name)
	if _, ok := metricDescriptions[m]; !ok {
		return "", fmt.Errorf("unknown metric %q", name)
	}
	return m, nil
}
