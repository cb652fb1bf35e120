package forecast

import (
	"strings"
	"testing"

	"github.com/xtxerr/gridcast/internal/errors"
)

func validRecord(gridID int64, month Month) Record {
	metrics := make(map[Metric]float64, MetricCount)
	for _, m := range AllMetrics {
		if m.IsProbability() {
			metrics[m] = 0.5
		} else {
			metrics[m] = 10
		}
	}
	metrics[MetricCI50Low] = 5
	metrics[MetricCI90Low] = 3
	metrics[MetricCI99Low] = 1

	return Record{
		GridID:    gridID,
		Month:     month,
		CountryID: "562",
		Latitude:  13.5,
		Longitude: 2.25,
		Metrics:   metrics,
	}
}

func TestValidateBatch_Valid(t *testing.T) {
	batch := []Record{
		validRecord(1, "2025-08"),
		validRecord(1, "2025-09"),
		validRecord(2, "2025-08"),
	}
	if err := ValidateBatch(batch); err != nil {
		t.Fatalf("ValidateBatch: %v", err)
	}
}

func TestValidateBatch_CollectsEveryViolation(t *testing.T) {
	bad1 := validRecord(1, "2025-08")
	bad1.Metrics[MetricProb10] = 1.5

	bad2 := validRecord(2, "2025-08")
	bad2.Metrics[MetricCI90High] = 1
	bad2.Metrics[MetricCI90Low] = 2

	bad3 := validRecord(3, "bad-month")

	err := ValidateBatch([]Record{bad1, bad2, bad3})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !errors.Is(err, errors.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}

	var sv *errors.SchemaViolations
	if !errors.As(err, &sv) {
		t.Fatalf("expected SchemaViolations, got %T", err)
	}
	if len(sv.Violations) != 3 {
		t.Errorf("expected 3 violations, got %d: %v", len(sv.Violations), sv.Violations)
	}
	if !strings.Contains(err.Error(), "grid 2") {
		t.Errorf("error should name grid 2: %s", err)
	}
}

func TestValidateBatch_MissingMetric(t *testing.T) {
	r := validRecord(1, "2025-08")
	delete(r.Metrics, MetricProb1000)

	err := ValidateBatch([]Record{r})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "prob_1000") {
		t.Errorf("error should name the missing metric: %s", err)
	}
}

func TestValidateBatch_DuplicateKey(t *testing.T) {
	err := ValidateBatch([]Record{validRecord(1, "2025-08"), validRecord(1, "2025-08")})
	if err == nil {
		t.Fatal("expected duplicate (grid_id, month) to fail")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention the duplicate: %s", err)
	}
}

func TestValidateBatch_CoordinateRange(t *testing.T) {
	r := validRecord(1, "2025-08")
	r.Latitude = 95

	if err := ValidateBatch([]Record{r}); err == nil {
		t.Fatal("expected latitude out of range to fail")
	}
}

func TestGenerateSample_PassesValidation(t *testing.T) {
	records := GenerateSample([]Month{"2025-08", "2025-09"}, 3)
	if len(records) != 5*3*2 {
		t.Fatalf("expected 30 records, got %d", len(records))
	}
	if err := ValidateBatch(records); err != nil {
		t.Fatalf("generated sample fails validation: %v", err)
	}
}
