package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/gridcast/internal/forecast"
)

// ForecastRow is the columnar representation of a forecast record. All
// three backends exchange snapshots in this shape: the columnar-file
// backend stores directories of these rows, the remote-object backend
// downloads objects of them, and the ingestion side of the relational
// backend maps them to table columns.
type ForecastRow struct {
	GridID    int64   `parquet:"grid_id"`
	Latitude  float64 `parquet:"latitude"`
	Longitude float64 `parquet:"longitude"`
	CountryID string  `parquet:"country_id,optional,zstd"`
	Admin1ID  string  `parquet:"admin_1_id,optional,zstd"`
	Admin2ID  string  `parquet:"admin_2_id,optional,zstd"`
	Month     string  `parquet:"month,zstd"`

	MAP      float64 `parquet:"map"`
	CI50Low  float64 `parquet:"ci_50_low"`
	CI50High float64 `parquet:"ci_50_high"`
	CI90Low  float64 `parquet:"ci_90_low"`
	CI90High float64 `parquet:"ci_90_high"`
	CI99Low  float64 `parquet:"ci_99_low"`
	CI99High float64 `parquet:"ci_99_high"`

	Prob0     float64 `parquet:"prob_0"`
	Prob1     float64 `parquet:"prob_1"`
	Prob10    float64 `parquet:"prob_10"`
	Prob100   float64 `parquet:"prob_100"`
	Prob1000  float64 `parquet:"prob_1000"`
	Prob10000 float64 `parquet:"prob_10000"`
}

// RecordToRow converts a Record to its columnar representation.
func RecordToRow(r *forecast.Record) ForecastRow {
	return ForecastRow{
		GridID:    r.GridID,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		CountryID: r.CountryID,
		Admin1ID:  r.Admin1ID,
		Admin2ID:  r.Admin2ID,
		Month:     string(r.Month),
		MAP:       r.Metrics[forecast.MetricMAP],
		CI50Low:   r.Metrics[forecast.MetricCI50Low],
		CI50High:  r.Metrics[forecast.MetricCI50High],
		CI90Low:   r.Metrics[forecast.MetricCI90Low],
		CI90High:  r.Metrics[forecast.MetricCI90High],
		CI99Low:   r.Metrics[forecast.MetricCI99Low],
		CI99High:  r.Metrics[forecast.MetricCI99High],
		Prob0:     r.Metrics[forecast.MetricProb0],
		Prob1:     r.Metrics[forecast.MetricProb1],
		Prob10:    r.Metrics[forecast.MetricProb10],
		Prob100:   r.Metrics[forecast.MetricProb100],
		Prob1000:  r.Metrics[forecast.MetricProb1000],
		Prob10000: r.Metrics[forecast.MetricProb10000],
	}
}

// RowToRecord converts a columnar row back to a Record.
func RowToRecord(row *ForecastRow) forecast.Record {
	return forecast.Record{
		GridID:    row.GridID,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		CountryID: row.CountryID,
		Admin1ID:  row.Admin1ID,
		Admin2ID:  row.Admin2ID,
		Month:     forecast.Month(row.Month),
		Metrics: map[forecast.Metric]float64{
			forecast.MetricMAP:       row.MAP,
			forecast.MetricCI50Low:   row.CI50Low,
			forecast.MetricCI50High:  row.CI50High,
			forecast.MetricCI90Low:   row.CI90Low,
			forecast.MetricCI90High:  row.CI90High,
			forecast.MetricCI99Low:   row.CI99Low,
			forecast.MetricCI99High:  row.CI99High,
			forecast.MetricProb0:     row.Prob0,
			forecast.MetricProb1:     row.Prob1,
			forecast.MetricProb10:    row.Prob10,
			forecast.MetricProb100:   row.Prob100,
			forecast.MetricProb1000:  row.Prob1000,
			forecast.MetricProb10000: row.Prob10000,
		},
	}
}

// WriteRows encodes records as a compressed Parquet stream.
func WriteRows(w io.Writer, records []forecast.Record) error {
	writer := parquet.NewGenericWriter[ForecastRow](w,
		parquet.Compression(compressionCodec()))

	rows := make([]ForecastRow, len(records))
	for i := range records {
		rows[i] = RecordToRow(&records[i])
	}

	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// ReadRows decodes every record from a Parquet byte slice.
func ReadRows(data []byte) ([]forecast.Record, error) {
	rows, err := parquet.Read[ForecastRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	records := make([]forecast.Record, len(rows))
	for i := range rows {
		records[i] = RowToRecord(&rows[i])
	}
	return records, nil
}

// compressionCodec returns the codec used for forecast snapshots.
func compressionCodec() compress.Codec {
	return &parquet.Zstd
}
