package forecast

import (
	"fmt"
	"math/rand"
)

// sampleCountries are the zero-padded numeric codes used for generated data.
var sampleCountries = []string{"004", "104", "231", "562", "729"}

// GenerateSample produces a deterministic synthetic snapshot for local
// development and tests: cellsPerCountry grid cells for each of five
// countries across the given months. Metrics are summarized from synthetic
// draw sets, so every generated record satisfies the published schema.
func GenerateSample(months []Month, cellsPerCountry int) []Record {
	rng := rand.New(rand.NewSource(42))

	var records []Record
	gridID := int64(100000)

	for ci, country := range sampleCountries {
		for c := 0; c < cellsPerCountry; c++ {
			gridID++
			lat := -10.0 + float64(ci)*12 + rng.Float64()*8
			lon := 10.0 + float64(ci)*15 + rng.Float64()*10

			for _, month := range months {
				draws := make([]float64, 500)
				// Mostly quiet cells with an occasional violent tail.
				base := rng.Float64() * 3
				for i := range draws {
					d := rng.ExpFloat64() * base
					if rng.Float64() < 0.02 {
						d += rng.Float64() * 50
					}
					draws[i] = float64(int64(d))
				}

				metrics, err := Summarize(&DrawSet{GridID: gridID, Month: month, Draws: draws})
				if err != nil {
					// Unreachable for generated draws.
					panic(fmt.Sprintf("summarize sample draws: %v", err))
				}

				records = append(records, Record{
					GridID:    gridID,
					Month:     month,
					CountryID: country,
					Latitude:  lat,
					Longitude: lon,
					Metrics:   metrics,
				})
			}
		}
	}

	return records
}
