package service

import (
	"fmt"
	"math"
	"time"

	"parking_reservation/internal/domain"
)

// Cost bills the exact elapsed time between entry and exit at hourlyRate,
// rounded half away from zero to the cent. An exit at or before entry costs
// nothing. A non-positive rate is corrupt lot data and is refused.
func Cost(entry, exit time.Time, hourlyRate float64) (float64, error) {
	if hourlyRate <= 0 || math.IsNaN(hourlyRate) || math.IsInf(hourlyRate, 0) {
		return 0, fmt.Errorf("%w: hourly rate %v is not positive", domain.ErrDataIntegrity, hourlyRate)
	}
	elapsed := exit.UTC().Sub(entry.UTC())
	if elapsed <= 0 {
		return 0, nil
	}
	return roundCents(elapsed.Hours() * hourlyRate), nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
