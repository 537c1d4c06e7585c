package domain

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// RescaleStatus describes what Rescale did to one target's weights.
type RescaleStatus struct {
	AllMissing bool // No source had a finite value; the caller must emit the fill value.
	Clamped    bool // The restricted weight sum exceeded 1 and was clamped.
}

// Rescale renormalizes weights over the sources marked valid so that the
// returned weights sum to 1 over available data. Invalid entries (or entries
// whose weight is not finite) get weight 0. The input slice is not modified.
func Rescale(weights []float64, valid []bool) ([]float64, RescaleStatus) {
	out := make([]float64, len(weights))
	for i, w := range weights {
		if i < len(valid) && valid[i] && isFinite(w) {
			out[i] = w
		}
	}

	sum := floats.Sum(out)
	if sum <= 0 {
		return out, RescaleStatus{AllMissing: true}
	}

	var status RescaleStatus
	if sum > 1+ConservationTolerance {
		status.Clamped = true
	}
	floats.Scale(1/sum, out)
	return out, status
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
