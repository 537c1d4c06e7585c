package domain

import "errors"

// Error taxonomy for the remapping engine. Callers match with errors.Is;
// producers wrap with fmt.Errorf("...: %w", ErrX) to add detail.
var (
	// ErrClassification means the coordinate dimensionality is not recognized.
	ErrClassification = errors.New("classification error")

	// ErrProjection means a non-WGS84 input was supplied where WGS84 is required.
	ErrProjection = errors.New("projection error")

	// ErrFrameCorrection means longitude-band decomposition changed the shape count.
	ErrFrameCorrection = errors.New("frame correction error")

	// ErrDegenerateGeometry means irregular points remained coincident after nudging.
	ErrDegenerateGeometry = errors.New("degenerate geometry error")

	// ErrTableSchema means a reused remap table is missing columns or has the wrong case.
	ErrTableSchema = errors.New("table schema error")

	// ErrDimensionMismatch means source files disagree on lat/lon/variable dimensions.
	ErrDimensionMismatch = errors.New("dimension mismatch error")

	// ErrConfiguration covers non-unique ids and inconsistent configuration lists.
	ErrConfiguration = errors.New("configuration error")
)

// IsFatal reports whether err must abort the whole run rather than a single file.
func IsFatal(err error) bool {
	for _, target := range []error{
		ErrClassification,
		ErrProjection,
		ErrFrameCorrection,
		ErrDegenerateGeometry,
		ErrTableSchema,
		ErrDimensionMismatch,
		ErrConfiguration,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
