// Package interp provides lattice expansion and midpoint interpolation used to
// derive cell boundaries from cell-center coordinates.
package interp

import (
	"fmt"
	"math"
	"sort"
)

// Point2D represents a 2D coordinate.
type Point2D struct {
	X float64 // Longitude.
	Y float64 // Latitude.
}

// Lerp performs linear interpolation between a and b.
//
//	f(t) = (1-t)a + tb
func Lerp(a, b, t float64) float64 {
	return (1-t)*a + t*b
}

// Validate checks that values form a rectangular lattice of at least 2x2.
func Validate(values [][]float64) error {
	if len(values) < 2 {
		return fmt.Errorf("lattice must have at least 2 rows, got %d", len(values))
	}
	cols := len(values[0])
	if cols < 2 {
		return fmt.Errorf("lattice must have at least 2 columns, got %d", cols)
	}
	for i, row := range values {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), cols)
		}
	}
	return nil
}

// Expand returns an (m+2)x(n+2) lattice whose interior is values and whose
// border is mirror-linearly extrapolated:
//
//	E[0][j]   = 2E[1][j] - E[2][j]        (and symmetric on the other sides)
//	E[0][0]   = 2E[1][1] - E[2][2]        (and symmetric on the other corners)
func Expand(values [][]float64) ([][]float64, error) {
	if err := Validate(values); err != nil {
		return nil, fmt.Errorf("invalid lattice: %w", err)
	}

	m := len(values)
	n := len(values[0])
	e := make([][]float64, m+2)
	for i := range e {
		e[i] = make([]float64, n+2)
	}
	for i := 0; i < m; i++ {
		copy(e[i+1][1:n+1], values[i])
	}

	// Edges.
	for j := 1; j <= n; j++ {
		e[0][j] = 2*e[1][j] - e[2][j]
		e[m+1][j] = 2*e[m][j] - e[m-1][j]
	}
	for i := 1; i <= m; i++ {
		e[i][0] = 2*e[i][1] - e[i][2]
		e[i][n+1] = 2*e[i][n] - e[i][n-1]
	}

	// Corners, mirrored along the diagonal.
	e[0][0] = 2*e[1][1] - e[2][2]
	e[0][n+1] = 2*e[1][n] - e[2][n-1]
	e[m+1][0] = 2*e[m][1] - e[m-1][2]
	e[m+1][n+1] = 2*e[m][n] - e[m-1][n-1]

	return e, nil
}

// neighborOffsets lists the eight neighbors of a lattice node.
var neighborOffsets = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// CellRing returns the boundary of the cell centered at expanded-lattice node
// (i, j): the midpoints between the center and its eight neighbors, ordered
// counter-clockwise by angle around the center. (i, j) must be an interior
// node, i.e. 1 <= i <= m and 1 <= j <= n.
func CellRing(lonE, latE [][]float64, i, j int) ([]Point2D, error) {
	if i < 1 || j < 1 || i >= len(latE)-1 || j >= len(latE[0])-1 {
		return nil, fmt.Errorf("node (%d, %d) is not interior to the expanded lattice", i, j)
	}

	cx, cy := lonE[i][j], latE[i][j]
	ring := make([]Point2D, 0, len(neighborOffsets))
	for _, off := range neighborOffsets {
		ni, nj := i+off[0], j+off[1]
		ring = append(ring, Point2D{
			X: Lerp(cx, lonE[ni][nj], 0.5),
			Y: Lerp(cy, latE[ni][nj], 0.5),
		})
	}

	sort.Slice(ring, func(a, b int) bool {
		return math.Atan2(ring[a].Y-cy, ring[a].X-cx) < math.Atan2(ring[b].Y-cy, ring[b].X-cx)
	})
	return ring, nil
}

// BoxRing returns the axis-aligned square of side res centered at (x, y),
// counter-clockwise from the lower-left corner.
func BoxRing(x, y, res float64) []Point2D {
	h := res / 2
	return []Point2D{
		{X: x - h, Y: y - h},
		{X: x + h, Y: y - h},
		{X: x + h, Y: y + h},
		{X: x - h, Y: y + h},
	}
}
