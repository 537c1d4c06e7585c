package sourcegeom

import (
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/geom"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/domain"
)

// VoronoiBuilder tessellates irregular points into Voronoi cells.
type VoronoiBuilder struct {
	Lib           geometry.Library
	Tolerance     float64
	NudgeDistance float64
	Margin        float64
}

// Build returns one cell per point, in point order.
func (b VoronoiBuilder) Build(field domain.CoordinateField) ([]domain.SourceUnit, error) {
	n := field.Cols()
	if n == 0 {
		return nil, fmt.Errorf("%w: no points to tessellate", domain.ErrClassification)
	}
	sites := make([]geom.Point, n)
	for i := 0; i < n; i++ {
		sites[i] = geom.Point{X: field.Lon[0][i], Y: field.Lat[0][i]}
	}

	sites, err := Nudge(sites, b.Tolerance, b.NudgeDistance)
	if err != nil {
		return nil, err
	}

	extent := geom.NewBounds()
	for _, s := range sites {
		extent.Extend(s.Bounds())
	}
	cells, err := b.Lib.Voronoi(sites, geometry.BufferBounds(extent, b.Margin))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDegenerateGeometry, err)
	}

	units := make([]domain.SourceUnit, n)
	for i := range units {
		units[i] = domain.SourceUnit{
			ID:          int64(i + 1),
			CentroidLat: field.Lat[0][i],
			CentroidLon: field.Lon[0][i],
			Row:         i,
			Col:         i,
			Geometry:    cells[i],
		}
	}
	return units, nil
}

// Nudge separates points closer than tol: the k-th point of a cluster moves
// k*step along longitude. Points that still coincide afterwards are an
// ErrDegenerateGeometry. The input is not modified.
func Nudge(points []geom.Point, tol, step float64) ([]geom.Point, error) {
	out := make([]geom.Point, len(points))
	copy(out, points)

	order := sortedByX(points)
	moved := make([]bool, len(points))
	for a := 0; a < len(order); a++ {
		i := order[a]
		if moved[i] {
			continue
		}
		k := 0
		for b := a + 1; b < len(order) && points[order[b]].X-points[i].X < tol; b++ {
			j := order[b]
			if moved[j] || distance(points[i], points[j]) >= tol {
				continue
			}
			k++
			moved[j] = true
			out[j].X += float64(k) * step
		}
	}

	if i, j, ok := closePair(out, tol); ok {
		return nil, fmt.Errorf("%w: points %d and %d coincide within %g degrees",
			domain.ErrDegenerateGeometry, i, j, tol)
	}
	return out, nil
}

// closePair finds any two points closer than tol.
func closePair(points []geom.Point, tol float64) (int, int, bool) {
	order := sortedByX(points)
	for a := 0; a < len(order); a++ {
		for b := a + 1; b < len(order) && points[order[b]].X-points[order[a]].X < tol; b++ {
			if distance(points[order[a]], points[order[b]]) < tol {
				i, j := order[a], order[b]
				if i > j {
					i, j = j, i
				}
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func sortedByX(points []geom.Point) []int {
	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return points[order[a]].X < points[order[b]].X
	})
	return order
}

func distance(a, b geom.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
