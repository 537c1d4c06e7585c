// Package sourcegeom derives one polygon per source unit from a classified
// coordinate field.
package sourcegeom

import (
	"fmt"

	"github.com/ctessum/geom"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/adapter/interp"
	"go.ngs.io/basin-remap/internal/domain"
)

// Builder produces the source units of a coordinate field.
type Builder interface {
	Build(field domain.CoordinateField) ([]domain.SourceUnit, error)
}

// Options controls builder selection and behavior.
type Options struct {
	// Resolution, when positive, replaces lattice-derived cells with boxes of
	// this size in degrees around each center.
	Resolution float64
	// Tolerance is the distance in degrees under which two points coincide.
	Tolerance float64
	// NudgeDistance is the longitude step applied to each coincident point.
	NudgeDistance float64
	// VoronoiMargin grows the tessellation extent around the points, in degrees.
	VoronoiMargin float64
	// Shapes are user-supplied source polygons for irregular sources.
	Shapes []domain.TargetShape
}

// Defaults used when Options fields are zero.
const (
	DefaultTolerance     = 1e-5
	DefaultVoronoiMargin = 2.0
)

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.NudgeDistance < 0 {
		o.NudgeDistance = 0
	}
	if o.VoronoiMargin <= 0 {
		o.VoronoiMargin = DefaultVoronoiMargin
	}
	return o
}

// ForTopology selects the builder for a topology once, so callers never
// branch on the layout again.
func ForTopology(topology domain.Topology, lib geometry.Library, opts Options) (Builder, error) {
	opts = opts.withDefaults()
	switch topology {
	case domain.Regular, domain.Rotated:
		if opts.Resolution > 0 {
			return BoxBuilder{Resolution: opts.Resolution}, nil
		}
		return QuadBuilder{}, nil
	case domain.Irregular:
		if len(opts.Shapes) > 0 {
			return ShapefileBuilder{Shapes: opts.Shapes}, nil
		}
		return VoronoiBuilder{
			Lib:           lib,
			Tolerance:     opts.Tolerance,
			NudgeDistance: opts.NudgeDistance,
			Margin:        opts.VoronoiMargin,
		}, nil
	default:
		return nil, fmt.Errorf("%w: no source geometry builder for topology %s",
			domain.ErrClassification, topology)
	}
}

// GridID returns the source id of grid cell (row, col).
func GridID(row, col, cols int) int64 {
	return int64(row*cols + col + 1)
}

func ringPolygon(ring []interp.Point2D) geom.Polygon {
	path := make(geom.Path, len(ring))
	for i, p := range ring {
		path[i] = geom.Point{X: p.X, Y: p.Y}
	}
	return geom.Polygon{path}
}

// QuadBuilder derives cells from the mid-points between each center and its
// eight neighbors on the mirror-extrapolated lattice.
type QuadBuilder struct{}

// Build returns one unit per grid cell in row-major order.
func (QuadBuilder) Build(field domain.CoordinateField) ([]domain.SourceUnit, error) {
	latE, err := interp.Expand(field.Lat)
	if err != nil {
		return nil, fmt.Errorf("%w: latitude lattice: %v", domain.ErrClassification, err)
	}
	lonE, err := interp.Expand(field.Lon)
	if err != nil {
		return nil, fmt.Errorf("%w: longitude lattice: %v", domain.ErrClassification, err)
	}

	rows, cols := field.Rows(), field.Cols()
	units := make([]domain.SourceUnit, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			ring, err := interp.CellRing(lonE, latE, i+1, j+1)
			if err != nil {
				return nil, fmt.Errorf("failed to build cell (%d, %d): %w", i, j, err)
			}
			units = append(units, domain.SourceUnit{
				ID:          GridID(i, j, cols),
				CentroidLat: field.Lat[i][j],
				CentroidLon: field.Lon[i][j],
				Row:         i,
				Col:         j,
				Geometry:    ringPolygon(ring),
			})
		}
	}
	return units, nil
}

// BoxBuilder uses an axis-aligned box of fixed size around each center.
type BoxBuilder struct {
	Resolution float64
}

// Build returns one box per grid cell in row-major order.
func (b BoxBuilder) Build(field domain.CoordinateField) ([]domain.SourceUnit, error) {
	if b.Resolution <= 0 {
		return nil, fmt.Errorf("%w: source resolution must be positive, got %g",
			domain.ErrConfiguration, b.Resolution)
	}
	rows, cols := field.Rows(), field.Cols()
	units := make([]domain.SourceUnit, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			lat, lon := field.Lat[i][j], field.Lon[i][j]
			units = append(units, domain.SourceUnit{
				ID:          GridID(i, j, cols),
				CentroidLat: lat,
				CentroidLon: lon,
				Row:         i,
				Col:         j,
				Geometry:    ringPolygon(interp.BoxRing(lon, lat, b.Resolution)),
			})
		}
	}
	return units, nil
}

// ShapefileBuilder pairs irregular points with user-supplied polygons by
// position.
type ShapefileBuilder struct {
	Shapes []domain.TargetShape
}

// Build assigns shape i to point i.
func (b ShapefileBuilder) Build(field domain.CoordinateField) ([]domain.SourceUnit, error) {
	n := field.Cols()
	if len(b.Shapes) != n {
		return nil, fmt.Errorf("%w: source shapefile has %d shapes for %d points",
			domain.ErrConfiguration, len(b.Shapes), n)
	}
	units := make([]domain.SourceUnit, n)
	for i, shape := range b.Shapes {
		units[i] = domain.SourceUnit{
			ID:          shape.ID,
			CentroidLat: field.Lat[0][i],
			CentroidLon: field.Lon[0][i],
			Row:         i,
			Col:         i,
			Geometry:    shape.Geometry,
		}
	}
	if err := domain.CheckUniqueSourceIDs(units); err != nil {
		return nil, err
	}
	return units, nil
}
