package geometry

import (
	"fmt"

	"github.com/ctessum/geom"

	"go.ngs.io/basin-remap/internal/domain"
)

// frameBand is a longitude band and the shift that brings it into -180..180.
type frameBand struct {
	min, max float64
	shift    float64
}

var frameBands = []frameBand{
	{min: -360, max: -180, shift: 360},
	{min: -180, max: 180, shift: 0},
	{min: 180, max: 360, shift: -360},
}

// NeedsFrameCorrection reports whether the target extent is not contained in
// the source extent.
func NeedsFrameCorrection(sources, targets []geom.Polygonal) bool {
	return !Contains(UnionBounds(sources), UnionBounds(targets))
}

// CorrectFrame brings shapes into the -180..180 longitude frame: every shape
// is clipped to the three bands, each fragment is shifted and the fragments
// of one shape are dissolved back together. A shape that lies entirely
// outside the bands, or loses its area, is an ErrFrameCorrection.
func CorrectFrame(shapes []geom.Polygonal) ([]geom.Polygonal, error) {
	out := make([]geom.Polygonal, 0, len(shapes))
	for i, shape := range shapes {
		if shape == nil {
			out = append(out, nil)
			continue
		}
		var dissolved geom.Polygon
		for _, band := range frameBands {
			box := BoundsPolygon(&geom.Bounds{
				Min: geom.Point{X: band.min, Y: -90},
				Max: geom.Point{X: band.max, Y: 90},
			})
			if !shape.Bounds().Overlaps(box.Bounds()) {
				continue
			}
			piece := shape.Intersection(box)
			if len(piece) == 0 || piece.Area() == 0 {
				continue
			}
			if band.shift != 0 {
				shifted, err := Transform(piece, ShiftLon(band.shift))
				if err != nil {
					return nil, fmt.Errorf("%w: shape %d: %v", domain.ErrFrameCorrection, i, err)
				}
				piece = Flatten(shifted)
			}
			if dissolved == nil {
				dissolved = piece
			} else {
				dissolved = dissolved.Union(piece)
			}
		}
		if len(dissolved) == 0 {
			continue
		}
		out = append(out, dissolved)
	}

	if len(out) != len(shapes) {
		return nil, fmt.Errorf("%w: %d shapes before correction, %d after",
			domain.ErrFrameCorrection, len(shapes), len(out))
	}
	return out, nil
}

// ClipLatitude clips shapes that reach past the poles to -90..90. Lattice
// expansion and Voronoi clip boxes extend half a cell beyond a pole row.
func ClipLatitude(shapes []geom.Polygonal) ([]geom.Polygonal, error) {
	out := make([]geom.Polygonal, len(shapes))
	for i, shape := range shapes {
		if shape == nil {
			continue
		}
		b := shape.Bounds()
		if b.Min.Y >= -90 && b.Max.Y <= 90 {
			out[i] = shape
			continue
		}
		box := BoundsPolygon(&geom.Bounds{
			Min: geom.Point{X: b.Min.X, Y: -90},
			Max: geom.Point{X: b.Max.X, Y: 90},
		})
		piece := shape.Intersection(box)
		if len(piece) == 0 || piece.Area() == 0 {
			return nil, fmt.Errorf("%w: shape %d lies beyond the poles", domain.ErrDegenerateGeometry, i)
		}
		out[i] = piece
	}
	return out, nil
}

// Flatten merges the rings of every member of p into one polygon.
func Flatten(p geom.Polygonal) geom.Polygon {
	if poly, ok := p.(geom.Polygon); ok {
		return poly
	}
	var out geom.Polygon
	for _, member := range p.Polygons() {
		out = append(out, member...)
	}
	return out
}
