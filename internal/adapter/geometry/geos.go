package geometry

import (
	"errors"
	"fmt"

	"github.com/ctessum/geom"
	"github.com/twpayne/go-geos"
)

// errEmpty is returned when a GEOS operation produces an empty geometry.
var errEmpty = errors.New("empty geometry")

// BufferZero repairs p with a zero-width GEOS buffer.
func (Provider) BufferZero(p geom.Polygonal) (geom.Polygonal, error) {
	g := toGEOS(p)
	if g == nil {
		return nil, errEmpty
	}
	repaired := g.Buffer(0, 8)
	out, err := fromGEOS(repaired)
	if err != nil {
		return nil, fmt.Errorf("failed to repair polygon: %w", err)
	}
	return out, nil
}

// Repair returns p when GEOS considers it valid, otherwise its zero buffer.
func (pr Provider) Repair(p geom.Polygonal) (geom.Polygonal, error) {
	g := toGEOS(p)
	if g == nil {
		return nil, errEmpty
	}
	if g.IsValid() {
		return p, nil
	}
	return pr.BufferZero(p)
}

// toGEOS converts a ctessum polygonal into a GEOS (multi)polygon. The first
// ring of each polygon is the shell and the remaining rings are holes.
func toGEOS(p geom.Polygonal) *geos.Geom {
	if p == nil {
		return nil
	}
	var parts []*geos.Geom
	for _, poly := range p.Polygons() {
		if len(poly) == 0 {
			continue
		}
		coordss := make([][][]float64, 0, len(poly))
		for _, ring := range poly {
			if len(ring) < 3 {
				continue
			}
			coords := make([][]float64, 0, len(ring)+1)
			for _, pt := range ring {
				coords = append(coords, []float64{pt.X, pt.Y})
			}
			// GEOS requires closed rings.
			if first, last := ring[0], ring[len(ring)-1]; first != last {
				coords = append(coords, []float64{first.X, first.Y})
			}
			coordss = append(coordss, coords)
		}
		if len(coordss) > 0 {
			parts = append(parts, geos.NewPolygon(coordss))
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return geos.NewCollection(geos.TypeIDMultiPolygon, parts)
	}
}

// fromGEOS converts a GEOS polygon, multipolygon or collection of polygons
// into a ctessum polygon. Non-areal members are dropped.
func fromGEOS(g *geos.Geom) (geom.Polygon, error) {
	if g == nil || g.IsEmpty() {
		return nil, errEmpty
	}
	var out geom.Polygon
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		out = append(out, ringPath(g.ExteriorRing()))
		for i := 0; i < g.NumInteriorRings(); i++ {
			out = append(out, ringPath(g.InteriorRing(i)))
		}
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		for i := 0; i < g.NumGeometries(); i++ {
			part, err := fromGEOS(g.Geometry(i))
			if errors.Is(err, errEmpty) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, part...)
		}
	default:
		return nil, errEmpty
	}
	if len(out) == 0 {
		return nil, errEmpty
	}
	return out, nil
}

// ringPath converts a closed GEOS ring into an open ctessum path.
func ringPath(ring *geos.Geom) geom.Path {
	coords := ring.CoordSeq().ToCoords()
	if n := len(coords); n > 1 && coords[0][0] == coords[n-1][0] && coords[0][1] == coords[n-1][1] {
		coords = coords[:n-1]
	}
	path := make(geom.Path, len(coords))
	for i, c := range coords {
		path[i] = geom.Point{X: c[0], Y: c[1]}
	}
	return path
}
