package geometry

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/twpayne/go-geos"
)

// voronoiCell pairs a tessellation cell with its GEOS form for containment tests.
type voronoiCell struct {
	geom.Polygon
	g *geos.Geom
}

// Voronoi tessellates sites with GEOS and clips every cell to clip. The
// returned cells are in site order; each site must own exactly one cell.
func (Provider) Voronoi(sites []geom.Point, clip *geom.Bounds) ([]geom.Polygonal, error) {
	if len(sites) == 0 {
		return nil, fmt.Errorf("voronoi needs at least one site")
	}

	points := make([]*geos.Geom, len(sites))
	for i, s := range sites {
		points[i] = geos.NewPointFromXY(s.X, s.Y)
	}
	env := toGEOS(BoundsPolygon(clip))

	// A single site owns the whole envelope.
	if len(sites) == 1 {
		return []geom.Polygonal{BoundsPolygon(clip)}, nil
	}

	diagram := geos.NewCollection(geos.TypeIDMultiPoint, points).VoronoiDiagram(env, 0, false)
	if diagram == nil || diagram.IsEmpty() {
		return nil, fmt.Errorf("voronoi diagram is empty")
	}

	// Index the clipped cells so each site only tests nearby cells.
	tree := rtree.NewTree(25, 50)
	for i := 0; i < diagram.NumGeometries(); i++ {
		clipped := diagram.Geometry(i).Intersection(env)
		poly, err := fromGEOS(clipped)
		if err != nil {
			continue
		}
		tree.Insert(voronoiCell{Polygon: poly, g: clipped})
	}

	cells := make([]geom.Polygonal, len(sites))
	for i, s := range sites {
		for _, c := range tree.SearchIntersect(s.Bounds()) {
			cell := c.(voronoiCell)
			if cell.g.Contains(points[i]) {
				cells[i] = cell.Polygon
				break
			}
		}
		if cells[i] == nil {
			return nil, fmt.Errorf("no voronoi cell contains site %d (%g, %g)", i, s.X, s.Y)
		}
	}
	return cells, nil
}

// BufferBounds returns b grown by margin on every side.
func BufferBounds(b *geom.Bounds, margin float64) *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: b.Min.X - margin, Y: b.Min.Y - margin},
		Max: geom.Point{X: b.Max.X + margin, Y: b.Max.Y + margin},
	}
}
