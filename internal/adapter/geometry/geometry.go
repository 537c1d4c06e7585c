// Package geometry is the boundary to the geometry libraries: polygon area,
// intersection, repair, centroid, bounds, spatial indexing and Voronoi
// tessellation.
package geometry

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// Library is the narrow set of geometry operations the remapping engine needs.
type Library interface {
	// Area returns the planar area of p in its own units.
	Area(p geom.Polygonal) float64
	// Intersect returns the intersection of a and b, or nil when they do not overlap.
	Intersect(a, b geom.Polygonal) geom.Polygonal
	// BufferZero repairs self-intersections by buffering with zero width.
	BufferZero(p geom.Polygonal) (geom.Polygonal, error)
	// Repair returns p unchanged when valid, otherwise BufferZero(p).
	Repair(p geom.Polygonal) (geom.Polygonal, error)
	// Centroid returns the area-weighted centroid of p.
	Centroid(p geom.Polygonal) geom.Point
	// Bounds returns the bounding box of p.
	Bounds(p geom.Polygonal) *geom.Bounds
	// NewIndex builds a spatial index over polys; Query returns slice positions.
	NewIndex(polys []geom.Polygonal) Index
	// Voronoi returns one cell per site, clipped to clip and in site order.
	Voronoi(sites []geom.Point, clip *geom.Bounds) ([]geom.Polygonal, error)
}

// Index answers bounding-box queries over a fixed polygon set.
type Index interface {
	Query(b *geom.Bounds) []int
}

// Provider implements Library with ctessum/geom for planar operations and
// GEOS for repair and Voronoi tessellation.
type Provider struct{}

// NewProvider creates a geometry provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Area returns the planar area of p.
func (Provider) Area(p geom.Polygonal) float64 {
	if p == nil {
		return 0
	}
	return p.Area()
}

// Intersect returns a ∩ b, or nil if empty.
func (Provider) Intersect(a, b geom.Polygonal) geom.Polygonal {
	if a == nil || b == nil {
		return nil
	}
	if !a.Bounds().Overlaps(b.Bounds()) {
		return nil
	}
	isect := a.Intersection(b)
	if len(isect) == 0 {
		return nil
	}
	return isect
}

// Centroid returns the centroid of p.
func (Provider) Centroid(p geom.Polygonal) geom.Point {
	return p.Centroid()
}

// Bounds returns the bounding box of p.
func (Provider) Bounds(p geom.Polygonal) *geom.Bounds {
	return p.Bounds()
}

// indexItem carries the slice position of an indexed polygon.
type indexItem struct {
	geom.Polygonal
	pos int
}

type rtreeIndex struct {
	tree *rtree.Rtree
}

// NewIndex builds an rtree over polys.
func (Provider) NewIndex(polys []geom.Polygonal) Index {
	tree := rtree.NewTree(25, 50)
	for i, p := range polys {
		if p == nil {
			continue
		}
		tree.Insert(indexItem{Polygonal: p, pos: i})
	}
	return &rtreeIndex{tree: tree}
}

// Query returns the positions of polygons whose bounds intersect b.
func (idx *rtreeIndex) Query(b *geom.Bounds) []int {
	found := idx.tree.SearchIntersect(b)
	out := make([]int, 0, len(found))
	for _, f := range found {
		out = append(out, f.(indexItem).pos)
	}
	return out
}

// RingPolygon builds a single-ring polygon from x/y pairs.
func RingPolygon(xs, ys []float64) (geom.Polygon, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("ring has %d x values and %d y values", len(xs), len(ys))
	}
	if len(xs) < 3 {
		return nil, fmt.Errorf("ring needs at least 3 points, got %d", len(xs))
	}
	path := make(geom.Path, len(xs))
	for i := range xs {
		path[i] = geom.Point{X: xs[i], Y: ys[i]}
	}
	return geom.Polygon{path}, nil
}

// BoundsPolygon converts a bounding box into a polygon.
func BoundsPolygon(b *geom.Bounds) geom.Polygon {
	return geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
	}}
}

// UnionBounds returns the bounding box enclosing all polys.
func UnionBounds(polys []geom.Polygonal) *geom.Bounds {
	b := geom.NewBounds()
	for _, p := range polys {
		if p != nil {
			b.Extend(p.Bounds())
		}
	}
	return b
}

// Contains reports whether inner lies within outer (inclusive).
func Contains(outer, inner *geom.Bounds) bool {
	return inner.Min.X >= outer.Min.X && inner.Max.X <= outer.Max.X &&
		inner.Min.Y >= outer.Min.Y && inner.Max.Y <= outer.Max.Y
}
