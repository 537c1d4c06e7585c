package geometry

import (
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/basin-remap/internal/domain"
)

func box(x0, y0, x1, y1 float64) geom.Polygon {
	return BoundsPolygon(&geom.Bounds{Min: geom.Point{X: x0, Y: y0}, Max: geom.Point{X: x1, Y: y1}})
}

func TestProvider_AreaAndIntersect(t *testing.T) {
	p := NewProvider()

	a := box(0, 0, 2, 2)
	b := box(1, 1, 3, 3)
	assert.InDelta(t, 4.0, p.Area(a), 1e-12)

	isect := p.Intersect(a, b)
	require.NotNil(t, isect)
	assert.InDelta(t, 1.0, p.Area(isect), 1e-12)

	assert.Nil(t, p.Intersect(a, box(5, 5, 6, 6)))
	assert.Zero(t, p.Area(nil))
}

func TestProvider_Index(t *testing.T) {
	p := NewProvider()
	polys := []geom.Polygonal{box(0, 0, 1, 1), box(10, 10, 11, 11), box(0.5, 0.5, 2, 2)}
	idx := p.NewIndex(polys)

	got := idx.Query(box(0.8, 0.8, 0.9, 0.9).Bounds())
	assert.ElementsMatch(t, []int{0, 2}, got)
	assert.Empty(t, idx.Query(box(50, 50, 51, 51).Bounds()))
}

func TestProvider_RepairKeepsValidPolygon(t *testing.T) {
	p := NewProvider()
	sq := box(0, 0, 1, 1)

	repaired, err := p.Repair(sq)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Area(repaired), 1e-12)

	buffered, err := p.BufferZero(sq)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Area(buffered), 1e-12)
}

func TestProvider_Voronoi(t *testing.T) {
	p := NewProvider()
	sites := []geom.Point{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 0, Y: 2}, {X: 2, Y: 2}}
	clip := &geom.Bounds{Min: geom.Point{X: -1, Y: -1}, Max: geom.Point{X: 3, Y: 3}}

	cells, err := p.Voronoi(sites, clip)
	require.NoError(t, err)
	require.Len(t, cells, 4)

	total := 0.0
	for i, c := range cells {
		assert.InDelta(t, 4.0, p.Area(c), 1e-9, "cell %d", i)
		b := c.Bounds()
		assert.True(t, sites[i].X >= b.Min.X && sites[i].X <= b.Max.X, "cell %d does not cover its site", i)
		total += p.Area(c)
	}
	assert.InDelta(t, 16.0, total, 1e-9)
}

func TestEqualArea(t *testing.T) {
	projected, err := ToEqualArea(box(0, 0, 1, 1))
	require.NoError(t, err)

	want := AuthalicRadius * AuthalicRadius * (math.Pi / 180) * math.Sin(math.Pi/180)
	assert.InDelta(t, want, projected.Area(), want*1e-9)

	_, _, err = EqualArea(0, 91)
	assert.Error(t, err)
}

func TestCorrectFrame_PreservesCountAndArea(t *testing.T) {
	shapes := []geom.Polygonal{
		box(10, 0, 20, 10),
		box(170, 0, 190, 10),
		box(200, -5, 210, 5),
	}
	corrected, err := CorrectFrame(shapes)
	require.NoError(t, err)
	require.Len(t, corrected, len(shapes))

	for i := range shapes {
		assert.InDelta(t, shapes[i].Area(), corrected[i].Area(), 1e-9, "shape %d", i)
		b := corrected[i].Bounds()
		assert.GreaterOrEqual(t, b.Min.X, -180.0)
		assert.LessOrEqual(t, b.Max.X, 180.0)
	}
	assert.InDelta(t, -160.0, corrected[2].Bounds().Min.X, 1e-12)
}

func TestCorrectFrame_ShapeOutsideBands(t *testing.T) {
	_, err := CorrectFrame([]geom.Polygonal{box(0, 0, 1, 1), box(400, 0, 410, 1)})
	assert.ErrorIs(t, err, domain.ErrFrameCorrection)
}

func TestNeedsFrameCorrection(t *testing.T) {
	sources := []geom.Polygonal{box(0, -10, 360, 10)}
	assert.False(t, NeedsFrameCorrection(sources, []geom.Polygonal{box(10, 0, 20, 5)}))
	assert.True(t, NeedsFrameCorrection(sources, []geom.Polygonal{box(-20, 0, -10, 5)}))
}

func TestClipLatitude(t *testing.T) {
	inside := box(0, 10, 1, 11)
	clipped, err := ClipLatitude([]geom.Polygonal{inside, box(0, 89.5, 1, 90.5), nil, box(0, -90.5, 1, -89.5)})
	require.NoError(t, err)
	require.Len(t, clipped, 4)

	assert.Equal(t, geom.Polygonal(inside), clipped[0])
	assert.InDelta(t, 0.5, clipped[1].Area(), 1e-12)
	assert.InDelta(t, 90.0, clipped[1].Bounds().Max.Y, 1e-12)
	assert.Nil(t, clipped[2])
	assert.InDelta(t, -90.0, clipped[3].Bounds().Min.Y, 1e-12)

	_, err = ClipLatitude([]geom.Polygonal{box(0, 91, 1, 92)})
	assert.ErrorIs(t, err, domain.ErrDegenerateGeometry)
}
