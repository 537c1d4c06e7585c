package sourcegeom

import (
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/domain"
)

func regularField(lats, lons []float64) domain.CoordinateField {
	f := domain.CoordinateField{Topology: domain.Regular}
	for _, lat := range lats {
		latRow := make([]float64, len(lons))
		lonRow := make([]float64, len(lons))
		for j, lon := range lons {
			latRow[j] = lat
			lonRow[j] = lon
		}
		f.Lat = append(f.Lat, latRow)
		f.Lon = append(f.Lon, lonRow)
	}
	return f
}

func irregularField(lats, lons []float64) domain.CoordinateField {
	return domain.CoordinateField{
		Topology: domain.Irregular,
		Lat:      [][]float64{lats},
		Lon:      [][]float64{lons},
	}
}

func TestForTopology(t *testing.T) {
	lib := geometry.NewProvider()
	tests := []struct {
		name     string
		topology domain.Topology
		opts     Options
		want     Builder
	}{
		{"regular", domain.Regular, Options{}, QuadBuilder{}},
		{"rotated with resolution", domain.Rotated, Options{Resolution: 0.5}, BoxBuilder{Resolution: 0.5}},
		{"irregular with shapes", domain.Irregular, Options{Shapes: []domain.TargetShape{{ID: 1}}}, ShapefileBuilder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ForTopology(tt.topology, lib, tt.opts)
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
		})
	}

	b, err := ForTopology(domain.Irregular, lib, Options{})
	require.NoError(t, err)
	v, ok := b.(VoronoiBuilder)
	require.True(t, ok)
	assert.Equal(t, DefaultTolerance, v.Tolerance)
	assert.Equal(t, DefaultVoronoiMargin, v.Margin)

	_, err = ForTopology(domain.TopologyUnknown, lib, Options{})
	assert.ErrorIs(t, err, domain.ErrClassification)
}

func TestQuadBuilder_RegularGridCellsTile(t *testing.T) {
	field := regularField([]float64{0.5, 1.5}, []float64{0.5, 1.5, 2.5})

	units, err := QuadBuilder{}.Build(field)
	require.NoError(t, err)
	require.Len(t, units, 6)

	total := 0.0
	for k, u := range units {
		assert.Equal(t, int64(k+1), u.ID)
		assert.InDelta(t, 1.0, u.Geometry.Area(), 1e-12, "cell %d", k)
		total += u.Geometry.Area()
	}
	assert.InDelta(t, 6.0, total, 1e-12)

	last := units[5]
	assert.Equal(t, 1, last.Row)
	assert.Equal(t, 2, last.Col)
	b := last.Geometry.Bounds()
	assert.InDelta(t, 2.0, b.Min.X, 1e-12)
	assert.InDelta(t, 3.0, b.Max.X, 1e-12)
	assert.InDelta(t, 1.0, b.Min.Y, 1e-12)
	assert.InDelta(t, 2.0, b.Max.Y, 1e-12)
}

func TestQuadBuilder_RejectsSingleRow(t *testing.T) {
	_, err := QuadBuilder{}.Build(regularField([]float64{0}, []float64{0, 1}))
	assert.ErrorIs(t, err, domain.ErrClassification)
}

func TestBoxBuilder_SingleRowAllowed(t *testing.T) {
	units, err := BoxBuilder{Resolution: 0.25}.Build(regularField([]float64{10}, []float64{20}))
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.InDelta(t, 0.0625, units[0].Geometry.Area(), 1e-12)
	assert.Equal(t, int64(1), units[0].ID)
}

func TestShapefileBuilder(t *testing.T) {
	shapes := []domain.TargetShape{
		{ID: 11, Geometry: geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}}},
		{ID: 12, Geometry: geom.Polygon{{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 2, Y: 2}}}},
	}
	units, err := ShapefileBuilder{Shapes: shapes}.Build(irregularField([]float64{0.3, 1.3}, []float64{0.6, 1.6}))
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, int64(12), units[1].ID)
	assert.Equal(t, 1, units[1].Col)
	assert.Equal(t, 1.3, units[1].CentroidLat)

	_, err = ShapefileBuilder{Shapes: shapes[:1]}.Build(irregularField([]float64{0, 1}, []float64{0, 1}))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestVoronoiBuilder_CellsCoverPoints(t *testing.T) {
	b := VoronoiBuilder{Lib: geometry.NewProvider(), Tolerance: DefaultTolerance, Margin: 1}
	units, err := b.Build(irregularField([]float64{0, 0, 2}, []float64{0, 2, 1}))
	require.NoError(t, err)
	require.Len(t, units, 3)

	total := 0.0
	for i, u := range units {
		assert.Equal(t, int64(i+1), u.ID)
		assert.Equal(t, i, u.Row)
		assert.Equal(t, i, u.Col)
		total += u.Geometry.Area()
	}
	// Extent [-1, 3] x [-1, 3].
	assert.InDelta(t, 16.0, total, 1e-9)
}

func TestVoronoiBuilder_CoincidentPointsFail(t *testing.T) {
	b := VoronoiBuilder{Lib: geometry.NewProvider(), Tolerance: DefaultTolerance, NudgeDistance: 0, Margin: 1}
	_, err := b.Build(irregularField([]float64{5, 5, 6}, []float64{5, 5, 6}))
	assert.ErrorIs(t, err, domain.ErrDegenerateGeometry)
}

func TestNudge(t *testing.T) {
	points := []geom.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}, {X: 4, Y: 4}}

	out, err := Nudge(points, 1e-5, 1e-3)
	require.NoError(t, err)
	assert.Equal(t, geom.Point{X: 1, Y: 1}, out[0])
	assert.InDelta(t, 1.001, out[1].X, 1e-12)
	assert.InDelta(t, 1.002, out[2].X, 1e-12)
	assert.Equal(t, points[3], out[3])
	// Input untouched.
	assert.Equal(t, 1.0, points[1].X)

	_, err = Nudge(points, 1e-5, 1e-6)
	assert.ErrorIs(t, err, domain.ErrDegenerateGeometry)
}
