package usecase

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/fhs/go-netcdf/netcdf"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/adapter/store"
	"go.ngs.io/basin-remap/internal/adapter/store/csv"
	"go.ngs.io/basin-remap/internal/adapter/store/ncdf"
	"go.ngs.io/basin-remap/internal/config"
	"go.ngs.io/basin-remap/internal/domain"
	"go.ngs.io/basin-remap/internal/observability"
)

const sourceFill = -999

// fakeShapes serves fixed shapes regardless of path.
type fakeShapes struct {
	shapes []domain.TargetShape
	err    error
}

func (f fakeShapes) LoadShapes(string, string) ([]domain.TargetShape, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := append([]domain.TargetShape{}, f.shapes...)
	if err := domain.AssignOrders(out); err != nil {
		return nil, err
	}
	return out, nil
}

func square(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}}
}

func shape(id int64, p geom.Polygon) domain.TargetShape {
	c := p.Centroid()
	return domain.TargetShape{ID: id, CentroidLat: c.Y, CentroidLon: c.X, Geometry: p}
}

// basins are three targets over the [0,2]x[0,2] 1° grid: one inside cell
// (0,0), one split evenly between cells (0,0) and (0,1), one far outside.
func basins() fakeShapes {
	return fakeShapes{shapes: []domain.TargetShape{
		shape(10, square(0.2, 0.2, 0.8, 0.8)),
		shape(20, square(0.5, 0.2, 1.5, 0.8)),
		shape(30, square(10, 10, 11, 11)),
	}}
}

// createSourceNC writes a 2-step (time, lat, lon) runoff field on a 2x2 grid.
// Cell (0,0) is missing in the second step.
func createSourceNC(t *testing.T, path string, nLon int) {
	t.Helper()
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	require.NoError(t, err)
	defer f.Close()

	timeDim, _ := f.AddDim("time", 2)
	latDim, _ := f.AddDim("lat", 2)
	lonDim, _ := f.AddDim("lon", uint64(nLon))
	vtime, _ := f.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	vlat, _ := f.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{latDim})
	vlon, _ := f.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	vfield, _ := f.AddVar("runoff", netcdf.FLOAT, []netcdf.Dim{timeDim, latDim, lonDim})

	require.NoError(t, vtime.Attr("units").WriteBytes([]byte("days since 2000-01-01")))
	require.NoError(t, vtime.Attr("calendar").WriteBytes([]byte("standard")))
	require.NoError(t, vfield.Attr("_FillValue").WriteFloat32s([]float32{sourceFill}))
	require.NoError(t, vfield.Attr("units").WriteBytes([]byte("mm/day")))
	require.NoError(t, f.EndDef())

	lons := make([]float64, nLon)
	for i := range lons {
		lons[i] = 0.5 + float64(i)
	}
	values := make([]float32, 2*2*nLon)
	for i := 0; i < 2*nLon; i++ {
		values[i] = float32(i + 1)
		values[2*nLon+i] = float32(i + 1)
	}
	values[2*nLon] = sourceFill

	require.NoError(t, vtime.WriteFloat64s([]float64{0, 1}))
	require.NoError(t, vlat.WriteFloat64s([]float64{0.5, 1.5}))
	require.NoError(t, vlon.WriteFloat64s(lons))
	require.NoError(t, vfield.WriteFloat32s(values))
}

func testConfig(t *testing.T, files ...string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.CaseName = "test"
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.TableDir = filepath.Join(dir, "tables")
	cfg.Source.Files = files
	cfg.Source.VarNames = []string{"runoff"}
	cfg.Target.Shapefile = "basins.shp"
	cfg.Output.VarNames = []string{"runoff_basin"}
	cfg.Output.Formats = []string{"f4"}
	cfg.Output.FillValues = []float64{-9999}
	cfg.Output.License = "CC-BY-4.0"
	cfg.Run.Workers = 2
	require.NoError(t, cfg.Validate())
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTableUC(cfg config.Config, targets store.ShapeSource) *TableUseCase {
	lib := geometry.NewProvider()
	return NewTableUseCase(cfg, lib, ncdf.Opener(cfg.Source.TimeVar), targets, fakeShapes{},
		discard(), observability.NewMetricsForTesting())
}

func TestTableUseCase_BuildPersistsTable(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.nc")
	createSourceNC(t, src, 2)
	cfg := testConfig(t, src)

	result, err := newTableUC(cfg, basins()).Execute(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, result.Reused)
	assert.Equal(t, domain.Regular, result.Field.Topology)

	summary := result.Table.Summary()
	assert.Equal(t, 3, summary.Targets)
	assert.Equal(t, 1, summary.Uncovered)
	assert.Equal(t, 4, summary.Rows)
	require.NoError(t, result.Table.CheckConservation())

	rows := result.Table.RowsForTarget(20)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].SourceID)
	assert.Equal(t, int64(2), rows[1].SourceID)
	assert.InDelta(t, 0.5, rows[0].Weight, 1e-9)
	assert.InDelta(t, 0.5, rows[1].Weight, 1e-9)

	reloaded, err := csv.ReadTable(cfg.TablePath())
	require.NoError(t, err)
	assert.Equal(t, result.Table.Hash, reloaded.Hash)

	fromNC, err := ncdf.ReadTable(cfg.TableNetCDFPath())
	require.NoError(t, err)
	assert.Equal(t, result.Table.Hash, fromNC.Hash)

	attrs, err := csv.ReadAttributes(cfg.AttributesPath())
	require.NoError(t, err)
	require.Len(t, attrs, 3)
	assert.Equal(t, result.Table.Hash, attrs[0].Hash)
}

func TestTableUseCase_ReuseChecksTopology(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.nc")
	createSourceNC(t, src, 2)
	cfg := testConfig(t, src)

	built, err := newTableUC(cfg, basins()).Execute(context.Background(), src)
	require.NoError(t, err)

	reuse := cfg
	reuse.Output.RemapTable = cfg.TablePath()
	// Target shapes are not needed when the table is reused.
	result, err := newTableUC(reuse, fakeShapes{err: os.ErrNotExist}).Execute(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, result.Reused)
	assert.Equal(t, built.Table.Hash, result.Table.Hash)

	_, err = newTableUC(reuse, basins()).Load(domain.Irregular)
	assert.ErrorIs(t, err, domain.ErrTableSchema)
}

func TestTableUseCase_Idempotent(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.nc")
	createSourceNC(t, src, 2)

	first, err := newTableUC(testConfig(t, src), basins()).Execute(context.Background(), src)
	require.NoError(t, err)
	second, err := newTableUC(testConfig(t, src), basins()).Execute(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, first.Table.Hash, second.Table.Hash)
}

func readOutput(t *testing.T, path, name string) ([]int64, []float32) {
	t.Helper()
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	require.NoError(t, err)
	defer nc.Close()

	idVar, err := nc.Var("ID")
	require.NoError(t, err)
	ids := make([]int64, 3)
	require.NoError(t, idVar.ReadInt64s(ids))

	v, err := nc.Var(name)
	require.NoError(t, err)
	values := make([]float32, 6)
	require.NoError(t, v.ReadFloat32s(values))
	return ids, values
}

func globalText(t *testing.T, path, name string) string {
	t.Helper()
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	require.NoError(t, err)
	defer nc.Close()

	a := nc.Attr(name)
	n, err := a.Len()
	require.NoError(t, err)
	buf := make([]byte, n)
	require.NoError(t, a.ReadBytes(buf))
	return string(buf)
}

func TestApplyUseCase_EndToEnd(t *testing.T) {
	SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { SetClock(nil) })

	dir := t.TempDir()
	srcA := filepath.Join(dir, "a.nc")
	srcB := filepath.Join(dir, "b.nc")
	createSourceNC(t, srcA, 2)
	createSourceNC(t, srcB, 2)
	cfg := testConfig(t, srcA, srcB)
	cfg.Source.CheckConsistency = true

	built, err := newTableUC(cfg, basins()).Execute(context.Background(), srcA)
	require.NoError(t, err)

	metrics := observability.NewMetricsForTesting()
	uc := NewApplyUseCase(cfg, ncdf.Opener("time"), discard(), metrics)
	report, err := uc.Execute(context.Background(), built.Table, built.Field, []string{srcA, srcB})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Files, 2)
	assert.Equal(t, built.Table.Hash, report.TableHash)

	out := cfg.OutputPath(srcB)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "test_remapped_b.nc"), out)
	ids, values := readOutput(t, out, "runoff_basin")
	assert.Equal(t, []int64{10, 20, 30}, ids)

	// Step 0: inside cell (0,0), even split of 1 and 2, outside the domain.
	assert.InDelta(t, 1, values[0], 1e-6)
	assert.InDelta(t, 1.5, values[1], 1e-6)
	assert.InDelta(t, -9999, values[2], 1e-6)
	// Step 1: cell (0,0) is missing, so the split target rescales to cell (0,1).
	assert.InDelta(t, -9999, values[3], 1e-6)
	assert.InDelta(t, 2, values[4], 1e-6)
	assert.InDelta(t, -9999, values[5], 1e-6)

	history := globalText(t, out, "history")
	assert.True(t, strings.HasPrefix(history, "2024-03-01T12:00:00Z: remapped b.nc onto basins.shp"), history)
	assert.Equal(t, built.Table.Hash, globalText(t, out, "remap_table_hash"))
	assert.Equal(t, report.RunID, globalText(t, out, "run_id"))
	assert.Equal(t, "CC-BY-4.0", globalText(t, out, "license"))

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FilesProcessed.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.TimestepsProcessed), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RescaledTargets), 1e-9)
	assert.Equal(t, 1, report.Files[0].Rescaled)
}

func TestApplyUseCase_FailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.nc")
	createSourceNC(t, good, 2)
	missing := filepath.Join(dir, "missing.nc")
	cfg := testConfig(t, good)

	built, err := newTableUC(cfg, basins()).Execute(context.Background(), good)
	require.NoError(t, err)

	metrics := observability.NewMetricsForTesting()
	uc := NewApplyUseCase(cfg, ncdf.Opener("time"), discard(), metrics)
	report, err := uc.Execute(context.Background(), built.Table, built.Field, []string{missing, good})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Error(t, report.Files[0].Err)
	assert.NotEmpty(t, report.Files[0].Error)
	assert.NoError(t, report.Files[1].Err)
	assert.Error(t, report.Err())

	_, statErr := os.Stat(cfg.OutputPath(good))
	assert.NoError(t, statErr)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FilesProcessed.WithLabelValues("error")), 1e-9)
}

func TestApplyUseCase_ConsistencyCheck(t *testing.T) {
	dir := t.TempDir()
	narrow := filepath.Join(dir, "narrow.nc")
	wide := filepath.Join(dir, "wide.nc")
	createSourceNC(t, narrow, 2)
	createSourceNC(t, wide, 3)
	cfg := testConfig(t, narrow, wide)
	cfg.Source.CheckConsistency = true

	built, err := newTableUC(cfg, basins()).Execute(context.Background(), narrow)
	require.NoError(t, err)

	uc := NewApplyUseCase(cfg, ncdf.Opener("time"), discard(), observability.NewMetricsForTesting())
	_, err = uc.Execute(context.Background(), built.Table, built.Field, []string{narrow, wide})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.True(t, domain.IsFatal(err))

	_, statErr := os.Stat(cfg.OutputPath(narrow))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyUseCase_SharedOutputName(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "2000", "runoff.nc")
	second := filepath.Join(dir, "2001", "runoff.nc")
	for _, p := range []string{first, second} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		createSourceNC(t, p, 2)
	}
	cfg := testConfig(t, first, second)

	built, err := newTableUC(cfg, basins()).Execute(context.Background(), first)
	require.NoError(t, err)

	uc := NewApplyUseCase(cfg, ncdf.Opener("time"), discard(), observability.NewMetricsForTesting())
	_, err = uc.Execute(context.Background(), built.Table, built.Field, []string{first, second})
	require.ErrorIs(t, err, domain.ErrConfiguration)

	_, statErr := os.Stat(cfg.OutputPath(first))
	assert.True(t, os.IsNotExist(statErr))
}

func TestApplyUseCase_CancelledContext(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.nc")
	createSourceNC(t, src, 2)
	cfg := testConfig(t, src)

	built, err := newTableUC(cfg, basins()).Execute(context.Background(), src)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	uc := NewApplyUseCase(cfg, ncdf.Opener("time"), discard(), observability.NewMetricsForTesting())
	report, err := uc.Execute(ctx, built.Table, built.Field, []string{src})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.ErrorIs(t, report.Files[0].Err, context.Canceled)
}

func TestRunReport_Err(t *testing.T) {
	r := &RunReport{Files: []FileReport{{Source: "a.nc"}}}
	assert.NoError(t, r.Err())
	r.Files = append(r.Files, FileReport{Source: "b.nc", Err: domain.ErrDimensionMismatch})
	err := r.Err()
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "b.nc")
}

func TestService_PrepareAndRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "basin_2000.nc")
	createSourceNC(t, src, 2)
	cfg := testConfig(t, filepath.Join(dir, "*.nc"))

	metrics := observability.NewMetricsForTesting()
	svc := NewService(newTableUC(cfg, basins()),
		NewApplyUseCase(cfg, ncdf.Opener("time"), discard(), metrics))

	_, err := svc.Table()
	require.ErrorIs(t, err, ErrNoTable)
	_, err = svc.Run(context.Background())
	require.ErrorIs(t, err, ErrNoTable)
	assert.Nil(t, svc.LastReport())

	prepared, err := svc.Prepare(context.Background())
	require.NoError(t, err)
	current, err := svc.Table()
	require.NoError(t, err)
	assert.Same(t, prepared, current)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Files, 1)
	assert.Equal(t, src, report.Files[0].Source)
	assert.Same(t, report, svc.LastReport())
}
