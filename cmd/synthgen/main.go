// Package main generates synthetic source datasets for smoke-testing the
// remapper: a regular (time, lat, lon) grid or an irregular (time, point)
// station set, with a smooth field and optional missing values.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/basin-remap/internal/observability"
)

const fillValue = -9999.0

// Grid defines the geographic bounds and resolution.
type Grid struct {
	LatMin     float64
	LatMax     float64
	LonMin     float64
	LonMax     float64
	Resolution float64 // Degrees.
}

func (g Grid) axes() (lat, lon []float64) {
	nLat := int(math.Round((g.LatMax-g.LatMin)/g.Resolution)) + 1
	nLon := int(math.Round((g.LonMax-g.LonMin)/g.Resolution)) + 1
	lat = make([]float64, nLat)
	for i := range lat {
		lat[i] = g.LatMin + float64(i)*g.Resolution
	}
	lon = make([]float64, nLon)
	for j := range lon {
		lon[j] = g.LonMin + float64(j)*g.Resolution
	}
	return lat, lon
}

func main() {
	out := flag.String("out", "./data/synthetic.nc", "Output NetCDF path")
	layout := flag.String("layout", "regular", "Layout: regular or irregular")
	varName := flag.String("var", "runoff", "Field variable name")
	steps := flag.Int("steps", 24, "Number of time steps")
	latMin := flag.Float64("lat-min", 30.0, "Minimum latitude")
	latMax := flag.Float64("lat-max", 40.0, "Maximum latitude")
	lonMin := flag.Float64("lon-min", 130.0, "Minimum longitude")
	lonMax := flag.Float64("lon-max", 145.0, "Maximum longitude")
	resolution := flag.Float64("resolution", 0.25, "Grid resolution in degrees")
	points := flag.Int("points", 200, "Number of stations (irregular layout)")
	missing := flag.Float64("missing", 0.0, "Fraction of values written as missing")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	logger := observability.NewLogger("info", "text")

	grid := Grid{LatMin: *latMin, LatMax: *latMax, LonMin: *lonMin, LonMax: *lonMax, Resolution: *resolution}
	if grid.Resolution <= 0 || grid.LatMax < grid.LatMin || grid.LonMax < grid.LonMin {
		logger.Error("invalid grid", "grid", fmt.Sprintf("%+v", grid))
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		logger.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed)) //nolint:gosec // G404: Synthetic data only.

	var err error
	switch *layout {
	case "regular":
		err = writeRegular(*out, *varName, grid, *steps, *missing, rng)
	case "irregular":
		err = writeIrregular(*out, *varName, grid, *points, *steps, *missing, rng)
	default:
		err = fmt.Errorf("unknown layout %q (use regular or irregular)", *layout)
	}
	if err != nil {
		logger.Error("generation failed", "error", err)
		os.Exit(1)
	}
	logger.Info("synthetic dataset written", "path", *out, "layout", *layout, "steps", *steps)
}

// field is a smooth travelling wave, always positive.
func field(lat, lon float64, step int) float64 {
	phase := float64(step) * math.Pi / 12
	return 10 +
		3*math.Sin(lat*math.Pi/15+phase) +
		2*math.Cos(lon*math.Pi/20) +
		math.Sin((lat+lon)*math.Pi/25)
}

func maybeMissing(v, fraction float64, rng *rand.Rand) float64 {
	if fraction > 0 && rng.Float64() < fraction {
		return fillValue
	}
	return v
}

func writeRegular(path, varName string, grid Grid, steps int, missing float64, rng *rand.Rand) error {
	lat, lon := grid.axes()
	data := make([]float32, 0, steps*len(lat)*len(lon))
	for t := 0; t < steps; t++ {
		for _, y := range lat {
			for _, x := range lon {
				data = append(data, float32(maybeMissing(field(y, x, t), missing, rng)))
			}
		}
	}
	return writeNetCDF(path, varName, steps, lat, lon, []string{"lat", "lon"}, data)
}

func writeIrregular(path, varName string, grid Grid, n, steps int, missing float64, rng *rand.Rand) error {
	lat := make([]float64, n)
	lon := make([]float64, n)
	for i := 0; i < n; i++ {
		lat[i] = grid.LatMin + rng.Float64()*(grid.LatMax-grid.LatMin)
		lon[i] = grid.LonMin + rng.Float64()*(grid.LonMax-grid.LonMin)
	}
	data := make([]float32, 0, steps*n)
	for t := 0; t < steps; t++ {
		for i := 0; i < n; i++ {
			data = append(data, float32(maybeMissing(field(lat[i], lon[i], t), missing, rng)))
		}
	}
	return writeNetCDF(path, varName, steps, lat, lon, []string{"station"}, data)
}

// writeNetCDF writes a time series over either (lat, lon) axes or a single
// station dimension shared by lat and lon.
func writeNetCDF(path, varName string, steps int, lat, lon []float64, spatial []string, data []float32) error {
	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer ds.Close()

	timeDim, err := ds.AddDim("time", uint64(steps)) //nolint:gosec // G115: Non-negative flag value.
	if err != nil {
		return err
	}
	var latDim, lonDim netcdf.Dim
	fieldDims := []netcdf.Dim{timeDim}
	if len(spatial) == 2 {
		if latDim, err = ds.AddDim(spatial[0], uint64(len(lat))); err != nil {
			return err
		}
		if lonDim, err = ds.AddDim(spatial[1], uint64(len(lon))); err != nil {
			return err
		}
		fieldDims = append(fieldDims, latDim, lonDim)
	} else {
		if latDim, err = ds.AddDim(spatial[0], uint64(len(lat))); err != nil {
			return err
		}
		lonDim = latDim
		fieldDims = append(fieldDims, latDim)
	}

	timeVar, err := ds.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	if err != nil {
		return err
	}
	latVar, err := ds.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{latDim})
	if err != nil {
		return err
	}
	lonVar, err := ds.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	if err != nil {
		return err
	}
	dataVar, err := ds.AddVar(varName, netcdf.FLOAT, fieldDims)
	if err != nil {
		return err
	}

	attrs := []struct {
		v     netcdf.Var
		name  string
		value string
	}{
		{timeVar, "units", "hours since 2000-01-01 00:00:00"},
		{timeVar, "calendar", "gregorian"},
		{latVar, "units", "degrees_north"},
		{lonVar, "units", "degrees_east"},
		{dataVar, "units", "mm/h"},
		{dataVar, "long_name", "synthetic " + varName},
	}
	for _, a := range attrs {
		if err := a.v.Attr(a.name).WriteBytes([]byte(a.value)); err != nil {
			return fmt.Errorf("attribute %s: %w", a.name, err)
		}
	}
	if err := dataVar.Attr("_FillValue").WriteFloat32s([]float32{fillValue}); err != nil {
		return err
	}

	if err := ds.EndDef(); err != nil {
		return err
	}

	times := make([]float64, steps)
	for i := range times {
		times[i] = float64(i)
	}
	if err := timeVar.WriteFloat64s(times); err != nil {
		return err
	}
	if err := latVar.WriteFloat64s(lat); err != nil {
		return err
	}
	if err := lonVar.WriteFloat64s(lon); err != nil {
		return err
	}
	return dataVar.WriteFloat32s(data)
}
