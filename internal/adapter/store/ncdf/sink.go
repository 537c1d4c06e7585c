package ncdf

import (
	"fmt"
	"math"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/basin-remap/internal/adapter/store"
	"go.ngs.io/basin-remap/internal/domain"
)

// Output formats.
const (
	FormatFloat32 = "f4"
	FormatFloat64 = "f8"
	FormatInt32   = "i4"
)

// OutputVar describes one remapped output variable.
type OutputVar struct {
	Name      string
	Format    string
	FillValue float64
	Units     string
	LongName  string
}

// SinkOptions holds file-level settings of an output.
type SinkOptions struct {
	Compression int // Deflate level 1..9; anything else disables compression.
	History     string
	License     string
	TableHash   string
	RunID       string
}

// Sink writes remapped values of one source file, one (1, id) hyperslab per
// WriteStep. Steps never written keep the variable's fill value.
type Sink struct {
	path    string
	nc      netcdf.Dataset
	nTimes  int
	nIDs    int
	vars    map[string]netcdf.Var
	formats map[string]OutputVar
}

// Create defines the output file: dims time and id, coordinate variables
// time, ID, latitude and longitude, and one (time, id) variable per output.
func Create(path string, targets []domain.TargetRef, times store.TimeAxis, outputs []OutputVar, opts SinkOptions) (*Sink, error) {
	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	s := &Sink{
		path:    path,
		nc:      nc,
		nTimes:  len(times.Values),
		nIDs:    len(targets),
		vars:    make(map[string]netcdf.Var, len(outputs)),
		formats: make(map[string]OutputVar, len(outputs)),
	}
	if err := s.define(targets, times, outputs, opts); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("failed to define %s: %w", path, err)
	}
	return s, nil
}

//nolint:gocyclo // Sequential NetCDF definitions.
func (s *Sink) define(targets []domain.TargetRef, times store.TimeAxis, outputs []OutputVar, opts SinkOptions) error {
	// Create dimensions.
	timeDim, err := s.nc.AddDim("time", uint64(s.nTimes)) //nolint:gosec // G115: Non-negative length.
	if err != nil {
		return err
	}
	idDim, err := s.nc.AddDim("id", uint64(s.nIDs)) //nolint:gosec // G115: Non-negative length.
	if err != nil {
		return err
	}

	// Create coordinate variables.
	timeVar, err := s.nc.AddVar("time", netcdf.DOUBLE, []netcdf.Dim{timeDim})
	if err != nil {
		return err
	}
	if err := writeText(timeVar.Attr("units"), times.Units); err != nil {
		return err
	}
	if err := writeText(timeVar.Attr("calendar"), times.Calendar); err != nil {
		return err
	}
	idVar, err := s.nc.AddVar("ID", netcdf.INT64, []netcdf.Dim{idDim})
	if err != nil {
		return err
	}
	if err := writeText(idVar.Attr("long_name"), "target shape id"); err != nil {
		return err
	}
	latVar, err := s.nc.AddVar("latitude", netcdf.DOUBLE, []netcdf.Dim{idDim})
	if err != nil {
		return err
	}
	if err := writeText(latVar.Attr("units"), "degrees_north"); err != nil {
		return err
	}
	lonVar, err := s.nc.AddVar("longitude", netcdf.DOUBLE, []netcdf.Dim{idDim})
	if err != nil {
		return err
	}
	if err := writeText(lonVar.Attr("units"), "degrees_east"); err != nil {
		return err
	}

	// Create data variables.
	for _, out := range outputs {
		v, err := s.addOutput(out, []netcdf.Dim{timeDim, idDim}, opts.Compression)
		if err != nil {
			return fmt.Errorf("variable %s: %w", out.Name, err)
		}
		s.vars[out.Name] = v
		s.formats[out.Name] = out
	}

	// Global attributes.
	for name, value := range map[string]string{
		"history":          opts.History,
		"license":          opts.License,
		"remap_table_hash": opts.TableHash,
		"run_id":           opts.RunID,
	} {
		if err := writeText(s.nc.Attr(name), value); err != nil {
			return fmt.Errorf("global attribute %s: %w", name, err)
		}
	}

	if err := s.nc.EndDef(); err != nil {
		return err
	}

	if len(times.Values) > 0 {
		if err := timeVar.WriteFloat64s(times.Values); err != nil {
			return fmt.Errorf("failed to write time: %w", err)
		}
	}
	ids := make([]int64, len(targets))
	lats := make([]float64, len(targets))
	lons := make([]float64, len(targets))
	for i, t := range targets {
		ids[i], lats[i], lons[i] = t.ID, t.Lat, domain.NormalizeLon180(t.Lon)
	}
	if len(targets) == 0 {
		return nil
	}
	if err := idVar.WriteInt64s(ids); err != nil {
		return fmt.Errorf("failed to write ID: %w", err)
	}
	if err := latVar.WriteFloat64s(lats); err != nil {
		return fmt.Errorf("failed to write latitude: %w", err)
	}
	if err := lonVar.WriteFloat64s(lons); err != nil {
		return fmt.Errorf("failed to write longitude: %w", err)
	}
	return nil
}

func (s *Sink) addOutput(out OutputVar, dims []netcdf.Dim, compression int) (netcdf.Var, error) {
	var typ netcdf.Type
	switch out.Format {
	case FormatFloat32:
		typ = netcdf.FLOAT
	case FormatFloat64:
		typ = netcdf.DOUBLE
	case FormatInt32:
		typ = netcdf.INT
	default:
		return netcdf.Var{}, fmt.Errorf("%w: unknown output format %q", domain.ErrConfiguration, out.Format)
	}
	v, err := s.nc.AddVar(out.Name, typ, dims)
	if err != nil {
		return netcdf.Var{}, err
	}
	if compression >= 1 && compression <= 9 {
		if err := v.SetCompression(true, true, compression); err != nil {
			return netcdf.Var{}, fmt.Errorf("failed to set compression: %w", err)
		}
	}

	// _FillValue must match the variable type.
	fill := v.Attr("_FillValue")
	switch typ {
	case netcdf.FLOAT:
		err = fill.WriteFloat32s([]float32{float32(out.FillValue)})
	case netcdf.DOUBLE:
		err = fill.WriteFloat64s([]float64{out.FillValue})
	case netcdf.INT:
		err = fill.WriteInt32s([]int32{int32(out.FillValue)})
	}
	if err != nil {
		return netcdf.Var{}, fmt.Errorf("failed to write _FillValue: %w", err)
	}
	if err := writeText(v.Attr("units"), out.Units); err != nil {
		return netcdf.Var{}, err
	}
	if err := writeText(v.Attr("long_name"), out.LongName); err != nil {
		return netcdf.Var{}, err
	}
	return v, nil
}

// WriteStep writes the values of one time step of a variable. NaN values
// are replaced by the variable's fill value.
func (s *Sink) WriteStep(varName string, step int, values []float64) error {
	v, ok := s.vars[varName]
	if !ok {
		return fmt.Errorf("unknown output variable %q", varName)
	}
	if step < 0 || step >= s.nTimes {
		return fmt.Errorf("%w: step %d out of range [0, %d)", domain.ErrDimensionMismatch, step, s.nTimes)
	}
	if len(values) != s.nIDs {
		return fmt.Errorf("%w: got %d values for %d targets", domain.ErrDimensionMismatch, len(values), s.nIDs)
	}
	if s.nIDs == 0 {
		return nil
	}

	out := s.formats[varName]
	row := make([]float64, len(values))
	for i, val := range values {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			val = out.FillValue
		}
		row[i] = val
	}
	start := []uint64{uint64(step), 0}    //nolint:gosec // G115: Checked above.
	count := []uint64{1, uint64(s.nIDs)} //nolint:gosec // G115: Non-negative length.
	if err := writeSlice(v, out.Format, row, start, count); err != nil {
		return fmt.Errorf("failed to write %s step %d: %w", varName, step, err)
	}
	return nil
}

// Close closes the file.
func (s *Sink) Close() error {
	if err := s.nc.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return nil
}

func writeSlice(v netcdf.Var, format string, data []float64, start, count []uint64) error {
	switch format {
	case FormatFloat32:
		tmp := make([]float32, len(data))
		for i, val := range data {
			tmp[i] = float32(val)
		}
		return v.WriteFloat32Slice(tmp, start, count)
	case FormatInt32:
		tmp := make([]int32, len(data))
		for i, val := range data {
			tmp[i] = int32(math.Round(val))
		}
		return v.WriteInt32Slice(tmp, start, count)
	default:
		return v.WriteFloat64Slice(data, start, count)
	}
}
