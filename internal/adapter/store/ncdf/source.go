package ncdf

import (
	"fmt"

	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/basin-remap/internal/adapter/store"
	"go.ngs.io/basin-remap/internal/domain"
)

// Source reads one source dataset. It is not safe for concurrent use.
type Source struct {
	path    string
	nc      netcdf.Dataset
	timeVar string
}

var _ store.FieldSource = (*Source)(nil)

// Open opens a source dataset whose time coordinate is timeVar.
func Open(path, timeVar string) (*Source, error) {
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	return &Source{path: path, nc: nc, timeVar: timeVar}, nil
}

// Opener returns a store.FieldOpener for datasets with the given time variable.
func Opener(timeVar string) store.FieldOpener {
	return func(path string) (store.FieldSource, error) {
		return Open(path, timeVar)
	}
}

// Path returns the file path of the dataset.
func (s *Source) Path() string {
	return s.path
}

// Close closes the underlying file.
func (s *Source) Close() error {
	return s.nc.Close()
}

func (s *Source) variable(name string) (netcdf.Var, error) {
	v, err := s.nc.Var(name)
	if err != nil {
		return netcdf.Var{}, fmt.Errorf("%w: variable %q not found in %s",
			domain.ErrConfiguration, name, s.path)
	}
	return v, nil
}

// Coordinates reads the latitude and longitude variables and the shape of
// the sample field variable.
func (s *Source) Coordinates(latVar, lonVar, fieldVar string) (domain.CoordinateMeta, error) {
	var meta domain.CoordinateMeta

	field, err := s.variable(fieldVar)
	if err != nil {
		return meta, err
	}
	if meta.FieldDims, meta.FieldShape, err = varShape(field); err != nil {
		return meta, fmt.Errorf("failed to read %s shape: %w", fieldVar, err)
	}

	// Read latitude.
	lat, err := s.variable(latVar)
	if err != nil {
		return meta, err
	}
	if meta.LatDims, meta.LatShape, err = varShape(lat); err != nil {
		return meta, fmt.Errorf("failed to read %s shape: %w", latVar, err)
	}
	if meta.Lat, err = readAll(lat); err != nil {
		return meta, fmt.Errorf("failed to read %s: %w", latVar, err)
	}

	// Read longitude.
	lon, err := s.variable(lonVar)
	if err != nil {
		return meta, err
	}
	if meta.LonDims, meta.LonShape, err = varShape(lon); err != nil {
		return meta, fmt.Errorf("failed to read %s shape: %w", lonVar, err)
	}
	if meta.Lon, err = readAll(lon); err != nil {
		return meta, fmt.Errorf("failed to read %s: %w", lonVar, err)
	}

	return meta, nil
}

// Times reads the time coordinate with its units and calendar.
func (s *Source) Times() (store.TimeAxis, error) {
	v, err := s.variable(s.timeVar)
	if err != nil {
		return store.TimeAxis{}, err
	}
	values, err := readAll(v)
	if err != nil {
		return store.TimeAxis{}, fmt.Errorf("failed to read %s: %w", s.timeVar, err)
	}
	return store.TimeAxis{
		Name:     s.timeVar,
		Values:   values,
		Units:    textAttr(v.Attr("units")),
		Calendar: textAttr(v.Attr("calendar")),
	}, nil
}

// ReadStep reads time step step of a (time, row, col) or (time, point) field.
func (s *Source) ReadStep(varName string, step int) (domain.Slice, error) {
	v, err := s.variable(varName)
	if err != nil {
		return domain.Slice{}, err
	}
	_, shape, err := varShape(v)
	if err != nil {
		return domain.Slice{}, err
	}
	if step < 0 || len(shape) == 0 || step >= shape[0] {
		return domain.Slice{}, fmt.Errorf("%w: step %d out of range for %s", domain.ErrDimensionMismatch, step, varName)
	}

	start := make([]uint64, len(shape))
	count := make([]uint64, len(shape))
	start[0] = uint64(step) //nolint:gosec // G115: step is checked above.
	count[0] = 1
	for i := 1; i < len(shape); i++ {
		count[i] = uint64(shape[i]) //nolint:gosec // G115: Lengths come from the file.
	}

	values, err := readSlice(v, start, count)
	if err != nil {
		return domain.Slice{}, fmt.Errorf("failed to read %s step %d: %w", varName, step, err)
	}

	switch len(shape) {
	case 3:
		return domain.Slice{Rows: shape[1], Cols: shape[2], Values: values}, nil
	case 2:
		return domain.Slice{Rows: 1, Cols: shape[1], Values: values}, nil
	default:
		return domain.Slice{}, fmt.Errorf("%w: %s has %d dimensions, expected 2 or 3",
			domain.ErrDimensionMismatch, varName, len(shape))
	}
}

// Attributes reads the units and long_name of a variable.
func (s *Source) Attributes(varName string) (store.VarAttributes, error) {
	v, err := s.variable(varName)
	if err != nil {
		return store.VarAttributes{}, err
	}
	return store.VarAttributes{
		Units:    textAttr(v.Attr("units")),
		LongName: textAttr(v.Attr("long_name")),
	}, nil
}
