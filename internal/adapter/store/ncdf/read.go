// Package ncdf reads source fields from and writes remapped outputs and
// remap tables to NetCDF files.
package ncdf

import (
	"fmt"
	"math"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"
)

// varShape returns the dimension names and lengths of a variable.
func varShape(v netcdf.Var) ([]string, []int, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get dimensions: %w", err)
	}
	names := make([]string, len(dims))
	shape := make([]int, len(dims))
	for i, d := range dims {
		if names[i], err = d.Name(); err != nil {
			return nil, nil, fmt.Errorf("failed to get dimension name: %w", err)
		}
		n, err := d.Len()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get dimension length: %w", err)
		}
		shape[i] = int(n) //nolint:gosec // G115: NetCDF dimension lengths fit in int.
	}
	return names, shape, nil
}

// readAll reads a whole variable of any rank as float64, row-major.
func readAll(v netcdf.Var) ([]float64, error) {
	_, shape, err := varShape(v)
	if err != nil {
		return nil, err
	}
	start := make([]uint64, len(shape))
	count := make([]uint64, len(shape))
	for i, n := range shape {
		count[i] = uint64(n) //nolint:gosec // G115: Lengths come from the file.
	}
	return readSlice(v, start, count)
}

// readSlice reads a hyperslab as float64 and applies fill values,
// scale_factor and add_offset. Fill values become NaN.
func readSlice(v netcdf.Var, start, count []uint64) ([]float64, error) {
	varType, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get variable type: %w", err)
	}

	total := 1
	for _, c := range count {
		total *= int(c) //nolint:gosec // G115: Counts come from the file.
	}

	var data []float64
	switch varType {
	case netcdf.DOUBLE:
		data = make([]float64, total)
		if err := v.ReadFloat64Slice(data, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float64 slice: %w", err)
		}
	case netcdf.FLOAT:
		tmp := make([]float32, total)
		if err := v.ReadFloat32Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read float32 slice: %w", err)
		}
		data = make([]float64, total)
		for i, val := range tmp {
			data[i] = float64(val)
		}
	case netcdf.INT:
		tmp := make([]int32, total)
		if err := v.ReadInt32Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int32 slice: %w", err)
		}
		data = make([]float64, total)
		for i, val := range tmp {
			data[i] = float64(val)
		}
	case netcdf.SHORT:
		tmp := make([]int16, total)
		if err := v.ReadInt16Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int16 slice: %w", err)
		}
		data = make([]float64, total)
		for i, val := range tmp {
			data[i] = float64(val)
		}
	case netcdf.INT64:
		tmp := make([]int64, total)
		if err := v.ReadInt64Slice(tmp, start, count); err != nil {
			return nil, fmt.Errorf("failed to read int64 slice: %w", err)
		}
		data = make([]float64, total)
		for i, val := range tmp {
			data[i] = float64(val)
		}
	default:
		return nil, fmt.Errorf("unsupported data type: %v (expected DOUBLE, FLOAT, INT, SHORT or INT64)", varType)
	}

	// Fill values are compared before unpacking.
	fills := fillValues(v)
	if len(fills) > 0 {
		for i, val := range data {
			for _, fv := range fills {
				if val == fv {
					data[i] = math.NaN()
					break
				}
			}
		}
	}

	scale, hasScale := numberAttr(v.Attr("scale_factor"))
	offset, hasOffset := numberAttr(v.Attr("add_offset"))
	if (hasScale && scale != 0 && scale != 1) || (hasOffset && offset != 0) {
		if !hasScale || scale == 0 {
			scale = 1
		}
		for i := range data {
			data[i] = data[i]*scale + offset
		}
	}

	return data, nil
}

// fillValues returns the _FillValue and missing_value attributes, if present.
func fillValues(v netcdf.Var) []float64 {
	var out []float64
	for _, name := range []string{"_FillValue", "missing_value"} {
		if fv, ok := numberAttr(v.Attr(name)); ok {
			out = append(out, fv)
		}
	}
	return out
}

// numberAttr reads the first value of a numeric attribute.
func numberAttr(a netcdf.Attr) (float64, bool) {
	n, err := a.Len()
	if err != nil || n == 0 {
		return 0, false
	}
	t, err := a.Type()
	if err != nil {
		return 0, false
	}
	switch t {
	case netcdf.DOUBLE:
		buf := make([]float64, n)
		if err := a.ReadFloat64s(buf); err == nil {
			return buf[0], true
		}
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err := a.ReadFloat32s(buf); err == nil {
			return float64(buf[0]), true
		}
	case netcdf.INT:
		buf := make([]int32, n)
		if err := a.ReadInt32s(buf); err == nil {
			return float64(buf[0]), true
		}
	case netcdf.SHORT:
		buf := make([]int16, n)
		if err := a.ReadInt16s(buf); err == nil {
			return float64(buf[0]), true
		}
	}
	return 0, false
}

// textAttr reads a character attribute, or "" if absent.
func textAttr(a netcdf.Attr) string {
	n, err := a.Len()
	if err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}

// writeText writes a character attribute, skipping empty values.
func writeText(a netcdf.Attr, value string) error {
	if value == "" {
		return nil
	}
	return a.WriteBytes([]byte(value))
}
