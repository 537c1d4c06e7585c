package domain

import (
	"fmt"
	"math"
)

// Topology is the spatial layout of a source dataset.
type Topology int

const (
	// TopologyUnknown is the zero value and never produced by Classify.
	TopologyUnknown Topology = iota
	// Regular is a 1D lat × 1D lon lattice.
	Regular
	// Rotated is a curvilinear grid with full 2D lat/lon fields.
	Rotated
	// Irregular is a set of discrete points (stations).
	Irregular
)

// String returns the lower-case name of the topology.
func (t Topology) String() string {
	switch t {
	case Regular:
		return "regular"
	case Rotated:
		return "rotated"
	case Irregular:
		return "irregular"
	default:
		return "unknown"
	}
}

// ParseTopology converts a persisted topology_case value back to a Topology.
func ParseTopology(v int) (Topology, error) {
	t := Topology(v)
	switch t {
	case Regular, Rotated, Irregular:
		return t, nil
	default:
		return TopologyUnknown, fmt.Errorf("%w: unknown topology_case %d", ErrTableSchema, v)
	}
}

// CoordinateMeta describes the coordinate variables of a source dataset as read
// from the file, before any interpretation.
type CoordinateMeta struct {
	FieldDims  []string // Dimension names of the sample field variable, time first.
	FieldShape []int
	LatDims    []string
	LatShape   []int
	Lat        []float64 // Row-major over LatShape.
	LonDims    []string
	LonShape   []int
	Lon        []float64 // Row-major over LonShape.
}

// CoordinateField holds normalized 2D latitude/longitude arrays for a source.
// Irregular sources use a single row with one column per point.
type CoordinateField struct {
	Topology Topology
	Lat      [][]float64
	Lon      [][]float64
	RowDim   string
	ColDim   string
}

// Rows returns the number of rows in the field.
func (f CoordinateField) Rows() int {
	return len(f.Lat)
}

// Cols returns the number of columns in the field.
func (f CoordinateField) Cols() int {
	if len(f.Lat) == 0 {
		return 0
	}
	return len(f.Lat[0])
}

// Size returns the number of addressable source locations.
func (f CoordinateField) Size() int {
	return f.Rows() * f.Cols()
}

// Classify determines the source topology from coordinate metadata.
// Rules are checked in order and the first match wins:
//
//	lat 1D, lon 1D, field 3D -> Regular
//	lat 2D, lon 2D           -> Rotated
//	lat 1D, lon 1D, field 2D -> Irregular
//
// resolution > 0 allows single-row or single-column grids.
func Classify(meta CoordinateMeta, resolution float64) (CoordinateField, error) {
	latRank := len(meta.LatShape)
	lonRank := len(meta.LonShape)
	fieldRank := len(meta.FieldShape)

	if err := checkFinite("latitude", meta.Lat); err != nil {
		return CoordinateField{}, err
	}
	if err := checkFinite("longitude", meta.Lon); err != nil {
		return CoordinateField{}, err
	}

	var (
		field CoordinateField
		err   error
	)
	switch {
	case latRank == 1 && lonRank == 1 && fieldRank == 3:
		field, err = classifyRegular(meta)
	case latRank == 2 && lonRank == 2:
		field, err = classifyRotated(meta)
	case latRank == 1 && lonRank == 1 && fieldRank == 2:
		field, err = classifyIrregular(meta)
	default:
		return CoordinateField{}, fmt.Errorf("%w: unsupported dimensionality (field %dD, lat %dD, lon %dD)",
			ErrClassification, fieldRank, latRank, lonRank)
	}
	if err != nil {
		return CoordinateField{}, err
	}

	if field.Topology != Irregular && resolution <= 0 && (field.Rows() < 2 || field.Cols() < 2) {
		return CoordinateField{}, fmt.Errorf("%w: %s grid is %dx%d; at least 2x2 is required without an explicit resolution",
			ErrClassification, field.Topology, field.Rows(), field.Cols())
	}

	return field, nil
}

func classifyRegular(meta CoordinateMeta) (CoordinateField, error) {
	if len(meta.FieldDims) != 3 || len(meta.LatDims) != 1 || len(meta.LonDims) != 1 {
		return CoordinateField{}, fmt.Errorf("%w: missing dimension names for regular grid", ErrClassification)
	}
	rowDim, colDim := meta.FieldDims[1], meta.FieldDims[2]
	nLat, nLon := len(meta.Lat), len(meta.Lon)

	var latAlongRows bool
	switch {
	case meta.LatDims[0] == rowDim && meta.LonDims[0] == colDim:
		// Field is [time, lat, lon].
		latAlongRows = true
	case meta.LatDims[0] == colDim && meta.LonDims[0] == rowDim:
		// Field is [time, lon, lat].
		latAlongRows = false
	default:
		return CoordinateField{}, fmt.Errorf("%w: field dimensions %v do not reference lat %v and lon %v",
			ErrClassification, meta.FieldDims, meta.LatDims, meta.LonDims)
	}

	rows, cols := nLat, nLon
	if !latAlongRows {
		rows, cols = nLon, nLat
	}
	if meta.FieldShape[1] != rows || meta.FieldShape[2] != cols {
		return CoordinateField{}, fmt.Errorf("%w: field shape %v does not match coordinates %dx%d",
			ErrClassification, meta.FieldShape, rows, cols)
	}

	lat := make([][]float64, rows)
	lon := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		lat[r] = make([]float64, cols)
		lon[r] = make([]float64, cols)
		for c := 0; c < cols; c++ {
			if latAlongRows {
				lat[r][c] = meta.Lat[r]
				lon[r][c] = meta.Lon[c]
			} else {
				lat[r][c] = meta.Lat[c]
				lon[r][c] = meta.Lon[r]
			}
		}
	}

	return CoordinateField{Topology: Regular, Lat: lat, Lon: lon, RowDim: rowDim, ColDim: colDim}, nil
}

func classifyRotated(meta CoordinateMeta) (CoordinateField, error) {
	if meta.LatShape[0] != meta.LonShape[0] || meta.LatShape[1] != meta.LonShape[1] {
		return CoordinateField{}, fmt.Errorf("%w: lat shape %v and lon shape %v differ",
			ErrClassification, meta.LatShape, meta.LonShape)
	}
	rows, cols := meta.LatShape[0], meta.LatShape[1]
	if n := len(meta.FieldShape); n >= 2 {
		if meta.FieldShape[n-2] != rows || meta.FieldShape[n-1] != cols {
			return CoordinateField{}, fmt.Errorf("%w: field shape %v does not match coordinates %dx%d",
				ErrClassification, meta.FieldShape, rows, cols)
		}
	}

	lat := make([][]float64, rows)
	lon := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		lat[r] = append([]float64(nil), meta.Lat[r*cols:(r+1)*cols]...)
		lon[r] = append([]float64(nil), meta.Lon[r*cols:(r+1)*cols]...)
	}

	field := CoordinateField{Topology: Rotated, Lat: lat, Lon: lon}
	if len(meta.LatDims) == 2 {
		field.RowDim, field.ColDim = meta.LatDims[0], meta.LatDims[1]
	}
	return field, nil
}

func classifyIrregular(meta CoordinateMeta) (CoordinateField, error) {
	if len(meta.Lat) != len(meta.Lon) {
		return CoordinateField{}, fmt.Errorf("%w: %d latitudes but %d longitudes for irregular points",
			ErrClassification, len(meta.Lat), len(meta.Lon))
	}
	if meta.FieldShape[1] != len(meta.Lat) {
		return CoordinateField{}, fmt.Errorf("%w: field has %d points but coordinates have %d",
			ErrClassification, meta.FieldShape[1], len(meta.Lat))
	}
	field := CoordinateField{
		Topology: Irregular,
		Lat:      [][]float64{append([]float64(nil), meta.Lat...)},
		Lon:      [][]float64{append([]float64(nil), meta.Lon...)},
	}
	if len(meta.FieldDims) == 2 {
		field.ColDim = meta.FieldDims[1]
	}
	return field, nil
}

func checkFinite(name string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s value %d is not finite", ErrClassification, name, i)
		}
	}
	return nil
}
