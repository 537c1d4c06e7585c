// Package store defines the boundaries to source datasets and shape files.
package store

import (
	"go.ngs.io/basin-remap/internal/domain"
)

// TimeAxis is the time coordinate of a source dataset.
type TimeAxis struct {
	Name     string
	Values   []float64
	Units    string // E.g., "hours since 1900-01-01 00:00:00".
	Calendar string // E.g., "gregorian".
}

// VarAttributes are the descriptive attributes copied to outputs.
type VarAttributes struct {
	Units    string
	LongName string
}

// FieldSource reads coordinates and time slices from one source dataset.
type FieldSource interface {
	// Coordinates returns the raw coordinate description used by Classify.
	Coordinates(latVar, lonVar, fieldVar string) (domain.CoordinateMeta, error)

	// Times returns the time axis.
	Times() (TimeAxis, error)

	// ReadStep reads one time step of a field. Missing values are NaN.
	ReadStep(varName string, step int) (domain.Slice, error)

	// Attributes returns descriptive attributes of a variable.
	Attributes(varName string) (VarAttributes, error)

	Close() error
}

// FieldOpener opens a source dataset by path.
type FieldOpener func(path string) (FieldSource, error)

// ShapeSource loads target or source polygons.
type ShapeSource interface {
	// LoadShapes returns shapes in file order. idField names the attribute
	// holding the shape id; shapes are numbered 1..N when it is empty.
	LoadShapes(path, idField string) ([]domain.TargetShape, error)
}
