// Package shapefile loads target and source polygons from ESRI shapefiles.
package shapefile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"

	"go.ngs.io/basin-remap/internal/adapter/geometry"
	"go.ngs.io/basin-remap/internal/adapter/store"
	"go.ngs.io/basin-remap/internal/domain"
)

// Loader decodes polygon shapefiles in geographic WGS84 coordinates.
type Loader struct {
	lib geometry.Library
	// Fields are the attribute columns carried into TargetShape.Attributes.
	Fields []string
}

var _ store.ShapeSource = (*Loader)(nil)

// NewLoader creates a shapefile loader that keeps the given attribute columns.
func NewLoader(lib geometry.Library, fields ...string) *Loader {
	return &Loader{lib: lib, Fields: fields}
}

// LoadShapes decodes every polygon of the shapefile at path. Shape ids come
// from idField, or are 1..N in file order when idField is empty.
func (l *Loader) LoadShapes(path, idField string) ([]domain.TargetShape, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer dec.Close()

	sr, err := readSR(dec)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s has no .prj file", domain.ErrProjection, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrProjection, path, err)
	}
	if err := CheckWGS84(sr); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	columns := append([]string{}, l.Fields...)
	if idField != "" {
		columns = append(columns, idField)
	}

	var shapes []domain.TargetShape
	for {
		g, fields, more := dec.DecodeRowFields(columns...)
		if !more {
			break
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("%w: shape %d of %s is %T, not a polygon",
				domain.ErrConfiguration, len(shapes)+1, path, g)
		}

		shape := domain.TargetShape{
			ID:         int64(len(shapes) + 1),
			Geometry:   poly,
			Attributes: make(map[string]string, len(l.Fields)),
		}
		if idField != "" {
			raw, ok := fields[idField]
			if !ok {
				return nil, fmt.Errorf("%w: shapefile %s has no column %s", domain.ErrConfiguration, path, idField)
			}
			if shape.ID, err = parseID(raw); err != nil {
				return nil, fmt.Errorf("%w: shape %d of %s: %v", domain.ErrConfiguration, len(shapes)+1, path, err)
			}
		}
		for _, name := range l.Fields {
			shape.Attributes[name] = strings.TrimSpace(fields[name])
		}
		c := l.lib.Centroid(poly)
		shape.CentroidLat, shape.CentroidLon = c.Y, c.X
		shapes = append(shapes, shape)
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("failed to decode shapefile %s: %w", path, err)
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("%w: shapefile %s has no shapes", domain.ErrConfiguration, path)
	}

	if err := domain.AssignOrders(shapes); err != nil {
		return nil, err
	}
	return shapes, nil
}

// parseID accepts integer or integral float attribute values.
func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return int64(f), nil
}

// readSR parses the .prj of an open shapefile. The WKT parser panics on
// some malformed sections, which is reported as an error.
func readSR(dec *shp.Decoder) (sr *proj.SR, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed .prj: %v", r)
		}
	}()
	return dec.SR()
}

// CheckWGS84 verifies that sr is a geographic coordinate system on the
// WGS84 datum or ellipsoid.
func CheckWGS84(sr *proj.SR) error {
	if sr.Name != "longlat" {
		return fmt.Errorf("%w: %s coordinate system, expected geographic WGS84", domain.ErrProjection, sr.Name)
	}
	if !strings.EqualFold(sr.DatumCode, "wgs84") && !strings.EqualFold(sr.Ellps, "WGS84") {
		return fmt.Errorf("%w: datum %q is not WGS84", domain.ErrProjection, sr.DatumCode)
	}
	return nil
}
