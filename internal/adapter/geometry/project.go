package geometry

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// AuthalicRadius is the radius in meters of the sphere with the WGS84
// ellipsoid's surface area.
const AuthalicRadius = 6371007.181

// EqualArea is the spherical Lambert cylindrical equal-area projection from
// WGS84 degrees to meters. Parallels and meridians stay straight lines, so a
// latitude/longitude box projects to an exact rectangle.
func EqualArea(lon, lat float64) (x, y float64, err error) {
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude %g out of range", lat)
	}
	return AuthalicRadius * lon * math.Pi / 180, AuthalicRadius * math.Sin(lat*math.Pi/180), nil
}

// ShiftLon returns a transformer that adds dx degrees of longitude.
func ShiftLon(dx float64) proj.Transformer {
	return func(x, y float64) (float64, float64, error) {
		return x + dx, y, nil
	}
}

// Transform applies t to a polygonal geometry.
func Transform(p geom.Polygonal, t proj.Transformer) (geom.Polygonal, error) {
	g, err := p.Transform(t)
	if err != nil {
		return nil, err
	}
	out, ok := g.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("transform returned %T, not a polygon", g)
	}
	return out, nil
}

// ToEqualArea projects p from WGS84 degrees into equal-area meters.
func ToEqualArea(p geom.Polygonal) (geom.Polygonal, error) {
	out, err := Transform(p, EqualArea)
	if err != nil {
		return nil, fmt.Errorf("failed to project to equal-area: %w", err)
	}
	return out, nil
}
