package domain

import "math"

// NormalizeLon180 maps arbitrary degree longitudes into the [-180, 180) range.
func NormalizeLon180(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
