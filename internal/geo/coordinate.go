// Package geo provides geographic coordinates and the spherical web mercator
// projection used to place them in pixel space.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

const (
	// MinLatitude and MaxLatitude bound the web mercator projection.
	MinLatitude = -85.0511287798
	MaxLatitude = 85.0511287798

	MinLongitude = -180.0
	MaxLongitude = 180.0

	// EarthRadius is the WGS84 semi-major axis in meters.
	EarthRadius = 6378137.0
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// NewCoordinate returns a coordinate with latitude clamped to [-90,90]
// and longitude wrapped into [-180,180].
func NewCoordinate(lat, lon float64) Coordinate {
	return Coordinate{
		Lat: clamp(lat, -90, 90),
		Lon: WrapLongitude(lon),
	}
}

// FromPoint converts an orb point (lon, lat) into a Coordinate.
func FromPoint(p orb.Point) Coordinate {
	return NewCoordinate(p.Lat(), p.Lon())
}

// Point returns the coordinate as an orb point (lon, lat).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// Valid reports whether the coordinate lies within the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= MinLongitude && c.Lon <= MaxLongitude &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}

// Projectable returns the coordinate saturated to the mercator latitude range.
func (c Coordinate) Projectable() Coordinate {
	return Coordinate{
		Lat: clamp(c.Lat, MinLatitude, MaxLatitude),
		Lon: WrapLongitude(c.Lon),
	}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// WrapLongitude maps any longitude into [-180,180]. Values already in range
// are returned unchanged so that 180 stays on the eastern edge.
func WrapLongitude(lon float64) float64 {
	if lon >= MinLongitude && lon <= MaxLongitude {
		return lon
	}
	m := math.Mod(lon+180, 360)
	if m < 0 {
		m += 360
	}
	return m - 180
}

// ClampLatitude saturates a latitude to the mercator range.
func ClampLatitude(lat float64) float64 {
	return clamp(lat, MinLatitude, MaxLatitude)
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180.0
	dLon := (b.Lon - a.Lon) * math.Pi / 180.0
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
