package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Bounds is a geographic rectangle. Min holds the south-west corner.
type Bounds struct {
	Min Coordinate
	Max Coordinate
}

// NewBounds returns the bounds spanning both corners in any order.
func NewBounds(a, b Coordinate) Bounds {
	bb := Bounds{Min: a, Max: a}
	return bb.Extend(b)
}

// FromBound converts an orb bound.
func FromBound(b orb.Bound) Bounds {
	return Bounds{
		Min: Coordinate{Lat: b.Min.Lat(), Lon: b.Min.Lon()},
		Max: Coordinate{Lat: b.Max.Lat(), Lon: b.Max.Lon()},
	}
}

// Bound returns the bounds as an orb bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: b.Min.Point(), Max: b.Max.Point()}
}

// Contains reports whether c lies inside the bounds, edges included.
func (b Bounds) Contains(c Coordinate) bool {
	return c.Lat >= b.Min.Lat && c.Lat <= b.Max.Lat &&
		c.Lon >= b.Min.Lon && c.Lon <= b.Max.Lon
}

// Extend grows the bounds to include c.
func (b Bounds) Extend(c Coordinate) Bounds {
	if c.Lat < b.Min.Lat {
		b.Min.Lat = c.Lat
	}
	if c.Lon < b.Min.Lon {
		b.Min.Lon = c.Lon
	}
	if c.Lat > b.Max.Lat {
		b.Max.Lat = c.Lat
	}
	if c.Lon > b.Max.Lon {
		b.Max.Lon = c.Lon
	}
	return b
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() Coordinate {
	return Coordinate{
		Lat: (b.Min.Lat + b.Max.Lat) / 2,
		Lon: (b.Min.Lon + b.Max.Lon) / 2,
	}
}

// String formats the bounds as "minLon,minLat,maxLon,maxLat".
func (b Bounds) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.Min.Lon, b.Min.Lat, b.Max.Lon, b.Max.Lat)
}

// ParseBounds parses "minLon,minLat,maxLon,maxLat".
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("invalid bbox %q: expected minLon,minLat,maxLon,maxLat", s)
	}

	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("invalid bbox value %q: %w", part, err)
		}
		v[i] = f
	}

	if v[0] >= v[2] || v[1] >= v[3] {
		return Bounds{}, fmt.Errorf("invalid bbox %q: min must be less than max", s)
	}

	return Bounds{
		Min: Coordinate{Lat: v[1], Lon: v[0]},
		Max: Coordinate{Lat: v[3], Lon: v[2]},
	}, nil
}
