package geo

import "math"

// DefaultTileSize is the edge length of a standard raster tile in pixels.
const DefaultTileSize = 256

// MapSize returns the width (and height) of the whole world in pixels at the
// given zoom level.
func MapSize(zoom float64, tileSize int) float64 {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return float64(tileSize) * math.Exp2(zoom)
}

// ToPixel projects c to world pixel coordinates at zoom. Latitudes beyond the
// mercator range saturate; longitudes wrap.
func ToPixel(c Coordinate, zoom float64, tileSize int) (float64, float64) {
	size := MapSize(zoom, tileSize)
	p := c.Projectable()

	x := (p.Lon + 180.0) / 360.0 * size

	latRad := p.Lat * math.Pi / 180.0
	y := (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * size

	return x, y
}

// FromPixel converts world pixel coordinates at zoom back to a coordinate.
// x wraps around the world width; y saturates at the map edges.
func FromPixel(x, y, zoom float64, tileSize int) Coordinate {
	size := MapSize(zoom, tileSize)

	if x < 0 || x > size {
		x = math.Mod(x, size)
		if x < 0 {
			x += size
		}
	}
	y = clamp(y, 0, size)

	lon := x/size*360.0 - 180.0
	lat := math.Atan(math.Sinh(math.Pi*(1-2*y/size))) * 180.0 / math.Pi

	return Coordinate{Lat: ClampLatitude(lat), Lon: lon}
}

// MetersPerPixel returns the ground resolution at lat for the zoom level.
func MetersPerPixel(lat, zoom float64, tileSize int) float64 {
	return 2.0 * math.Pi * EarthRadius * math.Cos(lat*math.Pi/180.0) / MapSize(zoom, tileSize)
}

// ToMercator converts a coordinate to EPSG:3857 meters.
func ToMercator(c Coordinate) (float64, float64) {
	p := c.Projectable()
	x := EarthRadius * p.Lon * math.Pi / 180.0
	latRad := p.Lat * math.Pi / 180.0
	y := EarthRadius * math.Log(math.Tan(math.Pi/4.0+latRad/2.0))
	return x, y
}
