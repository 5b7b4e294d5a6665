package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPixelRoundTrip(t *testing.T) {
	coords := []Coordinate{
		{Lat: 0, Lon: 0},
		{Lat: 45.466, Lon: -73.75},
		{Lat: 52.3759, Lon: 9.7320},
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 85.05, Lon: 179.999},
		{Lat: -85.05, Lon: -179.999},
		{Lat: 12.5, Lon: 180},
	}

	for zoom := 0; zoom <= 24; zoom++ {
		for _, c := range coords {
			z := float64(zoom)
			x, y := ToPixel(c, z, DefaultTileSize)
			back := FromPixel(x, y, z, DefaultTileSize)
			x2, y2 := ToPixel(back, z, DefaultTileSize)

			if math.Abs(x-x2) > 1e-3 || math.Abs(y-y2) > 1e-3 {
				t.Fatalf("zoom %d %v: pixel drift (%f,%f) -> (%f,%f)", zoom, c, x, y, x2, y2)
			}

			degPerPixel := 360.0 / MapSize(z, DefaultTileSize)
			assert.InDelta(t, c.Lon, back.Lon, degPerPixel, "lon at zoom %d", zoom)
			assert.InDelta(t, c.Lat, back.Lat, degPerPixel, "lat at zoom %d", zoom)
		}
	}
}

func TestToPixelFractionalZoom(t *testing.T) {
	c := Coordinate{Lat: 45.466, Lon: -73.75}
	x, y := ToPixel(c, 12.5, DefaultTileSize)
	back := FromPixel(x, y, 12.5, DefaultTileSize)
	assert.InDelta(t, c.Lat, back.Lat, 1e-9)
	assert.InDelta(t, c.Lon, back.Lon, 1e-9)
}

func TestToPixelSaturatesLatitude(t *testing.T) {
	_, yNorth := ToPixel(Coordinate{Lat: 89.9, Lon: 0}, 0, DefaultTileSize)
	_, yEdge := ToPixel(Coordinate{Lat: MaxLatitude, Lon: 0}, 0, DefaultTileSize)
	assert.Equal(t, yEdge, yNorth)
	assert.InDelta(t, 0, yNorth, 1e-3)

	_, ySouth := ToPixel(Coordinate{Lat: -90, Lon: 0}, 0, DefaultTileSize)
	assert.InDelta(t, 256, ySouth, 1e-3)
}

func TestToPixelWrapsLongitude(t *testing.T) {
	x1, _ := ToPixel(Coordinate{Lat: 10, Lon: 190}, 3, DefaultTileSize)
	x2, _ := ToPixel(Coordinate{Lat: 10, Lon: -170}, 3, DefaultTileSize)
	assert.InDelta(t, x2, x1, 1e-9)
}

func TestFromPixelWrapsAndClamps(t *testing.T) {
	size := MapSize(2, DefaultTileSize)

	c := FromPixel(-size/4, -100, 2, DefaultTileSize)
	assert.InDelta(t, 90.0, c.Lon, 1e-9)
	assert.InDelta(t, MaxLatitude, c.Lat, 1e-6)

	c = FromPixel(size+size/2, size*3, 2, DefaultTileSize)
	assert.InDelta(t, 0.0, c.Lon, 1e-9)
	assert.InDelta(t, MinLatitude, c.Lat, 1e-6)
}

func TestWrapLongitude(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, 180},
		{-180, -180},
		{181, -179},
		{-181, 179},
		{540, -180},
		{725, 5},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, WrapLongitude(tt.in), 1e-9, "WrapLongitude(%v)", tt.in)
	}
}

func TestMetersPerPixel(t *testing.T) {
	// Equator at zoom 0: circumference / 256
	got := MetersPerPixel(0, 0, DefaultTileSize)
	assert.InDelta(t, 156543.03, got, 0.01)

	// Halves per zoom level
	assert.InDelta(t, got/2, MetersPerPixel(0, 1, DefaultTileSize), 1e-6)
}

func TestDistance(t *testing.T) {
	montreal := Coordinate{Lat: 45.5017, Lon: -73.5673}
	toronto := Coordinate{Lat: 43.6532, Lon: -79.3832}

	d := Distance(montreal, toronto)
	assert.InDelta(t, 504_000, d, 5_000)
	assert.Zero(t, Distance(montreal, montreal))
}

func TestParseBounds(t *testing.T) {
	b, err := ParseBounds("9.7, 52.3,9.9,52.4")
	require.NoError(t, err)
	assert.Equal(t, Coordinate{Lat: 52.3, Lon: 9.7}, b.Min)
	assert.Equal(t, Coordinate{Lat: 52.4, Lon: 9.9}, b.Max)
	assert.True(t, b.Contains(Coordinate{Lat: 52.35, Lon: 9.8}))
	assert.False(t, b.Contains(Coordinate{Lat: 52.5, Lon: 9.8}))
	assert.Equal(t, "9.700000,52.300000,9.900000,52.400000", b.String())

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "10,10,5,5"} {
		_, err := ParseBounds(bad)
		assert.Error(t, err, "ParseBounds(%q)", bad)
	}
}

func TestOrbConversion(t *testing.T) {
	c := FromPoint(orb.Point{-73.75, 45.466})
	assert.Equal(t, Coordinate{Lat: 45.466, Lon: -73.75}, c)
	assert.Equal(t, orb.Point{-73.75, 45.466}, c.Point())

	b := NewBounds(Coordinate{Lat: 2, Lon: 3}, Coordinate{Lat: -1, Lon: 5})
	assert.Equal(t, Coordinate{Lat: -1, Lon: 3}, b.Min)
	assert.Equal(t, b, FromBound(b.Bound()))
	assert.Equal(t, Coordinate{Lat: 0.5, Lon: 4}, b.Center())
}
