package viewport

import (
	"image"
	"testing"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var montreal = geo.Coordinate{Lat: 45.466, Lon: -73.75}

func newTestViewport(cfg Config, c geo.Coordinate, zoom float64, w, h int) *Viewport {
	v := New(cfg)
	v.SetCenter(c)
	v.SetZoom(zoom)
	v.Resize(w, h)
	return v
}

func TestVisibleTiles_Montreal(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 12, 800, 600)

	tiles := v.VisibleTiles()
	require.Len(t, tiles, 36)
	assert.Equal(t, tile.MustNew(12, 1206, 1463), tiles[0])
	assert.Equal(t, tile.MustNew(12, 1211, 1463), tiles[5])
	assert.Equal(t, tile.MustNew(12, 1206, 1464), tiles[6])
	assert.Equal(t, tile.MustNew(12, 1211, 1468), tiles[35])

	// Reproducible
	assert.Equal(t, tiles, v.VisibleTiles())

	// The tile under the center is always included
	centerTile, err := tile.At(montreal, 12)
	require.NoError(t, err)
	assert.Contains(t, tiles, centerTile)
}

func TestVisibleTiles_NoMargin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrefetchMargin = 0
	v := newTestViewport(cfg, montreal, 12, 800, 600)

	tiles := v.VisibleTiles()
	require.Len(t, tiles, 16)
	assert.Equal(t, tile.MustNew(12, 1207, 1464), tiles[0])
	assert.Equal(t, tile.MustNew(12, 1210, 1467), tiles[15])
}

func TestVisibleTiles_FractionalZoomScalesExtents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrefetchMargin = 0

	count := func(z float64) int {
		v := newTestViewport(cfg, montreal, z, 800, 600)
		for _, a := range v.VisibleTiles() {
			assert.Equal(t, uint32(12), a.Z)
		}
		return len(v.VisibleTiles())
	}

	assert.Greater(t, count(11.6), count(12))
	assert.Greater(t, count(12), count(12.4))
}

func TestVisibleTiles_WrapsAndDedupes(t *testing.T) {
	cfg := DefaultConfig()

	// The whole world fits many times at zoom 0
	v := newTestViewport(cfg, geo.Coordinate{}, 0, 800, 600)
	assert.Equal(t, []tile.Address{tile.MustNew(0, 0, 0)}, v.VisibleTiles())

	// Straddling the antimeridian yields both edge columns
	cfg.PrefetchMargin = 0
	v = newTestViewport(cfg, geo.Coordinate{Lat: 0, Lon: 180}, 2, 256, 256)
	tiles := v.VisibleTiles()
	var cols []uint32
	for _, a := range tiles {
		if a.Y == tiles[0].Y {
			cols = append(cols, a.X)
		}
	}
	assert.Equal(t, []uint32{3, 0}, cols)
}

func TestVisibleTiles_RowsClampAtPoles(t *testing.T) {
	v := newTestViewport(DefaultConfig(), geo.Coordinate{Lat: 85, Lon: 0}, 3, 256, 1024)

	for _, a := range v.VisibleTiles() {
		assert.Less(t, a.Y, uint32(8))
	}
	r, ok := v.TileRange(1)
	require.True(t, ok)
	assert.Equal(t, 0, r.MinY)
}

func TestVisibleTiles_EmptyViewport(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 12, -10, 600)
	assert.Equal(t, 0, v.Width())
	assert.Empty(t, v.VisibleTiles())
	assert.False(t, v.IsVisible(tile.MustNew(12, 1208, 1465)))
}

func TestIsVisible(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 12, 800, 600)

	for _, a := range v.VisibleTiles() {
		assert.True(t, v.IsVisible(a), a.String())
	}
	assert.False(t, v.IsVisible(tile.MustNew(12, 1300, 1465)))
	assert.False(t, v.IsVisible(tile.MustNew(11, 604, 732)))
}

func TestPan(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 12, 800, 600)

	v.Pan(256, 0)
	x, y := v.CoordinateToScreen(montreal)
	assert.InDelta(t, 400-256, x, 1e-6)
	assert.InDelta(t, 300, y, 1e-6)

	v.Pan(-256, 0)
	assert.InDelta(t, montreal.Lat, v.Center().Lat, 1e-9)
	assert.InDelta(t, montreal.Lon, v.Center().Lon, 1e-9)
}

func TestPan_ClampsLatitudeWrapsLongitude(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 4, 800, 600)

	v.Pan(0, -1e9)
	assert.InDelta(t, geo.MaxLatitude, v.Center().Lat, 1e-9)

	v.Pan(0, 2e9)
	assert.InDelta(t, geo.MinLatitude, v.Center().Lat, 1e-9)

	v = newTestViewport(DefaultConfig(), geo.Coordinate{Lat: 0, Lon: 179.5}, 4, 800, 600)
	v.Pan(100, 0)
	assert.Less(t, v.Center().Lon, 0.0)
	assert.True(t, v.Center().Valid())
}

func TestZoomTo_KeepsAnchorFixed(t *testing.T) {
	tests := []struct {
		name   string
		from   float64
		to     float64
		anchor image.Point
	}{
		{"zoom in at corner", 12, 14, image.Pt(100, 50)},
		{"zoom out at edge", 12, 9.5, image.Pt(799, 300)},
		{"zoom at center", 5, 6, image.Pt(400, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViewport(DefaultConfig(), montreal, tt.from, 800, 600)
			before := v.ScreenToCoordinate(tt.anchor)

			v.ZoomTo(tt.to, tt.anchor)
			assert.Equal(t, tt.to, v.Zoom())

			after := v.ScreenToCoordinate(tt.anchor)
			assert.InDelta(t, before.Lat, after.Lat, 1e-9)
			assert.InDelta(t, before.Lon, after.Lon, 1e-9)
		})
	}
}

func TestZoom_Clamped(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 30, 800, 600)
	assert.Equal(t, 19.0, v.Zoom())

	v.ZoomBy(-100, image.Pt(400, 300))
	assert.Equal(t, 0.0, v.Zoom())

	cfg := DefaultConfig()
	cfg.MinZoom, cfg.MaxZoom = 3, 10
	v = newTestViewport(cfg, montreal, 1, 800, 600)
	assert.Equal(t, 3.0, v.Zoom())
	v.ZoomBy(20, image.Pt(0, 0))
	assert.Equal(t, 10.0, v.Zoom())
}

func TestCoordinateToScreen(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 12, 800, 600)
	x, y := v.CoordinateToScreen(montreal)
	assert.InDelta(t, 400, x, 1e-6)
	assert.InDelta(t, 300, y, 1e-6)

	// Screen and coordinate conversions invert each other
	p := image.Pt(123, 456)
	c := v.ScreenToCoordinate(p)
	x, y = v.CoordinateToScreen(c)
	assert.InDelta(t, 123, x, 1e-6)
	assert.InDelta(t, 456, y, 1e-6)

	// The copy nearest the center is used across the antimeridian
	v = newTestViewport(DefaultConfig(), geo.Coordinate{Lat: 0, Lon: 179}, 2, 800, 600)
	x, _ = v.CoordinateToScreen(geo.Coordinate{Lat: 0, Lon: -179})
	assert.Greater(t, x, 400.0)
	assert.Less(t, x, 420.0)
}

func TestTileRect(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 12, 800, 600)

	center, err := tile.At(montreal, 12)
	require.NoError(t, err)

	r := v.TileRect(int(center.X), int(center.Y))
	assert.True(t, image.Pt(400, 300).In(r))
	assert.Equal(t, 256, r.Dx())

	right := v.TileRect(int(center.X)+1, int(center.Y))
	assert.Equal(t, r.Max.X, right.Min.X)

	// Fractional zoom scales tiles
	v.SetZoom(12.4)
	assert.InDelta(t, 338, v.TileRect(int(center.X), int(center.Y)).Dx(), 1)
}

func TestBounds(t *testing.T) {
	v := newTestViewport(DefaultConfig(), montreal, 12, 800, 600)
	b := v.Bounds()
	assert.True(t, b.Contains(montreal))
	assert.Less(t, b.Max.Lon-b.Min.Lon, 1.0)

	v.SetZoom(0)
	b = v.Bounds()
	assert.Equal(t, geo.MinLongitude, b.Min.Lon)
	assert.Equal(t, geo.MaxLongitude, b.Max.Lon)
}
