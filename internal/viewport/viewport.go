// Package viewport tracks the visible window onto the map and computes the
// tiles needed to fill it.
package viewport

import (
	"image"
	"math"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// Config bounds a viewport.
type Config struct {
	TileSize int
	MinZoom  float64
	MaxZoom  float64
	// PrefetchMargin is the number of extra tiles beyond each visible edge.
	PrefetchMargin int
}

// DefaultConfig returns the standard web map configuration.
func DefaultConfig() Config {
	return Config{
		TileSize:       geo.DefaultTileSize,
		MinZoom:        0,
		MaxZoom:        19,
		PrefetchMargin: 1,
	}
}

// Viewport is the current center, fractional zoom and pixel size of a map
// view. It is not safe for concurrent use.
type Viewport struct {
	cfg    Config
	center geo.Coordinate
	zoom   float64
	width  int
	height int
}

// New creates a viewport at (0,0) and the minimum zoom with no size.
func New(cfg Config) *Viewport {
	if cfg.TileSize <= 0 {
		cfg.TileSize = geo.DefaultTileSize
	}
	if cfg.MinZoom < 0 {
		cfg.MinZoom = 0
	}
	if cfg.MaxZoom <= 0 || cfg.MaxZoom > tile.MaxZoom {
		cfg.MaxZoom = tile.MaxZoom
	}
	if cfg.MinZoom > cfg.MaxZoom {
		cfg.MinZoom = cfg.MaxZoom
	}
	if cfg.PrefetchMargin < 0 {
		cfg.PrefetchMargin = 0
	}
	return &Viewport{cfg: cfg, zoom: cfg.MinZoom}
}

func (v *Viewport) Config() Config         { return v.cfg }
func (v *Viewport) Center() geo.Coordinate { return v.center }
func (v *Viewport) Zoom() float64          { return v.zoom }
func (v *Viewport) Width() int             { return v.width }
func (v *Viewport) Height() int            { return v.height }
func (v *Viewport) TileSize() int          { return v.cfg.TileSize }

// Size returns the viewport dimensions as a point.
func (v *Viewport) Size() image.Point {
	return image.Pt(v.width, v.height)
}

// SetCenter moves the view to c. Latitude is clamped to the projectable
// range and longitude wrapped.
func (v *Viewport) SetCenter(c geo.Coordinate) {
	v.center = c.Projectable()
}

// SetZoom sets the zoom level, clamped to the configured range.
func (v *Viewport) SetZoom(z float64) {
	v.zoom = v.clampZoom(z)
}

// Resize sets the pixel size. Negative dimensions become 0.
func (v *Viewport) Resize(w, h int) {
	v.width = max(w, 0)
	v.height = max(h, 0)
}

// Pan moves the view by dx, dy screen pixels. Positive dx moves the view
// east and positive dy moves it south.
func (v *Viewport) Pan(dx, dy float64) {
	cx, cy := geo.ToPixel(v.center, v.zoom, v.cfg.TileSize)
	v.center = geo.FromPixel(cx+dx, cy+dy, v.zoom, v.cfg.TileSize)
}

// ZoomTo changes the zoom level keeping the coordinate under anchor fixed on
// screen.
func (v *Viewport) ZoomTo(level float64, anchor image.Point) {
	level = v.clampZoom(level)
	if level == v.zoom {
		return
	}

	pinned := v.ScreenToCoordinate(anchor)
	v.zoom = level

	px, py := geo.ToPixel(pinned, v.zoom, v.cfg.TileSize)
	offX, offY := v.screenOffset(anchor)
	v.center = geo.FromPixel(px-offX, py-offY, v.zoom, v.cfg.TileSize)
}

// ZoomBy changes the zoom level by delta around anchor.
func (v *Viewport) ZoomBy(delta float64, anchor image.Point) {
	v.ZoomTo(v.zoom+delta, anchor)
}

// ScreenToCoordinate returns the coordinate under screen point p.
func (v *Viewport) ScreenToCoordinate(p image.Point) geo.Coordinate {
	cx, cy := geo.ToPixel(v.center, v.zoom, v.cfg.TileSize)
	offX, offY := v.screenOffset(p)
	return geo.FromPixel(cx+offX, cy+offY, v.zoom, v.cfg.TileSize)
}

// CoordinateToScreen returns the screen position of c. Horizontally the
// wrapped copy of c closest to the center is used.
func (v *Viewport) CoordinateToScreen(c geo.Coordinate) (float64, float64) {
	cx, cy := geo.ToPixel(v.center, v.zoom, v.cfg.TileSize)
	px, py := geo.ToPixel(c, v.zoom, v.cfg.TileSize)

	size := geo.MapSize(v.zoom, v.cfg.TileSize)
	dx := math.Mod(px-cx, size)
	if dx >= size/2 {
		dx -= size
	} else if dx < -size/2 {
		dx += size
	}

	return float64(v.width)/2 + dx, float64(v.height)/2 + py - cy
}

// Bounds returns the geographic extent of the screen.
func (v *Viewport) Bounds() geo.Bounds {
	nw := v.ScreenToCoordinate(image.Pt(0, 0))
	se := v.ScreenToCoordinate(image.Pt(v.width, v.height))
	if v.spansWorld() {
		nw.Lon, se.Lon = geo.MinLongitude, geo.MaxLongitude
	}
	return geo.NewBounds(nw, se)
}

// TileZoom is the integer zoom level tiles are drawn at.
func (v *Viewport) TileZoom() int {
	z := int(math.Round(v.zoom))
	return min(max(z, 0), tile.MaxZoom)
}

// TileScale is the number of screen pixels per tile pixel at TileZoom.
func (v *Viewport) TileScale() float64 {
	return math.Exp2(v.zoom - float64(v.TileZoom()))
}

// TileRange returns the tile block covering the screen extended by margin
// tiles per edge. Columns are not wrapped; rows are clamped to the grid.
func (v *Viewport) TileRange(margin int) (tile.Range, bool) {
	if v.width == 0 || v.height == 0 {
		return tile.Range{}, false
	}

	z := v.TileZoom()
	ts := float64(v.cfg.TileSize)
	cx, cy := geo.ToPixel(v.center, float64(z), v.cfg.TileSize)

	// Screen extents measured in tile pixels at the rounded zoom
	scale := v.TileScale()
	halfW := float64(v.width) / 2 / scale
	halfH := float64(v.height) / 2 / scale

	r := tile.Range{
		Z:    z,
		MinX: int(math.Floor((cx-halfW)/ts)) - margin,
		MaxX: int(math.Ceil((cx+halfW)/ts)) - 1 + margin,
		MinY: int(math.Floor((cy-halfH)/ts)) - margin,
		MaxY: int(math.Ceil((cy+halfH)/ts)) - 1 + margin,
	}

	n := 1 << z
	r.MinY = max(r.MinY, 0)
	r.MaxY = min(r.MaxY, n-1)
	return r, r.Count() > 0
}

// VisibleTiles returns the normalized tiles covering the screen plus the
// prefetch margin, row by row from the top and left to right within a row.
// Columns wrap around the antimeridian; duplicates are dropped.
func (v *Viewport) VisibleTiles() []tile.Address {
	r, ok := v.TileRange(v.cfg.PrefetchMargin)
	if !ok {
		return nil
	}

	seen := make(map[uint64]struct{}, r.Count())
	addrs := make([]tile.Address, 0, r.Count())
	r.ForEach(func(a tile.Address) {
		if _, dup := seen[a.Key()]; dup {
			return
		}
		seen[a.Key()] = struct{}{}
		addrs = append(addrs, a)
	})
	return addrs
}

// IsVisible reports whether addr is part of VisibleTiles.
func (v *Viewport) IsVisible(addr tile.Address) bool {
	r, ok := v.TileRange(v.cfg.PrefetchMargin)
	if !ok || int(addr.Z) != r.Z {
		return false
	}
	addr = addr.Normalize()
	if int(addr.Y) < r.MinY || int(addr.Y) > r.MaxY {
		return false
	}
	if r.MaxX-r.MinX+1 >= 1<<r.Z {
		return true
	}

	n := 1 << r.Z
	for x := r.MinX; x <= r.MaxX; x++ {
		if ((x%n)+n)%n == int(addr.X) {
			return true
		}
	}
	return false
}

// TileRect returns the screen rectangle of grid cell (x, y) at TileZoom. x
// may lie outside the grid to address wrapped copies. Adjacent cells share
// edges so scaled tiles leave no seams.
func (v *Viewport) TileRect(x, y int) image.Rectangle {
	z := v.TileZoom()
	ts := float64(v.cfg.TileSize)
	cx, cy := geo.ToPixel(v.center, float64(z), v.cfg.TileSize)
	scale := v.TileScale()

	edge := func(world, center, half float64) int {
		return int(math.Floor(half + (world-center)*scale))
	}
	w2, h2 := float64(v.width)/2, float64(v.height)/2
	return image.Rect(
		edge(float64(x)*ts, cx, w2),
		edge(float64(y)*ts, cy, h2),
		edge(float64(x+1)*ts, cx, w2),
		edge(float64(y+1)*ts, cy, h2),
	)
}

func (v *Viewport) clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return v.zoom
	}
	return math.Max(v.cfg.MinZoom, math.Min(v.cfg.MaxZoom, z))
}

// screenOffset returns p relative to the screen center.
func (v *Viewport) screenOffset(p image.Point) (float64, float64) {
	return float64(p.X) - float64(v.width)/2, float64(p.Y) - float64(v.height)/2
}

func (v *Viewport) spansWorld() bool {
	return float64(v.width) >= geo.MapSize(v.zoom, v.cfg.TileSize)
}
