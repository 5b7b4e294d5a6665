// Package composite assembles visible tiles, paths and marker layers into a
// frame.
package composite

import (
	"image"
	"image/color"
	"sort"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/MeKo-Tech/slippymap/internal/viewport"
	xdraw "golang.org/x/image/draw"
)

const (
	// DefaultPlaceholderDepth is how many zoom levels up an ancestor is searched.
	DefaultPlaceholderDepth = 4
	// HitTolerance is added to the search radius of HitTest, in pixels.
	HitTolerance = 4.0
)

// DefaultBackground fills areas without tiles.
var DefaultBackground = color.NRGBA{R: 229, G: 227, B: 223, A: 255}

// TileRequester starts asynchronous loads for missing tiles.
type TileRequester interface {
	RequestTile(addr tile.Address)
}

// Options configures a Compositor.
type Options struct {
	Background       color.NRGBA
	PlaceholderDepth int
	// DisablePlaceholders leaves missing tiles blank.
	DisablePlaceholders bool
}

// Frame is one composed image of the viewport.
type Frame struct {
	Image  *image.NRGBA
	Zoom   float64
	Center geo.Coordinate
	// Tiles counts cells drawn from their own tile.
	Tiles int
	// Missing counts on-screen cells whose tile is not cached yet.
	Missing int
	// Placeholders counts missing cells filled from an ancestor.
	Placeholders int
	Markers      int
	// Paths counts path layers drawn.
	Paths int
}

// Complete reports whether every on-screen cell had its own tile.
func (f *Frame) Complete() bool {
	return f.Missing == 0
}

// overlay is one entry of the layer stack; exactly one field is set.
type overlay struct {
	markers *marker.Layer
	path    *marker.PathLayer
}

// Compositor draws a viewport from cached tiles and a stack of marker and
// path layers. It must be used from the goroutine that owns the viewport.
type Compositor struct {
	vp    *viewport.Viewport
	cache *cache.MemoryCache
	req   TileRequester
	opts  Options
	stack []overlay
}

// New creates a compositor. req may be nil, in which case missing tiles are
// not requested.
func New(vp *viewport.Viewport, c *cache.MemoryCache, req TileRequester, opts Options) *Compositor {
	if opts.Background == (color.NRGBA{}) {
		opts.Background = DefaultBackground
	}
	if opts.PlaceholderDepth <= 0 {
		opts.PlaceholderDepth = DefaultPlaceholderDepth
	}
	if opts.DisablePlaceholders {
		opts.PlaceholderDepth = 0
	}
	return &Compositor{vp: vp, cache: c, req: req, opts: opts}
}

// Viewport returns the viewport being drawn.
func (c *Compositor) Viewport() *viewport.Viewport {
	return c.vp
}

// AddLayer pushes a marker layer on top of the stack. Adding a layer already
// present moves it to the top.
func (c *Compositor) AddLayer(l *marker.Layer) {
	c.RemoveLayer(l)
	c.stack = append(c.stack, overlay{markers: l})
}

// RemoveLayer removes l from the stack.
func (c *Compositor) RemoveLayer(l *marker.Layer) bool {
	return c.remove(func(o overlay) bool { return o.markers == l })
}

// AddPath pushes a path layer on top of the stack. Adding a path already
// present moves it to the top.
func (c *Compositor) AddPath(p *marker.PathLayer) {
	c.RemovePath(p)
	c.stack = append(c.stack, overlay{path: p})
}

// RemovePath removes p from the stack.
func (c *Compositor) RemovePath(p *marker.PathLayer) bool {
	return c.remove(func(o overlay) bool { return o.path == p })
}

func (c *Compositor) remove(match func(overlay) bool) bool {
	for i, o := range c.stack {
		if match(o) {
			c.stack = append(c.stack[:i], c.stack[i+1:]...)
			return true
		}
	}
	return false
}

// Layers returns the marker layers bottom to top.
func (c *Compositor) Layers() []*marker.Layer {
	var out []*marker.Layer
	for _, o := range c.stack {
		if o.markers != nil {
			out = append(out, o.markers)
		}
	}
	return out
}

// Paths returns the path layers bottom to top.
func (c *Compositor) Paths() []*marker.PathLayer {
	var out []*marker.PathLayer
	for _, o := range c.stack {
		if o.path != nil {
			out = append(out, o.path)
		}
	}
	return out
}

// Layer returns the marker layer named name.
func (c *Compositor) Layer(name string) (*marker.Layer, bool) {
	for _, l := range c.Layers() {
		if l.Name() == name {
			return l, true
		}
	}
	return nil, false
}

type drawJob struct {
	zoom    uint32
	cellX   int
	cellY   int
	img     *image.NRGBA
	srcRect image.Rectangle
	dstRect image.Rectangle
}

// Render composes the current view. Missing tiles are requested and, where
// possible, replaced by a scaled-up cached ancestor. Render never fails; an
// empty viewport yields an empty image.
func (c *Compositor) Render() *Frame {
	w, h := c.vp.Width(), c.vp.Height()
	frame := &Frame{
		Image:  image.NewNRGBA(image.Rect(0, 0, w, h)),
		Zoom:   c.vp.Zoom(),
		Center: c.vp.Center(),
	}
	fill(frame.Image, c.opts.Background)

	c.requestMissing()

	// Everything acquired below stays pinned until the frame is drawn
	snap := c.cache.Snapshot()
	defer snap.Release()

	jobs := c.plan(snap, frame)
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].zoom != jobs[j].zoom {
			return jobs[i].zoom < jobs[j].zoom
		}
		if jobs[i].cellY != jobs[j].cellY {
			return jobs[i].cellY < jobs[j].cellY
		}
		return jobs[i].cellX < jobs[j].cellX
	})

	for _, j := range jobs {
		drawTile(frame.Image, j)
	}

	frame.Markers, frame.Paths = c.drawOverlays(frame.Image)
	return frame
}

// requestMissing asks for every tile of the visible set, prefetch margin
// included, that is not cached.
func (c *Compositor) requestMissing() {
	if c.req == nil {
		return
	}
	for _, addr := range c.vp.VisibleTiles() {
		if !c.cache.Has(addr) {
			c.req.RequestTile(addr)
		}
	}
}

// plan acquires the tile or placeholder for every on-screen cell.
func (c *Compositor) plan(snap *cache.Snapshot, frame *Frame) []drawJob {
	r, ok := c.vp.TileRange(0)
	if !ok {
		return nil
	}

	ts := c.vp.TileSize()
	jobs := make([]drawJob, 0, r.Count())

	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			addr, err := tile.New(r.Z, x, y)
			if err != nil {
				continue
			}
			dst := c.vp.TileRect(x, y)

			if t, ok := snap.Acquire(addr); ok {
				frame.Tiles++
				jobs = append(jobs, drawJob{
					zoom: addr.Z, cellX: x, cellY: y,
					img: t.Image, srcRect: t.Image.Bounds(), dstRect: dst,
				})
				continue
			}

			frame.Missing++
			if job, ok := c.placeholder(snap, addr, ts); ok {
				job.cellX, job.cellY, job.dstRect = x, y, dst
				jobs = append(jobs, job)
				frame.Placeholders++
			}
		}
	}
	return jobs
}

// placeholder finds the nearest cached ancestor of addr and the part of it
// that covers addr.
func (c *Compositor) placeholder(snap *cache.Snapshot, addr tile.Address, ts int) (drawJob, bool) {
	for d := 1; d <= c.opts.PlaceholderDepth && uint32(d) <= addr.Z; d++ {
		anc, err := addr.AncestorAt(addr.Z - uint32(d))
		if err != nil {
			return drawJob{}, false
		}
		t, ok := snap.Acquire(anc)
		if !ok {
			continue
		}

		b := t.Image.Bounds()
		sub := max(b.Dx()>>d, 1)
		offX := int(addr.X-anc.X<<d) * sub
		offY := int(addr.Y-anc.Y<<d) * sub
		src := image.Rect(b.Min.X+offX, b.Min.Y+offY, b.Min.X+offX+sub, b.Min.Y+offY+sub).Intersect(b)
		if src.Empty() {
			continue
		}
		return drawJob{zoom: anc.Z, img: t.Image, srcRect: src}, true
	}
	return drawJob{}, false
}

func drawTile(dst *image.NRGBA, j drawJob) {
	if j.srcRect.Dx() == j.dstRect.Dx() && j.srcRect.Dy() == j.dstRect.Dy() {
		xdraw.Draw(dst, j.dstRect, j.img, j.srcRect.Min, xdraw.Over)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, j.dstRect, j.img, j.srcRect, xdraw.Over, nil)
}

func fill(img *image.NRGBA, c color.NRGBA) {
	xdraw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, xdraw.Src)
}

// HitTest returns the topmost reactive marker at p across all visible layers,
// searching the top layer first.
func (c *Compositor) HitTest(p image.Point) (*marker.Marker, bool) {
	m, _, ok := c.HitTestLayer(p)
	return m, ok
}

// HitTestLayer is HitTest that also returns the layer of the hit marker.
func (c *Compositor) HitTestLayer(p image.Point) (*marker.Marker, *marker.Layer, bool) {
	for i := len(c.stack) - 1; i >= 0; i-- {
		l := c.stack[i].markers
		if l == nil {
			continue
		}
		if hits := l.MarkersNear(c.vp, p, HitTolerance); len(hits) > 0 {
			return hits[0], l, true
		}
	}
	return nil, nil, false
}
