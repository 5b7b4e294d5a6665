package session

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/composite"
	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/MeKo-Tech/slippymap/internal/source"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/MeKo-Tech/slippymap/internal/viewport"
)

// ErrClosed is returned by Run and Step after Close.
var ErrClosed = errors.New("session closed")

// Config configures a Session.
type Config struct {
	Viewport  viewport.Config
	Composite composite.Options
	Width     int
	Height    int
	Center    geo.Coordinate
	Zoom      float64
	// EventBuffer is the capacity of the event queue (default: 256)
	EventBuffer int
	// ClickSlop is the largest pointer travel that still counts as a click (default: 4px)
	ClickSlop float64
	// ScrollStep scales scroll deltas into zoom levels (default: 1)
	ScrollStep float64
	// RetryFailedAfter suppresses new requests for a tile that failed (default: 30s)
	RetryFailedAfter time.Duration
}

// DefaultConfig returns an 800x600 view of the whole world.
func DefaultConfig() Config {
	return Config{
		Viewport:         viewport.DefaultConfig(),
		Width:            800,
		Height:           600,
		Zoom:             2,
		EventBuffer:      256,
		ClickSlop:        4,
		ScrollStep:       1,
		RetryFailedAfter: 30 * time.Second,
	}
}

// Session is one interactive map view. Handle*, SetCenter and SetZoom may be
// called from any goroutine: they queue events. Events are dispatched by Run
// or Step, and Render must be called from that same goroutine, typically
// inside the OnRedrawNeeded callback.
type Session struct {
	engine *Engine
	cfg    Config
	vp     *viewport.Viewport
	comp   *composite.Compositor

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// Loop-owned state below
	handles map[uint64]tracked
	nextReq uint64
	failed  map[uint64]time.Time
	now     func() time.Time

	dragging bool
	moved    bool
	downAt   image.Point
	last     image.Point
	dirty    bool

	cbMu            sync.Mutex
	onRedraw        func()
	onMarkerClicked func(*marker.Marker)
}

// New creates a session drawing from the engine's cache.
func New(engine *Engine, cfg Config) *Session {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.ClickSlop <= 0 {
		cfg.ClickSlop = 4
	}
	if cfg.ScrollStep == 0 {
		cfg.ScrollStep = 1
	}
	if cfg.RetryFailedAfter <= 0 {
		cfg.RetryFailedAfter = 30 * time.Second
	}

	vp := viewport.New(cfg.Viewport)
	vp.Resize(cfg.Width, cfg.Height)
	vp.SetZoom(cfg.Zoom)
	vp.SetCenter(cfg.Center)

	s := &Session{
		engine:  engine,
		cfg:     cfg,
		vp:      vp,
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
		handles: make(map[uint64]tracked),
		failed:  make(map[uint64]time.Time),
		now:     time.Now,
	}
	s.comp = composite.New(vp, engine.Cache, s, cfg.Composite)
	return s
}

func (s *Session) log() *slog.Logger {
	return s.engine.Logger()
}

// Viewport returns the session viewport. Only touch it from the loop.
func (s *Session) Viewport() *viewport.Viewport {
	return s.vp
}

// Compositor returns the session compositor. Only touch it from the loop.
func (s *Session) Compositor() *composite.Compositor {
	return s.comp
}

// AddLayer adds a marker layer on top of the existing ones.
func (s *Session) AddLayer(l *marker.Layer) {
	s.comp.AddLayer(l)
	s.dirty = true
}

// AddPath adds a path layer on top of the existing layers.
func (s *Session) AddPath(p *marker.PathLayer) {
	s.comp.AddPath(p)
	s.dirty = true
}

// OnRedrawNeeded registers fn to be called on the loop after a batch of
// events changed the view.
func (s *Session) OnRedrawNeeded(fn func()) {
	s.cbMu.Lock()
	s.onRedraw = fn
	s.cbMu.Unlock()
}

// OnMarkerClicked registers fn to be called on the loop when a click hits a
// marker. The marker's selection has already been toggled.
func (s *Session) OnMarkerClicked(fn func(*marker.Marker)) {
	s.cbMu.Lock()
	s.onMarkerClicked = fn
	s.cbMu.Unlock()
}

// HandlePointerEvent queues a PointerDown, PointerMove or PointerUp at p.
func (s *Session) HandlePointerEvent(p image.Point, kind EventKind) {
	s.post(Event{Kind: kind, Point: p})
}

// HandleScroll queues a zoom by delta levels anchored at p.
func (s *Session) HandleScroll(p image.Point, delta float64) {
	s.post(Event{Kind: Scroll, Point: p, Delta: delta})
}

// HandleResize queues a resize of the view to w x h pixels.
func (s *Session) HandleResize(w, h int) {
	s.post(Event{Kind: Resize, Width: w, Height: h})
}

// SetCenter queues a move of the view center.
func (s *Session) SetCenter(c geo.Coordinate) {
	s.post(Event{Kind: ViewChange, center: &c})
}

// SetZoom queues a zoom change around the view center.
func (s *Session) SetZoom(z float64) {
	s.post(Event{Kind: ViewChange, zoom: &z})
}

// post queues ev, blocking while the queue is full. Events posted after
// Close are dropped.
func (s *Session) post(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// RequestTile starts loading addr unless a request is already tracked or it
// failed recently. It is called by the compositor during Render.
func (s *Session) RequestTile(addr tile.Address) {
	addr = addr.Normalize()
	key := addr.Key()
	if _, ok := s.handles[key]; ok {
		return
	}
	if at, ok := s.failed[key]; ok {
		if s.now().Sub(at) < s.cfg.RetryFailedAfter {
			return
		}
		delete(s.failed, key)
	}

	s.nextReq++
	req := s.nextReq
	h := s.engine.Loader.Request(addr, func(r source.Result) {
		s.post(Event{Kind: TileLoaded, Result: r, request: req})
	})
	s.handles[key] = tracked{handle: h, request: req}
}

// tracked is an outstanding tile request of the session.
type tracked struct {
	handle  *source.Handle
	request uint64
}

// Pending returns the number of tracked tile requests.
func (s *Session) Pending() int {
	return len(s.handles)
}

// Render composes the current view and requests missing tiles.
func (s *Session) Render() *composite.Frame {
	s.dirty = false
	return s.comp.Render()
}

// HitTest returns the topmost marker under p.
func (s *Session) HitTest(p image.Point) (*marker.Marker, bool) {
	return s.comp.HitTest(p)
}

// Run dispatches events until ctx is done or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := s.Step(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Step waits for at least one event, dispatches everything queued and fires
// OnRedrawNeeded once if the view changed.
func (s *Session) Step(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	case ev := <-s.events:
		s.dispatch(ev)
	}
	s.drain()
	return nil
}

// ProcessPending dispatches queued events without blocking and returns how
// many were handled. Hosts that drive their own loop call it instead of Run.
func (s *Session) ProcessPending() int {
	return s.drain()
}

func (s *Session) drain() int {
	n := 0
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
			n++
			continue
		default:
		}
		break
	}
	if s.dirty {
		s.dirty = false
		s.cbMu.Lock()
		fn := s.onRedraw
		s.cbMu.Unlock()
		if fn != nil {
			fn()
		}
	}
	return n
}

// RenderComplete renders until every on-screen tile is available, nothing is
// left to wait for, or ctx is done. The last frame is always returned.
func (s *Session) RenderComplete(ctx context.Context) (*composite.Frame, error) {
	for {
		s.ProcessPending()
		frame := s.Render()
		if frame.Complete() || s.Pending() == 0 {
			return frame, nil
		}
		if err := s.Step(ctx); err != nil {
			return frame, err
		}
	}
}

func (s *Session) dispatch(ev Event) {
	switch ev.Kind {
	case PointerDown:
		s.dragging = true
		s.moved = false
		s.downAt = ev.Point
		s.last = ev.Point
	case PointerMove:
		if !s.dragging {
			return
		}
		dx, dy := ev.Point.X-s.last.X, ev.Point.Y-s.last.Y
		if dx == 0 && dy == 0 {
			return
		}
		s.vp.Pan(float64(-dx), float64(-dy))
		s.last = ev.Point
		if distance(ev.Point, s.downAt) > s.cfg.ClickSlop {
			s.moved = true
		}
		s.viewChanged()
	case PointerUp:
		if s.dragging && !s.moved && distance(ev.Point, s.downAt) <= s.cfg.ClickSlop {
			s.click(ev.Point)
		}
		s.dragging = false
	case Scroll:
		s.vp.ZoomBy(ev.Delta*s.cfg.ScrollStep, ev.Point)
		s.viewChanged()
	case Resize:
		s.vp.Resize(ev.Width, ev.Height)
		s.viewChanged()
	case ViewChange:
		if ev.zoom != nil {
			s.vp.SetZoom(*ev.zoom)
		}
		if ev.center != nil {
			s.vp.SetCenter(*ev.center)
		}
		s.viewChanged()
	case TileLoaded:
		s.tileLoaded(ev.Result, ev.request)
	default:
		s.log().Warn("ignoring unknown event", "kind", ev.Kind.String())
	}
}

func (s *Session) click(p image.Point) {
	m, layer, ok := s.comp.HitTestLayer(p)
	if !ok {
		return
	}
	selected := layer.Toggle(m.ID)
	s.dirty = true
	s.log().Debug("marker clicked", "layer", layer.Name(), "marker", m.ID, "selected", selected)

	s.cbMu.Lock()
	fn := s.onMarkerClicked
	s.cbMu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (s *Session) tileLoaded(r source.Result, request uint64) {
	key := r.Addr.Key()
	t, ok := s.handles[key]
	if !ok || t.request != request {
		// Answer to a request that was cancelled and has since been replaced
		return
	}
	delete(s.handles, key)

	if r.Err != nil {
		s.failed[key] = s.now()
		s.log().Debug("tile load failed", "tile", r.Addr.String(), "error", r.Err)
		return
	}
	if s.vp.IsVisible(r.Addr) {
		s.dirty = true
	}
}

// viewChanged cancels requests for tiles that left the visible set.
func (s *Session) viewChanged() {
	s.dirty = true
	for key, t := range s.handles {
		if !s.vp.IsVisible(t.handle.Addr()) {
			t.handle.Cancel()
			delete(s.handles, key)
		}
	}
}

// Close stops Run and cancels outstanding requests. Call it from the loop
// goroutine or after Run returned. It does not close the engine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	for key, t := range s.handles {
		t.handle.Cancel()
		delete(s.handles, key)
	}
}

func distance(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}
