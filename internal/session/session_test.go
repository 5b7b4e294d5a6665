package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/MeKo-Tech/slippymap/internal/source"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 40, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newEngine(t *testing.T, f source.Fetcher) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Fetcher: f,
		Cache:   cache.Config{MaxItems: 500},
		Loader: source.LoaderConfig{
			Workers:        4,
			MaxAttempts:    1,
			AttemptTimeout: 5 * time.Second,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Center = geo.Coordinate{}
	cfg.Zoom = 2
	cfg.Width = 800
	cfg.Height = 600
	return cfg
}

func TestNewEngine_RequiresFetcher(t *testing.T) {
	_, err := NewEngine(EngineConfig{})
	require.Error(t, err)
}

func TestEngineClose_RunsClosers(t *testing.T) {
	var closed atomic.Int32
	e, err := NewEngine(EngineConfig{
		Fetcher: source.NewDebugFetcher(256),
		Closers: []func() error{
			func() error { closed.Add(1); return nil },
			func() error { closed.Add(1); return errors.New("boom") },
		},
	})
	require.NoError(t, err)

	err = e.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(2), closed.Load())
}

func TestRenderComplete_LoadsVisibleTiles(t *testing.T) {
	data := solidPNG(t)
	e := newEngine(t, source.FetcherFunc(func(ctx context.Context, addr tile.Address) ([]byte, error) {
		return data, nil
	}))
	s := New(e, testConfig())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	frame, err := s.RenderComplete(ctx)
	require.NoError(t, err)
	assert.True(t, frame.Complete())
	assert.Zero(t, s.Pending())
	assert.Equal(t, color.NRGBA{R: 40, G: 120, B: 200, A: 255}, frame.Image.NRGBAAt(400, 300))
}

func TestRenderComplete_StopsWhenEverythingFailed(t *testing.T) {
	var calls atomic.Int32
	e := newEngine(t, source.FetcherFunc(func(ctx context.Context, addr tile.Address) ([]byte, error) {
		calls.Add(1)
		return nil, source.NotFoundError(addr, errors.New("no tile"))
	}))
	s := New(e, testConfig())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	frame, err := s.RenderComplete(ctx)
	require.NoError(t, err)
	assert.False(t, frame.Complete())
	assert.Zero(t, s.Pending())

	// Failed tiles are not requested again until the retry window passes
	before := calls.Load()
	s.Render()
	assert.Zero(t, s.Pending())
	assert.Equal(t, before, calls.Load())

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	s.Render()
	assert.NotZero(t, s.Pending())
}

func TestDragPansView(t *testing.T) {
	e := newEngine(t, source.NewDebugFetcher(256))
	s := New(e, testConfig())
	defer s.Close()

	s.HandlePointerEvent(image.Pt(400, 300), PointerDown)
	s.HandlePointerEvent(image.Pt(450, 300), PointerMove)
	s.HandlePointerEvent(image.Pt(500, 300), PointerMove)
	s.HandlePointerEvent(image.Pt(500, 300), PointerUp)
	assert.Equal(t, 4, s.ProcessPending())

	// Dragging the map right by 100px at zoom 2 (1024px world) moves the view west
	assert.InDelta(t, -35.15625, s.Viewport().Center().Lon, 1e-9)
	assert.InDelta(t, 0, s.Viewport().Center().Lat, 1e-9)
}

func TestPointerMoveWithoutDownIsIgnored(t *testing.T) {
	e := newEngine(t, source.NewDebugFetcher(256))
	s := New(e, testConfig())
	defer s.Close()

	s.HandlePointerEvent(image.Pt(500, 300), PointerMove)
	s.ProcessPending()
	assert.Equal(t, geo.Coordinate{}, s.Viewport().Center())
}

func markerSession(t *testing.T) (*Session, *marker.Layer, *marker.Marker, *[]*marker.Marker) {
	t.Helper()
	e := newEngine(t, source.NewDebugFetcher(256))
	s := New(e, testConfig())
	t.Cleanup(s.Close)

	layer := marker.NewLayer("poi", marker.SelectionSingle)
	m := marker.New(geo.Coordinate{}, "origin")
	layer.Add(m)
	s.AddLayer(layer)

	clicked := &[]*marker.Marker{}
	s.OnMarkerClicked(func(m *marker.Marker) {
		*clicked = append(*clicked, m)
	})
	return s, layer, m, clicked
}

func TestClickTogglesSelection(t *testing.T) {
	s, _, m, clicked := markerSession(t)

	s.HandlePointerEvent(image.Pt(400, 300), PointerDown)
	s.HandlePointerEvent(image.Pt(402, 301), PointerUp)
	s.ProcessPending()
	assert.True(t, m.Selected())
	require.Len(t, *clicked, 1)
	assert.Same(t, m, (*clicked)[0])

	s.HandlePointerEvent(image.Pt(400, 300), PointerDown)
	s.HandlePointerEvent(image.Pt(400, 300), PointerUp)
	s.ProcessPending()
	assert.False(t, m.Selected())
	assert.Len(t, *clicked, 2)
}

func TestClickMissDoesNothing(t *testing.T) {
	s, _, m, clicked := markerSession(t)

	s.HandlePointerEvent(image.Pt(100, 100), PointerDown)
	s.HandlePointerEvent(image.Pt(100, 100), PointerUp)
	s.ProcessPending()
	assert.False(t, m.Selected())
	assert.Empty(t, *clicked)
}

func TestDragBeyondSlopIsNotClick(t *testing.T) {
	s, _, m, clicked := markerSession(t)

	s.HandlePointerEvent(image.Pt(400, 300), PointerDown)
	s.HandlePointerEvent(image.Pt(410, 300), PointerMove)
	s.HandlePointerEvent(image.Pt(400, 300), PointerMove)
	s.HandlePointerEvent(image.Pt(400, 300), PointerUp)
	s.ProcessPending()
	assert.False(t, m.Selected())
	assert.Empty(t, *clicked)
}

func TestScrollZoomsAroundAnchor(t *testing.T) {
	e := newEngine(t, source.NewDebugFetcher(256))
	s := New(e, testConfig())
	defer s.Close()

	s.HandleScroll(image.Pt(400, 300), 1)
	s.ProcessPending()
	assert.InDelta(t, 3.0, s.Viewport().Zoom(), 1e-9)
	assert.InDelta(t, 0, s.Viewport().Center().Lon, 1e-9)
}

func TestResizeAndViewChanges(t *testing.T) {
	e := newEngine(t, source.NewDebugFetcher(256))
	s := New(e, testConfig())
	defer s.Close()

	berlin := geo.Coordinate{Lat: 52.52, Lon: 13.405}
	s.HandleResize(1024, 768)
	s.SetCenter(berlin)
	s.SetZoom(10)
	s.ProcessPending()

	vp := s.Viewport()
	assert.Equal(t, image.Pt(1024, 768), vp.Size())
	assert.InDelta(t, 10.0, vp.Zoom(), 1e-9)
	assert.InDelta(t, berlin.Lat, vp.Center().Lat, 1e-9)
	assert.InDelta(t, berlin.Lon, vp.Center().Lon, 1e-9)
}

func TestRedrawIsCoalescedPerBatch(t *testing.T) {
	e := newEngine(t, source.NewDebugFetcher(256))
	s := New(e, testConfig())
	defer s.Close()

	redraws := 0
	s.OnRedrawNeeded(func() { redraws++ })

	s.HandleScroll(image.Pt(400, 300), 1)
	s.HandleResize(640, 480)
	s.SetZoom(5)
	assert.Equal(t, 3, s.ProcessPending())
	assert.Equal(t, 1, redraws)

	assert.Zero(t, s.ProcessPending())
	assert.Equal(t, 1, redraws)
}

// blockingFetcher holds every fetch until release is closed or the loader
// shuts down.
type blockingFetcher struct {
	data    []byte
	release chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	select {
	case <-f.release:
		return f.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestViewChangeCancelsAndResumesRequests(t *testing.T) {
	f := &blockingFetcher{data: solidPNG(t), release: make(chan struct{})}
	e := newEngine(t, f)
	defer close(f.release)

	s := New(e, testConfig())
	defer s.Close()

	s.Render()
	requested := s.Pending()
	require.NotZero(t, requested)

	// Every tile at zoom 2 leaves the visible set at zoom 8
	s.SetZoom(8)
	s.ProcessPending()
	status := e.Loader.Status()
	assert.Equal(t, int64(requested), status.TotalCancelled)

	// Back before the loads complete: they resume instead of starting over
	s.SetZoom(2)
	s.ProcessPending()
	s.Render()
	assert.Equal(t, requested, s.Pending())
	assert.Equal(t, int64(requested), e.Loader.Status().TotalResumed)
}

func TestRunStopsOnContextAndClose(t *testing.T) {
	e := newEngine(t, source.NewDebugFetcher(256))

	s := New(e, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	s2 := New(e, testConfig())
	go func() { errCh <- s2.Run(context.Background()) }()
	s2.Close()
	assert.NoError(t, <-errCh)

	// Events after Close are dropped without blocking
	s2.HandleResize(10, 10)
}

func TestRunRedrawsWhenTilesArrive(t *testing.T) {
	data := solidPNG(t)
	e := newEngine(t, source.FetcherFunc(func(ctx context.Context, addr tile.Address) ([]byte, error) {
		return data, nil
	}))
	s := New(e, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan struct{})
	s.OnRedrawNeeded(func() {
		if s.Render().Complete() {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	// The first render is posted as a view change so it runs on the loop
	s.SetZoom(2)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for a complete frame")
	}
	cancel()
	<-errCh
	s.Close()
}

func TestStaleCompletionKeepsReplacementRequest(t *testing.T) {
	f := &blockingFetcher{data: solidPNG(t), release: make(chan struct{})}
	e := newEngine(t, f)
	defer close(f.release)

	s := New(e, testConfig())
	defer s.Close()

	a := tile.MustNew(2, 1, 1)
	s.RequestTile(a)
	first := s.handles[a.Key()].request

	// Leave and come back: the first request is cancelled, a new one tracked
	s.SetZoom(8)
	s.ProcessPending()
	require.Zero(t, s.Pending())
	s.SetZoom(2)
	s.ProcessPending()
	s.RequestTile(a)
	second := s.handles[a.Key()].request
	require.NotEqual(t, first, second)

	// A completion queued for the first request must not drop the second
	s.dispatch(Event{Kind: TileLoaded, Result: source.Result{Addr: a, Err: errors.New("stale")}, request: first})
	assert.Equal(t, 1, s.Pending())
	assert.NotContains(t, s.failed, a.Key())

	s.dispatch(Event{Kind: TileLoaded, Result: source.Result{Addr: a, Err: errors.New("failed")}, request: second})
	assert.Zero(t, s.Pending())
	assert.Contains(t, s.failed, a.Key())
}
