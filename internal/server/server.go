// Package server exposes a map engine over HTTP: composed frames, single
// tiles, marker hit-testing and status.
package server

import (
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/composite"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/MeKo-Tech/slippymap/internal/session"
	"github.com/MeKo-Tech/slippymap/internal/viewport"
)

// Config configures the HTTP host.
type Config struct {
	CacheControl   string
	PNGCompression string
	// FrameTimeout bounds how long /frame.png waits for missing tiles (default: 10s)
	FrameTimeout time.Duration
	// TileTimeout bounds how long /tiles waits for a single tile (default: 30s)
	TileTimeout time.Duration
	// MaxFrameSize caps the width and height of a frame (default: 4096)
	MaxFrameSize int
	// StatusInterval is the SSE update period (default: 250ms)
	StatusInterval time.Duration
	Viewport       viewport.Config
	Composite      composite.Options
}

// Server serves frames and tiles from a shared engine. Every frame request
// gets its own session; marker and path layers are shared.
type Server struct {
	engine *session.Engine
	cfg    Config
	level  png.CompressionLevel
	logger *slog.Logger

	mu     sync.RWMutex
	layers []namedLayer

	activeRequests atomic.Int32
	framesServed   atomic.Int64
	tilesServed    atomic.Int64
	totalFailed    atomic.Int64
	currentTiles   sync.Map // tile string -> start time
}

// Status is the JSON document served by /status.
type Status struct {
	Engine session.Status `json:"engine"`
	HTTP   HTTPStatus     `json:"http"`
}

// HTTPStatus contains request counters.
type HTTPStatus struct {
	ActiveRequests int      `json:"active_requests"`
	FramesServed   int64    `json:"frames_served"`
	TilesServed    int64    `json:"tiles_served"`
	TotalFailed    int64    `json:"total_failed"`
	CurrentTiles   []string `json:"current_tiles"`
	Layers         []string `json:"layers"`
}

// New creates a server around engine.
func New(engine *session.Engine, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.CacheControl == "" {
		cfg.CacheControl = "no-store"
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 10 * time.Second
	}
	if cfg.TileTimeout <= 0 {
		cfg.TileTimeout = 30 * time.Second
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = 4096
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 250 * time.Millisecond
	}
	if cfg.Viewport == (viewport.Config{}) {
		cfg.Viewport = viewport.DefaultConfig()
	}

	level, err := composite.ParsePNGCompression(cfg.PNGCompression)
	if err != nil {
		return nil, err
	}

	return &Server{
		engine: engine,
		cfg:    cfg,
		level:  level,
		logger: logger,
	}, nil
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// AddLayer shares a marker layer with every frame.
func (s *Server) AddLayer(l *marker.Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = append(s.layers, l)
}

// AddPath shares a path layer with every frame, above the layers added so far.
func (s *Server) AddPath(p *marker.PathLayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = append(s.layers, p)
}

// namedLayer is a *marker.Layer or a *marker.PathLayer.
type namedLayer interface {
	Name() string
}

// snapshotLayers returns the shared layers bottom to top.
func (s *Server) snapshotLayers() []namedLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]namedLayer(nil), s.layers...)
}

// Status returns the current engine and request counters.
func (s *Server) Status() Status {
	var current []string
	s.currentTiles.Range(func(key, _ any) bool {
		current = append(current, key.(string))
		return true
	})

	var layers []string
	for _, l := range s.snapshotLayers() {
		layers = append(layers, l.Name())
	}

	return Status{
		Engine: s.engine.Status(),
		HTTP: HTTPStatus{
			ActiveRequests: int(s.activeRequests.Load()),
			FramesServed:   s.framesServed.Load(),
			TilesServed:    s.tilesServed.Load(),
			TotalFailed:    s.totalFailed.Load(),
			CurrentTiles:   current,
			Layers:         layers,
		},
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/frame.png", withCORS(http.HandlerFunc(s.serveFrame)))
	mux.Handle("/hit", withCORS(http.HandlerFunc(s.serveHit)))
	mux.Handle("/markers.geojson", withCORS(http.HandlerFunc(s.serveMarkers)))
	mux.Handle("/tiles/", withCORS(http.HandlerFunc(s.serveTile)))
	mux.Handle("/status", withCORS(s.StatusHandler()))
	mux.Handle("/status/stream", s.StatusStreamHandler())
	return mux
}

// StatusHandler returns an HTTP handler for the status endpoint (JSON).
func (s *Server) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
			s.log().Error("failed to encode status", "error", err)
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
		}
	})
}

// StatusStreamHandler pushes the status document as Server-Sent Events.
func (s *Server) StatusStreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		ticker := time.NewTicker(s.cfg.StatusInterval)
		defer ticker.Stop()

		s.sendStatusEvent(w, flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				s.sendStatusEvent(w, flusher)
			}
		}
	})
}

func (s *Server) sendStatusEvent(w http.ResponseWriter, flusher http.Flusher) {
	data, err := json.Marshal(s.Status())
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
