package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/composite"
	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/MeKo-Tech/slippymap/internal/session"
	"github.com/paulmach/orb/geojson"
)

// viewConfig reads lat, lon, zoom, w and h from the query.
func (s *Server) viewConfig(q url.Values) (session.Config, error) {
	cfg := session.DefaultConfig()
	cfg.Viewport = s.cfg.Viewport
	cfg.Composite = s.cfg.Composite

	var err error
	if cfg.Center.Lat, err = floatParam(q, "lat", 0); err != nil {
		return cfg, err
	}
	if cfg.Center.Lon, err = floatParam(q, "lon", 0); err != nil {
		return cfg, err
	}
	if cfg.Zoom, err = floatParam(q, "zoom", cfg.Zoom); err != nil {
		return cfg, err
	}
	if cfg.Width, err = intParam(q, "w", cfg.Width); err != nil {
		return cfg, err
	}
	if cfg.Height, err = intParam(q, "h", cfg.Height); err != nil {
		return cfg, err
	}

	if cfg.Center.Lat < -90 || cfg.Center.Lat > 90 {
		return cfg, fmt.Errorf("lat out of range: %g", cfg.Center.Lat)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > s.cfg.MaxFrameSize || cfg.Height > s.cfg.MaxFrameSize {
		return cfg, fmt.Errorf("frame size must be within 1..%d: %dx%d", s.cfg.MaxFrameSize, cfg.Width, cfg.Height)
	}
	return cfg, nil
}

func floatParam(q url.Values, name string, def float64) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return f, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return i, nil
}

func (s *Server) newSession(cfg session.Config) *session.Session {
	sess := session.New(s.engine, cfg)
	for _, l := range s.snapshotLayers() {
		switch l := l.(type) {
		case *marker.Layer:
			sess.AddLayer(l)
		case *marker.PathLayer:
			sess.AddPath(l)
		}
	}
	return sess
}

func (s *Server) serveFrame(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.viewConfig(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.activeRequests.Add(1)
	defer s.activeRequests.Add(-1)

	sess := s.newSession(cfg)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.FrameTimeout)
	defer cancel()

	start := time.Now()
	frame, err := sess.RenderComplete(ctx)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			s.totalFailed.Add(1)
			http.Error(w, "failed to render frame: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.log().Warn("frame incomplete at timeout", "missing", frame.Missing, "timeout", s.cfg.FrameTimeout)
	}

	var buf bytes.Buffer
	if err := composite.EncodePNG(&buf, frame.Image, s.level); err != nil {
		s.totalFailed.Add(1)
		s.log().Error("failed to encode frame", "error", err)
		http.Error(w, "failed to encode frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", s.cfg.CacheControl)
	w.Header().Set("X-Frame-Complete", strconv.FormatBool(frame.Complete()))
	w.Header().Set("X-Frame-Missing", strconv.Itoa(frame.Missing))
	s.framesServed.Add(1)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log().Error("failed to write response", "error", err)
		return
	}
	s.log().Info("served frame",
		"lat", cfg.Center.Lat, "lon", cfg.Center.Lon, "zoom", cfg.Zoom,
		"tiles", frame.Tiles, "placeholders", frame.Placeholders, "missing", frame.Missing,
		"duration_ms", time.Since(start).Milliseconds())
}

type hitResponse struct {
	Hit    bool             `json:"hit"`
	Layer  string           `json:"layer,omitempty"`
	Marker *geojson.Feature `json:"marker,omitempty"`
}

// serveHit reports the topmost marker at pixel (x, y) of the described view.
func (s *Server) serveHit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg, err := s.viewConfig(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	x, errX := intParam(q, "x", cfg.Width/2)
	y, errY := intParam(q, "y", cfg.Height/2)
	if err := errors.Join(errX, errY); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := s.newSession(cfg)
	defer sess.Close()

	var resp hitResponse
	if m, layer, ok := sess.Compositor().HitTestLayer(image.Pt(x, y)); ok {
		resp = hitResponse{
			Hit:    true,
			Layer:  layer.Name(),
			Marker: marker.ToGeoJSON([]*marker.Marker{m}).Features[0],
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log().Error("failed to encode hit result", "error", err)
	}
}

// serveMarkers exports all markers and paths, or those of ?layer=name, as
// GeoJSON.
func (s *Server) serveMarkers(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("layer")

	var (
		markers []*marker.Marker
		paths   []*marker.PathLayer
		found   bool
	)
	for _, l := range s.snapshotLayers() {
		if name != "" && l.Name() != name {
			continue
		}
		found = true
		switch l := l.(type) {
		case *marker.Layer:
			markers = append(markers, l.Markers()...)
		case *marker.PathLayer:
			paths = append(paths, l)
		}
	}
	if name != "" && !found {
		http.Error(w, "unknown layer: "+name, http.StatusNotFound)
		return
	}

	fc := marker.ToGeoJSON(markers)
	for _, p := range paths {
		if f := marker.PathToGeoJSON(p); f != nil {
			fc.Append(f)
		}
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		s.log().Error("failed to encode markers", "error", err)
		http.Error(w, "failed to encode markers", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}
