package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/composite"
	"github.com/MeKo-Tech/slippymap/internal/source"
	"github.com/MeKo-Tech/slippymap/internal/tile"
)

func (s *Server) serveTile(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseTilePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", s.cfg.CacheControl)

	key := addr.String()
	s.activeRequests.Add(1)
	s.currentTiles.Store(key, time.Now())
	defer func() {
		s.activeRequests.Add(-1)
		s.currentTiles.Delete(key)
	}()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TileTimeout)
	defer cancel()

	start := time.Now()
	t, release, err := s.loadTile(ctx, addr)
	if err != nil {
		s.totalFailed.Add(1)
		status := tileErrorStatus(err)
		if status == http.StatusNotFound {
			s.log().Debug("tile not found", "tile", key, "error", err)
		} else {
			s.log().Error("failed to load tile", "tile", key, "error", err)
		}
		http.Error(w, "failed to load tile "+key+": "+err.Error(), status)
		return
	}
	defer release()

	var buf bytes.Buffer
	if err := composite.EncodePNG(&buf, t.Image, s.level); err != nil {
		s.totalFailed.Add(1)
		s.log().Error("failed to encode tile", "tile", key, "error", err)
		http.Error(w, "failed to encode tile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	s.tilesServed.Add(1)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log().Error("failed to write response", "error", err)
		return
	}
	s.log().Debug("served tile", "tile", key, "duration_ms", time.Since(start).Milliseconds())
}

// loadTile returns addr from the memory cache, loading it through the engine
// when needed. The tile stays pinned until release is called.
func (s *Server) loadTile(ctx context.Context, addr tile.Address) (*cache.Tile, func(), error) {
	mc := s.engine.Cache
	if t, ok := mc.Acquire(addr); ok {
		return t, func() { mc.Release(addr) }, nil
	}

	done := make(chan source.Result, 1)
	h := s.engine.Loader.Request(addr, func(res source.Result) {
		done <- res
	})

	select {
	case res := <-done:
		if res.Err != nil {
			return nil, nil, res.Err
		}
		if t, ok := mc.Acquire(addr); ok {
			return t, func() { mc.Release(addr) }, nil
		}
		// Evicted between load and acquire
		return res.Tile, func() {}, nil
	case <-ctx.Done():
		h.Cancel()
		return nil, nil, ctx.Err()
	}
}

func tileErrorStatus(err error) int {
	switch {
	case errors.Is(err, source.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// parseTilePath parses a tile path like /tiles/12/1208/1465.png.
func parseTilePath(requestPath string) (tile.Address, bool) {
	name, ok := strings.CutPrefix(requestPath, "/tiles/")
	if !ok {
		return tile.Address{}, false
	}
	name, ok = strings.CutSuffix(name, ".png")
	if !ok {
		return tile.Address{}, false
	}

	addr, err := tile.ParseExact(name)
	if err != nil {
		return tile.Address{}, false
	}
	return addr, true
}
