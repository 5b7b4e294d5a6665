package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/tile"
)

const (
	// DefaultUserAgent identifies requests to tile servers.
	DefaultUserAgent = "slippymap/1.0 (+https://github.com/MeKo-Tech/slippymap)"
	// DefaultMaxAge is how long a disk-cached tile is served without revalidation.
	DefaultMaxAge = 7 * 24 * time.Hour
	// DefaultMaxTileBytes is the largest tile body accepted.
	DefaultMaxTileBytes = 8 << 20
)

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	// URLTemplate contains #X#, #Y#, #Z#, #TMSY# or {x}, {y}, {z} placeholders.
	URLTemplate string
	UserAgent   string
	// MaxAge is the freshness window for disk-cached tiles (default: 7 days).
	MaxAge time.Duration
	// MaxBytes rejects larger bodies as undecodable (default: 8 MiB).
	MaxBytes int64
	// Store is an optional disk cache used for ETag revalidation.
	Store  cache.FileStore
	Client *http.Client
	Logger *slog.Logger
}

// HTTPFetcher downloads tiles from a templated URL.
type HTTPFetcher struct {
	cfg HTTPConfig
}

// NewHTTPFetcher creates a fetcher for cfg, applying defaults.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxTileBytes
	}
	if cfg.Store == nil {
		cfg.Store = cache.NoopStore{}
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &HTTPFetcher{cfg: cfg}
}

func (f *HTTPFetcher) log() *slog.Logger {
	if f.cfg.Logger != nil {
		return f.cfg.Logger
	}
	return slog.Default()
}

// URL expands the template for addr.
func (f *HTTPFetcher) URL(addr tile.Address) string {
	return ExpandTemplate(f.cfg.URLTemplate, addr)
}

// ExpandTemplate substitutes tile coordinates into a URL template.
func ExpandTemplate(template string, addr tile.Address) string {
	addr = addr.Normalize()
	x := strconv.FormatUint(uint64(addr.X), 10)
	y := strconv.FormatUint(uint64(addr.Y), 10)
	z := strconv.FormatUint(uint64(addr.Z), 10)
	tmsy := strconv.FormatUint(uint64(addr.TMSRow()), 10)

	r := strings.NewReplacer(
		"#X#", x, "#Y#", y, "#Z#", z, "#TMSY#", tmsy,
		"{x}", x, "{y}", y, "{z}", z, "{-y}", tmsy,
	)
	return r.Replace(template)
}

// Fetch returns the tile bytes, serving fresh disk-cached copies directly
// and revalidating stale ones with If-None-Match.
func (f *HTTPFetcher) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	cached, err := f.cfg.Store.Get(ctx, addr)
	haveCached := err == nil
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		f.log().Warn("file cache read failed", "tile", addr.String(), "error", err)
	}
	if haveCached && time.Since(cached.Modified) < f.cfg.MaxAge {
		return cached.Data, nil
	}

	url := f.URL(addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NotFoundError(addr, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if haveCached && cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}

	start := time.Now()
	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return nil, NetworkError(addr, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && haveCached:
		if err := f.cfg.Store.Touch(ctx, addr); err != nil {
			f.log().Warn("file cache touch failed", "tile", addr.String(), "error", err)
		}
		f.log().Debug("tile not modified", "tile", addr.String(), "duration_ms", time.Since(start).Milliseconds())
		return cached.Data, nil
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, NetworkError(addr, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url))
	default:
		return nil, NotFoundError(addr, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, NetworkError(addr, fmt.Errorf("failed to read body: %w", err))
	}
	if int64(len(data)) > f.cfg.MaxBytes {
		return nil, DecodeError(addr, fmt.Errorf("tile body from %s exceeds %d bytes", url, f.cfg.MaxBytes))
	}

	if err := f.cfg.Store.Store(ctx, addr, data, resp.Header.Get("ETag")); err != nil {
		f.log().Warn("file cache write failed", "tile", addr.String(), "error", err)
	}

	f.log().Debug("downloaded tile", "tile", addr.String(), "bytes", len(data), "duration_ms", time.Since(start).Milliseconds())
	return data, nil
}
