// Package session connects a host (GUI toolkit, CLI or HTTP handler) to the
// map core: it owns a viewport and compositor, turns input events into view
// changes and keeps tile requests in step with what is visible.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/source"
)

// EngineConfig configures the process-wide tile machinery.
type EngineConfig struct {
	Fetcher source.Fetcher
	// Store is the disk cache; it is closed with the engine.
	Store  cache.FileStore
	Cache  cache.Config
	Loader source.LoaderConfig
	// Closers run after the loader and store are closed, for example to
	// release databases opened for the fetcher.
	Closers []func() error
	Logger  *slog.Logger
}

// Engine holds state shared by all sessions: the memory cache, the disk
// cache and the loader.
type Engine struct {
	Cache  *cache.MemoryCache
	Store  cache.FileStore
	Loader *source.Loader
	logger *slog.Logger

	closers []func() error
}

// NewEngine creates an engine around cfg.Fetcher.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("engine requires a tile fetcher")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = cache.NoopStore{}
	}
	if cfg.Loader.Logger == nil {
		cfg.Loader.Logger = cfg.Logger
	}

	mc := cache.NewMemoryCache(cfg.Cache)
	return &Engine{
		Cache:   mc,
		Store:   cfg.Store,
		Loader:  source.NewLoader(cfg.Fetcher, mc, cfg.Loader),
		logger:  cfg.Logger,
		closers: cfg.Closers,
	}, nil
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Status is a snapshot of engine activity.
type Status struct {
	Loader source.LoaderStatus `json:"loader"`
	Cache  cache.Stats         `json:"cache"`
}

// Status reports loader and cache counters.
func (e *Engine) Status() Status {
	return Status{Loader: e.Loader.Status(), Cache: e.Cache.Stats()}
}

// Close stops the loader and releases the disk cache. Sessions must be
// closed first.
func (e *Engine) Close() error {
	e.Loader.Close()

	errs := []error{e.Store.Close()}
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}
