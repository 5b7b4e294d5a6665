// Package source fetches raw tile bytes from the network, local databases or
// generators, and loads them asynchronously into the memory cache.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// Fetcher returns the encoded image bytes of one tile.
type Fetcher interface {
	Fetch(ctx context.Context, addr tile.Address) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, addr tile.Address) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	return f(ctx, addr)
}

// Chain tries fetchers in order and moves to the next one only when a
// fetcher reports ErrNotFound.
type Chain []Fetcher

func (c Chain) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	lastErr := NotFoundError(addr, errors.New("empty source chain"))
	for _, f := range c {
		data, err := f.Fetch(ctx, addr)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Options selects and configures the fetchers built by New.
type Options struct {
	// Kinds lists fetchers in fallback order: http, mbtiles, procedural, debug,
	// mapnik or the id of a registered server.
	Kinds       []string
	TileURL     string
	UserAgent   string
	MBTilesPath string
	MapnikStyle string
	TileSize    int
	Seed        int64
	Store       cache.FileStore
	Logger      *slog.Logger
}

// New builds a fetcher (a Chain when more than one kind is given) from opts.
// The returned close function releases any opened databases.
func New(opts Options) (Fetcher, func() error, error) {
	if len(opts.Kinds) == 0 {
		opts.Kinds = []string{"http"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var (
		chain   Chain
		closers []func() error
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	for _, kind := range opts.Kinds {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "http":
			if opts.TileURL == "" {
				closeAll()
				return nil, nil, fmt.Errorf("http source requires a tile URL")
			}
			chain = append(chain, NewHTTPFetcher(HTTPConfig{
				URLTemplate: opts.TileURL,
				UserAgent:   opts.UserAgent,
				Store:       opts.Store,
				Logger:      opts.Logger,
			}))
		case "mbtiles":
			f, err := OpenMBTilesFetcher(opts.MBTilesPath)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, f.Close)
			chain = append(chain, f)
		case "procedural":
			chain = append(chain, NewProceduralFetcher(opts.Seed, opts.TileSize))
		case "debug":
			chain = append(chain, NewDebugFetcher(opts.TileSize))
		case "mapnik":
			f, err := NewMapnikFetcher(opts.MapnikStyle, opts.TileSize)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, f.Close)
			chain = append(chain, f)
		default:
			desc, ok := Lookup(kind)
			if !ok {
				closeAll()
				return nil, nil, fmt.Errorf("unknown source: %s (supported: http, mbtiles, procedural, debug, mapnik, %s)", kind, registeredIDs())
			}
			chain = append(chain, NewHTTPFetcher(HTTPConfig{
				URLTemplate: desc.URLTemplate,
				UserAgent:   opts.UserAgent,
				Store:       opts.Store,
				Logger:      opts.Logger,
			}))
		}
		opts.Logger.Debug("added tile source", "kind", kind)
	}

	if len(chain) == 1 {
		return chain[0], closeAll, nil
	}
	return chain, closeAll, nil
}
