package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/slippymap/internal/cache"
	"github.com/MeKo-Tech/slippymap/internal/mbtiles"
	"github.com/MeKo-Tech/slippymap/internal/source"
	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// Seeder fetches tiles into the disk cache.
type Seeder struct {
	Fetcher source.Fetcher
	Store   cache.FileStore
	// Force refetches tiles that are already stored.
	Force bool
	// Persist writes fetched bytes to Store. Leave it off when the fetcher
	// stores tiles itself, as the HTTP fetcher does, so ETags are kept.
	Persist bool
}

// Process implements Processor.
func (s *Seeder) Process(ctx context.Context, addr tile.Address) (Outcome, error) {
	if !s.Force {
		entry, err := s.Store.Get(ctx, addr)
		if err == nil {
			return Outcome{Bytes: len(entry.Data), Skipped: true}, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			return Outcome{}, fmt.Errorf("failed to check cache: %w", err)
		}
	}

	data, err := s.Fetcher.Fetch(ctx, addr)
	if err != nil {
		return Outcome{}, err
	}
	if s.Persist {
		if err := s.Store.Store(ctx, addr, data, ""); err != nil {
			return Outcome{}, fmt.Errorf("failed to store tile: %w", err)
		}
	}
	return Outcome{Bytes: len(data)}, nil
}

// Exporter fetches tiles and writes them to an MBTiles database. Tiles the
// source does not have are skipped.
type Exporter struct {
	Fetcher source.Fetcher
	Writer  *mbtiles.Writer
	// Resume skips tiles the database already holds.
	Resume bool
}

// Process implements Processor.
func (e *Exporter) Process(ctx context.Context, addr tile.Address) (Outcome, error) {
	if e.Resume {
		ok, err := e.Writer.Has(ctx, addr)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return Outcome{Skipped: true}, nil
		}
	}

	data, err := e.Fetcher.Fetch(ctx, addr)
	if errors.Is(err, source.ErrNotFound) {
		return Outcome{Skipped: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := e.Writer.WriteTile(addr, data); err != nil {
		return Outcome{}, fmt.Errorf("failed to write tile: %w", err)
	}
	return Outcome{Bytes: len(data)}, nil
}
