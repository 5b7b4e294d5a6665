package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/slippymap/internal/mbtiles"
	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// MBTilesFetcher serves tiles from an offline MBTiles database.
type MBTilesFetcher struct {
	r *mbtiles.Reader
}

// OpenMBTilesFetcher opens the database at path.
func OpenMBTilesFetcher(path string) (*MBTilesFetcher, error) {
	if path == "" {
		return nil, fmt.Errorf("mbtiles source requires a path")
	}
	r, err := mbtiles.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mbtiles %s: %w", path, err)
	}
	return &MBTilesFetcher{r: r}, nil
}

func (f *MBTilesFetcher) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	data, err := f.r.ReadTile(ctx, addr)
	if errors.Is(err, mbtiles.ErrTileNotFound) {
		return nil, NotFoundError(addr, err)
	}
	if err != nil {
		return nil, NetworkError(addr, err)
	}
	return data, nil
}

// Metadata returns the database metadata.
func (f *MBTilesFetcher) Metadata() (mbtiles.Metadata, error) {
	return f.r.Metadata()
}

func (f *MBTilesFetcher) Close() error {
	return f.r.Close()
}
