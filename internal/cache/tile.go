// Package cache holds decoded tiles in memory and raw tile bytes on disk.
package cache

import (
	"image"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// Tile is a decoded raster tile. A Tile is immutable once it has been put
// into a cache; the cache tracks its reference count separately.
type Tile struct {
	Addr      tile.Address
	Image     *image.NRGBA
	DecodedAt time.Time
	ETag      string
}

// NewTile wraps a decoded image for addr.
func NewTile(addr tile.Address, img *image.NRGBA) *Tile {
	return &Tile{
		Addr:      addr.Normalize(),
		Image:     img,
		DecodedAt: time.Now(),
	}
}

// Size returns the number of bytes held by the pixel buffer.
func (t *Tile) Size() int64 {
	if t == nil || t.Image == nil {
		return 0
	}
	return int64(len(t.Image.Pix))
}
