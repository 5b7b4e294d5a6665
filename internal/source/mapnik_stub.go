//go:build !mapnik

package source

import (
	"context"
	"errors"

	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// ErrMapnikUnavailable is returned when the binary was built without the mapnik tag.
var ErrMapnikUnavailable = errors.New("mapnik support not compiled in (build with -tags mapnik)")

// MapnikFetcher is unavailable in this build.
type MapnikFetcher struct{}

// NewMapnikFetcher always fails without the mapnik build tag.
func NewMapnikFetcher(styleFile string, tileSize int) (*MapnikFetcher, error) {
	return nil, ErrMapnikUnavailable
}

func (f *MapnikFetcher) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	return nil, NotFoundError(addr, ErrMapnikUnavailable)
}

func (f *MapnikFetcher) Close() error { return nil }
