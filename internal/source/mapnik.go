//go:build mapnik

package source

// #cgo LDFLAGS: -lmapnik
// #cgo CXXFLAGS: -std=c++14
import "C"

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	mapnik "github.com/omniscale/go-mapnik/v2"
)

const webMercatorSRS = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs +over"

// MapnikDatasourceDir is where Mapnik input plugins are installed.
var MapnikDatasourceDir = "/usr/lib/mapnik/3.1/input"

// MapnikFetcher renders tiles from a Mapnik XML style.
type MapnikFetcher struct {
	m        *mapnik.Map
	tileSize int
	// mapnik.Map is not safe for concurrent rendering
	mu sync.Mutex
}

// NewMapnikFetcher loads styleFile into a map of tileSize pixels.
func NewMapnikFetcher(styleFile string, tileSize int) (*MapnikFetcher, error) {
	if tileSize <= 0 {
		tileSize = 256
	}
	if err := mapnik.RegisterDatasources(MapnikDatasourceDir); err != nil {
		return nil, fmt.Errorf("failed to register datasources: %w", err)
	}

	m := mapnik.NewSized(tileSize, tileSize)
	if styleFile != "" {
		if err := m.Load(styleFile); err != nil {
			m.Free()
			return nil, fmt.Errorf("failed to load Mapnik style: %w", err)
		}
	}
	m.SetSRS(webMercatorSRS)

	return &MapnikFetcher{m: m, tileSize: tileSize}, nil
}

func (f *MapnikFetcher) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	b := addr.Normalize().Bounds()
	minX, minY := geo.ToMercator(b.Min)
	maxX, maxY := geo.ToMercator(b.Max)

	f.mu.Lock()
	f.m.ZoomTo(minX, minY, maxX, maxY)
	img, err := f.m.RenderImage(mapnik.RenderOpts{Format: "png32"})
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to render tile %s: %w", addr, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode tile %s: %w", addr, err)
	}
	return buf.Bytes(), nil
}

// Close releases Mapnik resources.
func (f *MapnikFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m != nil {
		f.m.Free()
		f.m = nil
	}
	return nil
}
