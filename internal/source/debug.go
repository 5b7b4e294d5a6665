package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/MeKo-Tech/slippymap/internal/tile"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	debugBackground = color.NRGBA{R: 240, G: 236, B: 226, A: 255}
	debugBorder     = color.NRGBA{R: 200, G: 60, B: 60, A: 255}
	debugText       = color.NRGBA{R: 40, G: 40, B: 40, A: 255}
)

// DebugFetcher draws a tile outline labelled with its address. It is used as
// the last link of a chain so missing areas stay identifiable.
type DebugFetcher struct {
	tileSize int
}

// NewDebugFetcher creates a debug tile generator. tileSize defaults to 256.
func NewDebugFetcher(tileSize int) *DebugFetcher {
	if tileSize <= 0 {
		tileSize = 256
	}
	return &DebugFetcher{tileSize: tileSize}
}

func (f *DebugFetcher) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Render(addr)); err != nil {
		return nil, fmt.Errorf("failed to encode debug tile: %w", err)
	}
	return buf.Bytes(), nil
}

// Render draws the debug tile for addr.
func (f *DebugFetcher) Render(addr tile.Address) *image.NRGBA {
	size := f.tileSize
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(debugBackground), image.Point{}, draw.Src)

	for i := 0; i < size; i++ {
		img.SetNRGBA(i, 0, debugBorder)
		img.SetNRGBA(i, size-1, debugBorder)
		img.SetNRGBA(0, i, debugBorder)
		img.SetNRGBA(size-1, i, debugBorder)
	}

	label := addr.Normalize().String()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(debugText),
		Face: basicfont.Face7x13,
	}
	width := d.MeasureString(label).Round()
	d.Dot = fixed.P((size-width)/2, size/2+basicfont.Face7x13.Ascent/2)
	d.DrawString(label)

	return img
}
