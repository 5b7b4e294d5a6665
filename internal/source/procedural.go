package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/aquilax/go-perlin"
	"github.com/disintegration/gift"
)

// ProceduralFetcher generates deterministic shaded-relief tiles from Perlin
// noise sampled in world coordinates, so neighbouring tiles line up.
type ProceduralFetcher struct {
	seed     int64
	tileSize int
	// Scale is the number of noise periods across the whole world at zoom 0.
	Scale float64
	// Blur is the gaussian sigma applied after sampling; 0 disables it.
	Blur float32
}

// NewProceduralFetcher creates a generator. tileSize defaults to 256.
func NewProceduralFetcher(seed int64, tileSize int) *ProceduralFetcher {
	if tileSize <= 0 {
		tileSize = 256
	}
	return &ProceduralFetcher{seed: seed, tileSize: tileSize, Scale: 8, Blur: 0.6}
}

func (f *ProceduralFetcher) Fetch(ctx context.Context, addr tile.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, NetworkError(addr, err)
	}

	img := f.Render(addr)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode procedural tile: %w", err)
	}
	return buf.Bytes(), nil
}

// Render draws the tile at addr.
func (f *ProceduralFetcher) Render(addr tile.Address) *image.NRGBA {
	addr = addr.Normalize()
	size := f.tileSize

	// A fresh generator per tile; perlin.Perlin is not safe for concurrent use.
	p := perlin.NewPerlin(2.0, 2.0, 4, f.seed)

	world := float64(size) * float64(addr.GridSize())
	originX := float64(addr.X) * float64(size)
	originY := float64(addr.Y) * float64(size)

	heights := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			nx := (originX + float64(x)) / world * f.Scale
			ny := (originY + float64(y)) / world * f.Scale
			v := (p.Noise2D(nx, ny) + 1) / 2
			heights.SetGray(x, y, color.Gray{Y: uint8(math.Max(0, math.Min(255, v*255)))})
		}
	}

	if f.Blur > 0 {
		g := gift.New(gift.GaussianBlur(f.Blur))
		blurred := image.NewGray(g.Bounds(heights.Bounds()))
		g.Draw(blurred, heights)
		heights = blurred
	}

	out := image.NewNRGBA(heights.Bounds())
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			out.SetNRGBA(x, y, hypsometric(heights.GrayAt(x, y).Y))
		}
	}
	return out
}

// hypsometric maps a height in [0,255] to a terrain tint.
func hypsometric(h uint8) color.NRGBA {
	switch {
	case h < 110:
		return color.NRGBA{R: 70, G: 120, B: 190, A: 255} // water
	case h < 120:
		return color.NRGBA{R: 225, G: 215, B: 170, A: 255} // beach
	case h < 165:
		return color.NRGBA{R: 120, G: 170, B: 100, A: 255} // lowland
	case h < 200:
		return color.NRGBA{R: 150, G: 130, B: 95, A: 255} // hills
	default:
		return color.NRGBA{R: 240, G: 240, B: 240, A: 255} // peaks
	}
}
