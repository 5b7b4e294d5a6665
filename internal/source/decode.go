package source

import (
	"bytes"
	"image"
	"image/draw"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/MeKo-Tech/slippymap/internal/tile"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Decode decodes PNG, JPEG or WebP bytes into an NRGBA image anchored at the
// origin. Failures are reported as ErrDecode.
func Decode(addr tile.Address, data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, DecodeError(addr, errEmptyTile)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, DecodeError(addr, err)
	}
	return toNRGBA(img), nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
