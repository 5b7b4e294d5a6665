package composite

import (
	"image"
	"image/color"
	"math"
)

// alphaOver blends src over dst with straight-alpha source-over. Pixels are
// matched by absolute position; transparent source pixels are skipped.
func alphaOver(dst *image.NRGBA, src image.Image) {
	bounds := dst.Bounds().Intersect(src.Bounds())

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			s := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			if s.A == 0 {
				continue
			}
			dst.SetNRGBA(x, y, blendOver(s, dst.NRGBAAt(x, y)))
		}
	}
}

func blendOver(s, d color.NRGBA) color.NRGBA {
	if s.A == 255 {
		return s
	}

	sa := float64(s.A) / 255.0
	da := float64(d.A) / 255.0

	outA := sa + da*(1.0-sa)
	if outA == 0 {
		return color.NRGBA{}
	}

	blend := func(srcVal, dstVal uint8) uint8 {
		srcPremult := float64(srcVal) * sa
		dstPremult := float64(dstVal) * da
		outPremult := srcPremult + dstPremult*(1.0-sa)
		return uint8(math.Round(outPremult / outA))
	}

	return color.NRGBA{
		R: blend(s.R, d.R),
		G: blend(s.G, d.G),
		B: blend(s.B, d.B),
		A: uint8(math.Round(outA * 255.0)),
	}
}
