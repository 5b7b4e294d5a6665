package composite

import (
	"image"
	"image/color"

	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/fogleman/gg"
)

var (
	markerOutline   = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	selectedOutline = color.NRGBA{R: 38, G: 139, B: 210, A: 255}
	labelColor      = color.NRGBA{R: 30, G: 30, B: 30, A: 255}
)

// drawOverlays draws visible marker and path layers bottom to top onto dst
// and returns the number of markers and paths drawn.
func (c *Compositor) drawOverlays(dst *image.NRGBA) (markers, paths int) {
	b := dst.Bounds()
	if b.Empty() || len(c.stack) == 0 {
		return 0, 0
	}

	var dc *gg.Context
	var overlay *image.RGBA
	canvas := func() *gg.Context {
		if dc == nil {
			overlay = image.NewRGBA(b)
			dc = gg.NewContextForRGBA(overlay)
		}
		return dc
	}

	for _, o := range c.stack {
		if o.path != nil {
			if o.path.Visible() && c.drawPath(canvas, o.path, b) {
				paths++
			}
			continue
		}
		l := o.markers
		if !l.Visible() {
			continue
		}
		for _, m := range l.DrawOrder() {
			x, y := c.vp.CoordinateToScreen(m.Position)
			r := m.HitRadius()
			margin := r + 2 + float64(len(m.Label))*7
			if x < -margin || y < -margin || x > float64(b.Dx())+margin || y > float64(b.Dy())+margin {
				continue
			}
			drawMarker(canvas(), m, x, y, r)
			markers++
		}
	}

	if overlay != nil {
		alphaOver(dst, overlay)
	}
	return markers, paths
}

func drawMarker(dc *gg.Context, m *marker.Marker, x, y, r float64) {
	if m.Icon != nil {
		dc.DrawImageAnchored(m.Icon, int(x), int(y), 0.5, 0.5)
		if m.Selected() {
			dc.DrawCircle(x, y, r+2)
			dc.SetColor(selectedOutline)
			dc.SetLineWidth(3)
			dc.Stroke()
		}
	} else {
		dc.DrawCircle(x, y, r)
		dc.SetColor(m.FillColor())
		dc.FillPreserve()
		if m.Selected() {
			dc.SetColor(selectedOutline)
			dc.SetLineWidth(3)
		} else {
			dc.SetColor(markerOutline)
			dc.SetLineWidth(2)
		}
		dc.Stroke()
	}

	if m.Label != "" {
		dc.SetColor(labelColor)
		dc.DrawStringAnchored(m.Label, x, y-r-4, 0.5, 0)
	}
}
