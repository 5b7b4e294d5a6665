package composite

import (
	"image"

	"github.com/MeKo-Tech/slippymap/internal/marker"
	"github.com/fogleman/gg"
)

// drawPath strokes and fills p in screen space. It reports false when the
// path has fewer than two nodes or lies entirely off screen.
func (c *Compositor) drawPath(canvas func() *gg.Context, p *marker.PathLayer, b image.Rectangle) bool {
	nodes := p.Nodes()
	if len(nodes) < 2 {
		return false
	}
	style := p.Style()

	xs := make([]float64, len(nodes))
	ys := make([]float64, len(nodes))
	minX, minY, maxX, maxY := 1e18, 1e18, -1e18, -1e18
	for i, n := range nodes {
		xs[i], ys[i] = c.vp.CoordinateToScreen(n)
		minX, maxX = min(minX, xs[i]), max(maxX, xs[i])
		minY, maxY = min(minY, ys[i]), max(maxY, ys[i])
	}
	pad := style.StrokeWidth
	if maxX < -pad || maxY < -pad || minX > float64(b.Dx())+pad || minY > float64(b.Dy())+pad {
		return false
	}

	dc := canvas()
	dc.Push()
	defer dc.Pop()

	dc.SetLineJoin(gg.LineJoinBevel)
	dc.MoveTo(xs[0], ys[0])
	for i := 1; i < len(nodes); i++ {
		dc.LineTo(xs[i], ys[i])
	}
	if style.Closed {
		dc.ClosePath()
	}

	if style.Closed && style.Fill {
		dc.SetColor(style.FillColor)
		if style.Stroke {
			dc.FillPreserve()
		} else {
			dc.Fill()
		}
	}
	if style.Stroke {
		dc.SetColor(style.StrokeColor)
		dc.SetLineWidth(style.StrokeWidth)
		dc.SetDash(style.Dash...)
		dc.Stroke()
	}
	dc.ClearPath()
	return true
}
