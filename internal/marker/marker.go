// Package marker manages point markers drawn above the map tiles, their
// selection state and hit-testing.
package marker

import (
	"image"
	"image/color"

	"github.com/MeKo-Tech/slippymap/internal/geo"
)

// DefaultRadius is the drawn and hit radius of a marker without an icon.
const DefaultRadius = 8.0

// DefaultColor fills markers that do not set one.
var DefaultColor = color.NRGBA{R: 220, G: 50, B: 47, A: 255}

// Marker is a point of interest pinned to a coordinate.
type Marker struct {
	ID       string
	Position geo.Coordinate
	Label    string
	// Icon replaces the default circle when set; it is centered on Position.
	Icon image.Image
	// Reactive markers take part in hit-testing.
	Reactive bool
	// Markers with a higher ZOrder are drawn and hit first.
	ZOrder int
	// Radius overrides DefaultRadius for circle markers.
	Radius     float64
	Color      color.NRGBA
	Properties map[string]any

	selected bool
	seq      uint64
}

// New creates a reactive marker at c.
func New(c geo.Coordinate, label string) *Marker {
	return &Marker{Position: c, Label: label, Reactive: true}
}

// Selected reports whether the marker is selected in its layer.
func (m *Marker) Selected() bool {
	return m.selected
}

// HitRadius is the distance in pixels from the anchor that counts as a hit.
func (m *Marker) HitRadius() float64 {
	if m.Icon != nil {
		b := m.Icon.Bounds()
		return float64(max(b.Dx(), b.Dy())) / 2
	}
	if m.Radius > 0 {
		return m.Radius
	}
	return DefaultRadius
}

// FillColor returns the marker color, falling back to DefaultColor.
func (m *Marker) FillColor() color.NRGBA {
	if m.Color == (color.NRGBA{}) {
		return DefaultColor
	}
	return m.Color
}
