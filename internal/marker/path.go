package marker

import (
	"image/color"
	"slices"
	"sync"

	"github.com/MeKo-Tech/slippymap/internal/geo"
)

// DefaultStrokeWidth is the line width of a new path, in pixels.
const DefaultStrokeWidth = 2.0

var (
	DefaultPathStroke = color.NRGBA{R: 163, G: 0, B: 0, A: 255}
	DefaultPathFill   = color.NRGBA{R: 204, G: 0, B: 0, A: 171}
)

// PathStyle controls how a path layer is drawn.
type PathStyle struct {
	StrokeColor color.NRGBA
	FillColor   color.NRGBA
	StrokeWidth float64
	Stroke      bool
	// Fill paints the interior; it only applies to closed paths.
	Fill bool
	// Closed joins the last node back to the first.
	Closed bool
	// Dash alternates drawn and skipped lengths in pixels. Empty draws solid.
	Dash []float64
}

// DefaultPathStyle strokes an open path in dark red.
func DefaultPathStyle() PathStyle {
	return PathStyle{
		StrokeColor: DefaultPathStroke,
		FillColor:   DefaultPathFill,
		StrokeWidth: DefaultStrokeWidth,
		Stroke:      true,
	}
}

// PathLayer is a polyline or polygon through an ordered list of nodes.
type PathLayer struct {
	name string

	mu     sync.RWMutex
	nodes  []geo.Coordinate
	style  PathStyle
	hidden bool
}

// NewPathLayer creates an empty path with DefaultPathStyle.
func NewPathLayer(name string) *PathLayer {
	return &PathLayer{name: name, style: DefaultPathStyle()}
}

func (p *PathLayer) Name() string { return p.name }

// AddNode appends nodes to the end of the path.
func (p *PathLayer) AddNode(nodes ...geo.Coordinate) {
	p.mu.Lock()
	p.nodes = append(p.nodes, nodes...)
	p.mu.Unlock()
}

// InsertNode inserts c before index i. Indexes past the end append.
func (p *PathLayer) InsertNode(i int, c geo.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i = min(max(i, 0), len(p.nodes))
	p.nodes = slices.Insert(p.nodes, i, c)
}

// RemoveNode deletes the node at index i.
func (p *PathLayer) RemoveNode(i int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.nodes) {
		return false
	}
	p.nodes = slices.Delete(p.nodes, i, i+1)
	return true
}

// RemoveAll clears the path.
func (p *PathLayer) RemoveAll() {
	p.mu.Lock()
	p.nodes = nil
	p.mu.Unlock()
}

// Nodes returns a copy of the nodes in path order.
func (p *PathLayer) Nodes() []geo.Coordinate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.nodes)
}

// Style returns the current drawing style.
func (p *PathLayer) Style() PathStyle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.style
	s.Dash = slices.Clone(s.Dash)
	return s
}

// SetStyle replaces the drawing style. A non-positive width falls back to
// DefaultStrokeWidth and negative dash lengths are dropped.
func (p *PathLayer) SetStyle(s PathStyle) {
	if s.StrokeWidth <= 0 {
		s.StrokeWidth = DefaultStrokeWidth
	}
	s.Dash = slices.DeleteFunc(slices.Clone(s.Dash), func(d float64) bool { return d < 0 })
	p.mu.Lock()
	p.style = s
	p.mu.Unlock()
}

// SetVisible shows or hides the path.
func (p *PathLayer) SetVisible(visible bool) {
	p.mu.Lock()
	p.hidden = !visible
	p.mu.Unlock()
}

func (p *PathLayer) Visible() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.hidden
}
