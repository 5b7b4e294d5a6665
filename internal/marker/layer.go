package marker

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/google/uuid"
)

// SelectionMode controls how many markers of a layer can be selected.
type SelectionMode int

const (
	SelectionNone SelectionMode = iota
	SelectionSingle
	SelectionMultiple
)

func (m SelectionMode) String() string {
	switch m {
	case SelectionNone:
		return "none"
	case SelectionSingle:
		return "single"
	case SelectionMultiple:
		return "multiple"
	default:
		return fmt.Sprintf("SelectionMode(%d)", int(m))
	}
}

// ParseSelectionMode parses "none", "single" or "multiple".
func ParseSelectionMode(s string) (SelectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return SelectionNone, nil
	case "single":
		return SelectionSingle, nil
	case "multiple":
		return SelectionMultiple, nil
	default:
		return SelectionNone, fmt.Errorf("unknown selection mode: %s (supported: none, single, multiple)", s)
	}
}

// Projector maps coordinates to screen pixels. *viewport.Viewport implements it.
type Projector interface {
	CoordinateToScreen(c geo.Coordinate) (float64, float64)
}

// Layer is an ordered set of markers.
type Layer struct {
	name string
	mode SelectionMode

	mu      sync.RWMutex
	markers []*Marker
	byID    map[string]*Marker
	seq     uint64
	hidden  bool
}

// NewLayer creates an empty layer.
func NewLayer(name string, mode SelectionMode) *Layer {
	return &Layer{name: name, mode: mode, byID: make(map[string]*Marker)}
}

func (l *Layer) Name() string        { return l.name }
func (l *Layer) Mode() SelectionMode { return l.mode }

// SetVisible shows or hides the layer. Hidden layers are neither drawn nor hit.
func (l *Layer) SetVisible(visible bool) {
	l.mu.Lock()
	l.hidden = !visible
	l.mu.Unlock()
}

func (l *Layer) Visible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.hidden
}

// Add appends markers to the layer, assigning ids to markers without one.
// A marker whose id is already present replaces the existing one.
func (l *Layer) Add(markers ...*Marker) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range markers {
		if m == nil {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if old, ok := l.byID[m.ID]; ok {
			l.removeLocked(old)
		}
		l.seq++
		m.seq = l.seq
		m.selected = false
		l.markers = append(l.markers, m)
		l.byID[m.ID] = m
	}
}

// Remove deletes the marker with id.
func (l *Layer) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[id]
	if !ok {
		return false
	}
	l.removeLocked(m)
	return true
}

func (l *Layer) removeLocked(m *Marker) {
	delete(l.byID, m.ID)
	for i, cur := range l.markers {
		if cur == m {
			l.markers = append(l.markers[:i], l.markers[i+1:]...)
			break
		}
	}
	m.selected = false
}

// RemoveAll empties the layer.
func (l *Layer) RemoveAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range l.markers {
		m.selected = false
	}
	l.markers = nil
	l.byID = make(map[string]*Marker)
}

// Get returns the marker with id.
func (l *Layer) Get(id string) (*Marker, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.byID[id]
	return m, ok
}

// Len returns the number of markers.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.markers)
}

// Markers returns the markers in insertion order.
func (l *Layer) Markers() []*Marker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Marker, len(l.markers))
	copy(out, l.markers)
	return out
}

// DrawOrder returns the markers bottom-most first: ascending ZOrder, then
// insertion order.
func (l *Layer) DrawOrder() []*Marker {
	out := l.Markers()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ZOrder < out[j].ZOrder })
	return out
}

// MarkersNear returns the reactive markers whose screen position lies within
// radius pixels of p plus their own hit radius. Positions are recomputed from
// proj on every call. The result is ordered topmost first: descending ZOrder,
// then most recently added.
func (l *Layer) MarkersNear(proj Projector, p image.Point, radius float64) []*Marker {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.hidden {
		return nil
	}

	var hits []*Marker
	for _, m := range l.markers {
		if !m.Reactive {
			continue
		}
		x, y := proj.CoordinateToScreen(m.Position)
		d := math.Hypot(x-float64(p.X), y-float64(p.Y))
		if d <= radius+m.HitRadius() {
			hits = append(hits, m)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].ZOrder != hits[j].ZOrder {
			return hits[i].ZOrder > hits[j].ZOrder
		}
		return hits[i].seq > hits[j].seq
	})
	return hits
}

// Select marks the marker with id as selected. In single mode any other
// selection is cleared; in none mode nothing happens.
func (l *Layer) Select(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[id]
	if !ok || l.mode == SelectionNone {
		return false
	}
	if l.mode == SelectionSingle {
		for _, other := range l.markers {
			other.selected = false
		}
	}
	m.selected = true
	return true
}

// Unselect clears the selection of the marker with id.
func (l *Layer) Unselect(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[id]
	if !ok || !m.selected {
		return false
	}
	m.selected = false
	return true
}

// Toggle flips the selection of the marker with id and reports whether it
// is now selected.
func (l *Layer) Toggle(id string) bool {
	if m, ok := l.Get(id); ok && m.Selected() {
		l.Unselect(id)
		return false
	}
	return l.Select(id)
}

// UnselectAll clears every selection.
func (l *Layer) UnselectAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.markers {
		m.selected = false
	}
}

// Selected returns the selected markers in insertion order.
func (l *Layer) Selected() []*Marker {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Marker
	for _, m := range l.markers {
		if m.selected {
			out = append(out, m)
		}
	}
	return out
}
