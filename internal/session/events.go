package session

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/source"
)

// EventKind identifies an input or internal event.
type EventKind int

const (
	PointerDown EventKind = iota
	PointerMove
	PointerUp
	Scroll
	Resize
	// TileLoaded is posted by the loader when a requested tile completes.
	TileLoaded
	// ViewChange carries SetCenter and SetZoom calls.
	ViewChange
)

func (k EventKind) String() string {
	switch k {
	case PointerDown:
		return "pointer-down"
	case PointerMove:
		return "pointer-move"
	case PointerUp:
		return "pointer-up"
	case Scroll:
		return "scroll"
	case Resize:
		return "resize"
	case TileLoaded:
		return "tile-loaded"
	case ViewChange:
		return "view-change"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a queued input for the interaction loop.
type Event struct {
	Kind  EventKind
	Point image.Point
	// Delta is the scroll amount in zoom levels (positive zooms in).
	Delta  float64
	Width  int
	Height int
	Result source.Result

	center *geo.Coordinate
	zoom   *float64
	// request identifies the tracked request a TileLoaded event answers.
	request uint64
}
