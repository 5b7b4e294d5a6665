// Package tile identifies raster tiles in the web mercator tile pyramid.
package tile

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level an Address may carry.
const MaxZoom = 24

// ErrOutOfRange is returned for zoom levels or relations outside the pyramid.
var ErrOutOfRange = errors.New("tile: out of range")

// Address identifies a tile by zoom level, column and row (XYZ scheme, row 0
// at the north edge). Build addresses with New, Exact or ParseAddress; those
// are always normalized. Normalize clamps literals with Z above MaxZoom.
type Address struct {
	Z uint32 // Zoom level (0-24)
	X uint32 // Column
	Y uint32 // Row
}

// New returns the normalized address for z/x/y. The column wraps modulo 2^z
// and the row is clamped to the grid.
func New(z, x, y int) (Address, error) {
	if z < 0 || z > MaxZoom {
		return Address{}, fmt.Errorf("%w: zoom %d not in [0,%d]", ErrOutOfRange, z, MaxZoom)
	}

	n := 1 << z
	x %= n
	if x < 0 {
		x += n
	}
	if y < 0 {
		y = 0
	}
	if y >= n {
		y = n - 1
	}

	return Address{Z: uint32(z), X: uint32(x), Y: uint32(y)}, nil
}

// Exact returns z/x/y only when it lies inside the grid, without wrapping or
// clamping.
func Exact(z, x, y int) (Address, error) {
	if z < 0 || z > MaxZoom {
		return Address{}, fmt.Errorf("%w: zoom %d not in [0,%d]", ErrOutOfRange, z, MaxZoom)
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return Address{}, fmt.Errorf("%w: %d/%d/%d is outside the %dx%d grid", ErrOutOfRange, z, x, y, n, n)
	}
	return Address{Z: uint32(z), X: uint32(x), Y: uint32(y)}, nil
}

// MustNew is New for addresses known to be valid.
func MustNew(z, x, y int) Address {
	a, err := New(z, x, y)
	if err != nil {
		panic(err)
	}
	return a
}

// At returns the tile containing c at zoom z.
func At(c geo.Coordinate, z int) (Address, error) {
	if z < 0 || z > MaxZoom {
		return Address{}, fmt.Errorf("%w: zoom %d not in [0,%d]", ErrOutOfRange, z, MaxZoom)
	}

	x, y := geo.ToPixel(c, float64(z), geo.DefaultTileSize)
	n := 1 << z
	col := int(math.Floor(x / geo.DefaultTileSize))
	row := int(math.Floor(y / geo.DefaultTileSize))
	if col >= n {
		col = n - 1
	}

	return New(z, col, row)
}

// GridSize returns the number of tiles per side at this zoom level.
func (a Address) GridSize() uint32 {
	return 1 << a.Z
}

// Normalize wraps the column modulo 2^z and clamps the row.
func (a Address) Normalize() Address {
	if a.Z > MaxZoom {
		a.Z = MaxZoom
	}
	n := a.GridSize()
	a.X %= n
	if a.Y >= n {
		a.Y = n - 1
	}
	return a
}

// Key packs the normalized address into a single comparable value.
func (a Address) Key() uint64 {
	a = a.Normalize()
	return uint64(a.Z)<<58 | uint64(a.X)<<29 | uint64(a.Y)
}

// Equal compares addresses after normalization.
func (a Address) Equal(b Address) bool {
	return a.Key() == b.Key()
}

// Parent returns the tile one level up that contains a.
func (a Address) Parent() (Address, error) {
	if a.Z == 0 {
		return Address{}, fmt.Errorf("%w: zoom 0 has no parent", ErrOutOfRange)
	}
	a = a.Normalize()
	return Address{Z: a.Z - 1, X: a.X >> 1, Y: a.Y >> 1}, nil
}

// AncestorAt returns the tile at zoom z that contains a.
func (a Address) AncestorAt(z uint32) (Address, error) {
	if z > a.Z {
		return Address{}, fmt.Errorf("%w: zoom %d is below %s", ErrOutOfRange, z, a)
	}
	a = a.Normalize()
	shift := a.Z - z
	return Address{Z: z, X: a.X >> shift, Y: a.Y >> shift}, nil
}

// Children returns the four tiles at the next zoom level covering a, in
// NW, NE, SW, SE order.
func (a Address) Children() ([4]Address, error) {
	if a.Z >= MaxZoom {
		return [4]Address{}, fmt.Errorf("%w: zoom %d has no children", ErrOutOfRange, a.Z)
	}
	a = a.Normalize()
	z, x, y := a.Z+1, a.X*2, a.Y*2
	return [4]Address{
		{Z: z, X: x, Y: y},
		{Z: z, X: x + 1, Y: y},
		{Z: z, X: x, Y: y + 1},
		{Z: z, X: x + 1, Y: y + 1},
	}, nil
}

// Contains reports whether b is a or lies below a in the pyramid.
func (a Address) Contains(b Address) bool {
	if b.Z < a.Z {
		return false
	}
	anc, err := b.AncestorAt(a.Z)
	if err != nil {
		return false
	}
	return anc.Equal(a)
}

// TMSRow returns the row in the TMS scheme (row 0 at the south edge).
func (a Address) TMSRow() uint32 {
	return a.GridSize() - 1 - a.Normalize().Y
}

// Tile returns the orb maptile for this address.
func (a Address) Tile() maptile.Tile {
	a = a.Normalize()
	return maptile.New(a.X, a.Y, maptile.Zoom(a.Z))
}

// Bounds returns the geographic extent of the tile.
func (a Address) Bounds() geo.Bounds {
	return geo.FromBound(a.Tile().Bound())
}

// Center returns the geographic center of the tile.
func (a Address) Center() geo.Coordinate {
	return a.Bounds().Center()
}

// String returns the address as "z/x/y".
func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

// ParseAddress parses "z/x/y" into a normalized address.
func ParseAddress(s string) (Address, error) {
	z, x, y, err := splitAddress(s)
	if err != nil {
		return Address{}, err
	}
	return New(z, x, y)
}

// ParseExact parses "z/x/y" and rejects columns and rows outside the grid.
func ParseExact(s string) (Address, error) {
	z, x, y, err := splitAddress(s)
	if err != nil {
		return Address{}, err
	}
	return Exact(z, x, y)
}

func splitAddress(s string) (z, x, y int, err error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid tile address format: %s", s)
	}
	var v [3]int
	for i, p := range parts {
		if v[i], err = strconv.Atoi(p); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid tile address format: %s", s)
		}
	}
	return v[0], v[1], v[2], nil
}
