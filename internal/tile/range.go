package tile

import (
	"github.com/MeKo-Tech/slippymap/internal/geo"
)

// Range is a rectangular block of tiles at one zoom level. Bounds are
// inclusive and may extend past the grid; ForEach normalizes each address.
type Range struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

// ForEach calls fn for each tile in the range, row by row.
func (r Range) ForEach(fn func(Address)) {
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			a, err := New(r.Z, x, y)
			if err != nil {
				return
			}
			fn(a)
		}
	}
}

// Count returns the number of cells in the range.
func (r Range) Count() int {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return 0
	}
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// RangeInBounds returns the tiles covering bounds at zoom z.
func RangeInBounds(b geo.Bounds, z int) (Range, error) {
	nw, err := At(geo.Coordinate{Lat: b.Max.Lat, Lon: b.Min.Lon}, z)
	if err != nil {
		return Range{}, err
	}
	se, err := At(geo.Coordinate{Lat: b.Min.Lat, Lon: b.Max.Lon}, z)
	if err != nil {
		return Range{}, err
	}

	r := Range{Z: z, MinX: int(nw.X), MaxX: int(se.X), MinY: int(nw.Y), MaxY: int(se.Y)}
	if r.MinX > r.MaxX {
		r.MinX, r.MaxX = r.MaxX, r.MinX
	}
	if r.MinY > r.MaxY {
		r.MinY, r.MaxY = r.MaxY, r.MinY
	}
	return r, nil
}

// AddressesInBounds returns all tiles within a bounding box across a zoom
// range, computed independently at each level.
func AddressesInBounds(b geo.Bounds, zoomMin, zoomMax int) ([]Address, error) {
	count, err := CountInBounds(b, zoomMin, zoomMax)
	if err != nil {
		return nil, err
	}

	addrs := make([]Address, 0, count)
	for z := zoomMin; z <= zoomMax; z++ {
		r, err := RangeInBounds(b, z)
		if err != nil {
			return nil, err
		}
		r.ForEach(func(a Address) {
			addrs = append(addrs, a)
		})
	}
	return addrs, nil
}

// CountInBounds returns the number of tiles AddressesInBounds would produce,
// for progress estimation without allocating the list.
func CountInBounds(b geo.Bounds, zoomMin, zoomMax int) (int, error) {
	count := 0
	for z := zoomMin; z <= zoomMax; z++ {
		r, err := RangeInBounds(b, z)
		if err != nil {
			return 0, err
		}
		count += r.Count()
	}
	return count, nil
}
