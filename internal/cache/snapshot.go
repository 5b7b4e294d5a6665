package cache

import (
	"sync"

	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// Snapshot collects tiles acquired for one render pass so they can be
// released together. A Snapshot is not safe for concurrent use.
type Snapshot struct {
	cache    *MemoryCache
	acquired []tile.Address
	once     sync.Once
}

// Snapshot starts a new scoped acquisition. Callers must defer Release.
func (c *MemoryCache) Snapshot() *Snapshot {
	return &Snapshot{cache: c}
}

// Acquire pins addr for the lifetime of the snapshot.
func (s *Snapshot) Acquire(addr tile.Address) (*Tile, bool) {
	t, ok := s.cache.Acquire(addr)
	if ok {
		s.acquired = append(s.acquired, addr)
	}
	return t, ok
}

// Len returns the number of references held.
func (s *Snapshot) Len() int {
	return len(s.acquired)
}

// Release drops every reference taken through the snapshot. It is safe to
// call more than once.
func (s *Snapshot) Release() {
	s.once.Do(func() {
		for _, addr := range s.acquired {
			s.cache.Release(addr)
		}
		s.acquired = nil
	})
}

// With acquires the cached subset of addrs, runs fn, and releases on every
// exit path including panics. Addresses missing from the cache are absent
// from the map handed to fn.
func (c *MemoryCache) With(addrs []tile.Address, fn func(map[tile.Address]*Tile) error) error {
	snap := c.Snapshot()
	defer snap.Release()

	tiles := make(map[tile.Address]*Tile, len(addrs))
	for _, addr := range addrs {
		norm := addr.Normalize()
		if _, seen := tiles[norm]; seen {
			continue
		}
		if t, ok := snap.Acquire(norm); ok {
			tiles[norm] = t
		}
	}

	return fn(tiles)
}
