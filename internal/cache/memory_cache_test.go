package cache

import (
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTile returns a tile whose pixel buffer is side*side*4 bytes.
func newTestTile(addr tile.Address, side int) *Tile {
	return NewTile(addr, image.NewNRGBA(image.Rect(0, 0, side, side)))
}

func addr(x int) tile.Address {
	return tile.MustNew(10, x, 0)
}

func TestMemoryCache_GetPut(t *testing.T) {
	c := NewMemoryCache(Config{MaxItems: 10})

	_, ok := c.Get(addr(1))
	assert.False(t, ok)

	tl := newTestTile(addr(1), 4)
	c.Put(addr(1), tl)

	got, ok := c.Get(addr(1))
	require.True(t, ok)
	assert.Same(t, tl, got)
	assert.Equal(t, int64(64), c.Bytes())

	// Wrapped column resolves to the same entry
	got, ok = c.Get(tile.Address{Z: 10, X: 1 + 1024, Y: 0})
	require.True(t, ok)
	assert.Same(t, tl, got)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMemoryCache_ItemBudgetEvictsLRU(t *testing.T) {
	c := NewMemoryCache(Config{MaxItems: 3})

	for i := 0; i < 3; i++ {
		c.Put(addr(i), newTestTile(addr(i), 1))
	}

	// Touch 0 so 1 becomes least recently used
	_, _ = c.Get(addr(0))
	c.Put(addr(3), newTestTile(addr(3), 1))

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Has(addr(0)))
	assert.False(t, c.Has(addr(1)))
	assert.True(t, c.Has(addr(2)))
	assert.True(t, c.Has(addr(3)))
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemoryCache_ByteBudget(t *testing.T) {
	// Each 8x8 tile is 256 bytes; budget fits three
	c := NewMemoryCache(Config{MaxItems: 100, MaxBytes: 800})

	for i := 0; i < 10; i++ {
		c.Put(addr(i), newTestTile(addr(i), 8))
		assert.LessOrEqual(t, c.Bytes(), int64(800), "after put %d", i)
	}
	assert.Equal(t, 3, c.Len())
}

func TestMemoryCache_PinnedNeverEvicted(t *testing.T) {
	c := NewMemoryCache(Config{MaxItems: 2})

	c.Put(addr(0), newTestTile(addr(0), 1))
	pinned, ok := c.Acquire(addr(0))
	require.True(t, ok)

	for i := 1; i < 6; i++ {
		c.Put(addr(i), newTestTile(addr(i), 1))
		assert.True(t, c.Has(addr(0)), "pinned tile evicted after put %d", i)

		// Budget holds for everything except the pinned entry
		assert.LessOrEqual(t, c.Len()-c.Stats().Pinned, 2)
	}

	got, ok := c.Get(addr(0))
	require.True(t, ok)
	assert.Same(t, pinned, got)

	c.Release(addr(0))
	assert.Zero(t, c.Refs(addr(0)))
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestMemoryCache_AllPinnedExceedsBudget(t *testing.T) {
	c := NewMemoryCache(Config{MaxItems: 4, MaxBytes: 100})

	c.Put(addr(0), newTestTile(addr(0), 4))
	_, ok := c.Acquire(addr(0))
	require.True(t, ok)

	// Growing a pinned entry past the budget is tolerated, never an error
	c.Put(addr(0), newTestTile(addr(0), 8))
	assert.True(t, c.Has(addr(0)))
	assert.Equal(t, int64(256), c.Bytes())

	// Once released the entry is evicted to restore the budget
	c.Release(addr(0))
	assert.False(t, c.Has(addr(0)))
	assert.Zero(t, c.Bytes())
}

func TestMemoryCache_ReplacePinnedKeepsRefs(t *testing.T) {
	c := NewMemoryCache(Config{MaxItems: 4})

	c.Put(addr(0), newTestTile(addr(0), 2))
	_, _ = c.Acquire(addr(0))

	replacement := newTestTile(addr(0), 4)
	c.Put(addr(0), replacement)
	assert.Equal(t, 1, c.Refs(addr(0)))
	assert.Equal(t, replacement.Size(), c.Bytes())

	c.Release(addr(0))
	c.Release(addr(0)) // extra release is a no-op
	assert.Zero(t, c.Refs(addr(0)))
}

func TestMemoryCache_RemoveAndClear(t *testing.T) {
	c := NewMemoryCache(Config{})

	c.Put(addr(0), newTestTile(addr(0), 1))
	c.Put(addr(1), newTestTile(addr(1), 1))
	_, _ = c.Acquire(addr(1))

	assert.True(t, c.Remove(addr(0)))
	assert.False(t, c.Remove(addr(1)), "pinned tile must not be removed")
	assert.False(t, c.Remove(addr(7)))

	c.Put(addr(2), newTestTile(addr(2), 1))
	c.Clear()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Has(addr(1)))
}

func TestMemoryCache_WithReleasesOnError(t *testing.T) {
	c := NewMemoryCache(Config{})
	c.Put(addr(0), newTestTile(addr(0), 1))
	c.Put(addr(1), newTestTile(addr(1), 1))

	boom := errors.New("boom")
	err := c.With([]tile.Address{addr(0), addr(1), addr(2), addr(0)}, func(tiles map[tile.Address]*Tile) error {
		assert.Len(t, tiles, 2)
		assert.Equal(t, 1, c.Refs(addr(0)))
		assert.Equal(t, 1, c.Refs(addr(1)))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Refs(addr(0)))
	assert.Zero(t, c.Refs(addr(1)))
}

func TestMemoryCache_WithReleasesOnPanic(t *testing.T) {
	c := NewMemoryCache(Config{})
	c.Put(addr(0), newTestTile(addr(0), 1))

	assert.Panics(t, func() {
		_ = c.With([]tile.Address{addr(0)}, func(map[tile.Address]*Tile) error {
			panic("render failed")
		})
	})
	assert.Zero(t, c.Refs(addr(0)))
}

func TestSnapshot_ReleaseIdempotent(t *testing.T) {
	c := NewMemoryCache(Config{})
	c.Put(addr(0), newTestTile(addr(0), 1))

	snap := c.Snapshot()
	_, ok := snap.Acquire(addr(0))
	require.True(t, ok)
	_, ok = snap.Acquire(addr(0))
	require.True(t, ok)
	_, ok = snap.Acquire(addr(5))
	require.False(t, ok)

	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, 2, c.Refs(addr(0)))

	snap.Release()
	snap.Release()
	assert.Zero(t, c.Refs(addr(0)))
}

func TestMemoryCache_ConcurrentPutsRespectBudget(t *testing.T) {
	c := NewMemoryCache(Config{MaxItems: 16})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				a := addr(w*100 + i)
				c.Put(a, newTestTile(a, 1))
				if tl, ok := c.Acquire(a); ok {
					assert.Equal(t, a, tl.Addr)
					c.Release(a)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
	assert.Zero(t, c.Stats().Pinned)
}
