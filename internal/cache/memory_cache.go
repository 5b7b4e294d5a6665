package cache

import (
	"container/list"
	"sync"

	"github.com/MeKo-Tech/slippymap/internal/tile"
)

const (
	// DefaultMaxItems matches the tile count limit of a typical map widget.
	DefaultMaxItems = 100
	// DefaultMaxBytes bounds decoded pixel memory.
	DefaultMaxBytes int64 = 64 << 20
)

// Config bounds a MemoryCache. Zero values select the defaults.
type Config struct {
	MaxItems int
	MaxBytes int64
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Items     int   `json:"items"`
	Bytes     int64 `json:"bytes"`
	Pinned    int   `json:"pinned"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type entry struct {
	key  uint64
	tile *Tile
	refs int
}

// MemoryCache is a bounded LRU of decoded tiles. Entries with a positive
// reference count are never evicted. All operations are serialized under a
// single mutex; eviction runs synchronously inside Put and Release.
type MemoryCache struct {
	mu       sync.Mutex
	maxItems int
	maxBytes int64
	bytes    int64
	items    map[uint64]*list.Element
	lruList  *list.List

	hits      int64
	misses    int64
	evictions int64
}

// NewMemoryCache creates a new in-memory LRU cache.
func NewMemoryCache(cfg Config) *MemoryCache {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	return &MemoryCache{
		maxItems: cfg.MaxItems,
		maxBytes: cfg.MaxBytes,
		items:    make(map[uint64]*list.Element),
		lruList:  list.New(),
	}
}

// Get returns the cached tile without taking a reference.
func (c *MemoryCache) Get(addr tile.Address) (*Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[addr.Key()]
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry).tile, true
}

// Has reports whether addr is cached without touching recency.
func (c *MemoryCache) Has(addr tile.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[addr.Key()]
	return ok
}

// Put inserts or replaces the tile for addr and evicts unpinned entries
// until the cache is within budget. Replacing a pinned entry keeps its
// reference count so outstanding releases stay balanced.
func (c *MemoryCache) Put(addr tile.Address, t *Tile) {
	if t == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := addr.Key()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		c.bytes += t.Size() - ent.tile.Size()
		ent.tile = t
		c.lruList.MoveToFront(elem)
	} else {
		elem := c.lruList.PushFront(&entry{key: key, tile: t})
		c.items[key] = elem
		c.bytes += t.Size()
	}

	c.evictLocked()
}

// Acquire returns the cached tile and pins it until Release is called.
func (c *MemoryCache) Acquire(addr tile.Address) (*Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[addr.Key()]
	if !ok {
		c.misses++
		return nil, false
	}

	c.hits++
	ent := elem.Value.(*entry)
	ent.refs++
	c.lruList.MoveToFront(elem)
	return ent.tile, true
}

// Release drops one reference taken by Acquire. Releasing an address that is
// not pinned is a no-op.
func (c *MemoryCache) Release(addr tile.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[addr.Key()]
	if !ok {
		return
	}

	ent := elem.Value.(*entry)
	if ent.refs == 0 {
		return
	}
	ent.refs--

	if ent.refs == 0 {
		c.evictLocked()
	}
}

// Refs returns the current reference count for addr.
func (c *MemoryCache) Refs(addr tile.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[addr.Key()]; ok {
		return elem.Value.(*entry).refs
	}
	return 0
}

// Remove deletes addr unless it is pinned. It reports whether the entry was
// removed.
func (c *MemoryCache) Remove(addr tile.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[addr.Key()]
	if !ok || elem.Value.(*entry).refs > 0 {
		return false
	}
	c.removeLocked(elem)
	return true
}

// Clear drops every unpinned entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.lruList.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry).refs == 0 {
			c.removeLocked(elem)
		}
		elem = prev
	}
}

// Len returns the number of cached tiles.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Bytes returns the total pixel bytes held.
func (c *MemoryCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns current counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	pinned := 0
	for _, elem := range c.items {
		if elem.Value.(*entry).refs > 0 {
			pinned++
		}
	}

	return Stats{
		Items:     c.lruList.Len(),
		Bytes:     c.bytes,
		Pinned:    pinned,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictLocked removes least recently used unpinned entries until both
// budgets hold or only pinned entries remain. Must be called with lock held.
func (c *MemoryCache) evictLocked() {
	elem := c.lruList.Back()
	for elem != nil && c.overBudgetLocked() {
		prev := elem.Prev()
		if elem.Value.(*entry).refs == 0 {
			c.removeLocked(elem)
			c.evictions++
		}
		elem = prev
	}
}

func (c *MemoryCache) overBudgetLocked() bool {
	return c.lruList.Len() > c.maxItems || c.bytes > c.maxBytes
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	delete(c.items, ent.key)
	c.lruList.Remove(elem)
	c.bytes -= ent.tile.Size()
}
