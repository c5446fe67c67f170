package server

import (
	"container/list"
	"sync"

	"tilepyramid/internal/metrics"
)

// DefaultCacheSize is the number of tiles kept in memory.
const DefaultCacheSize = 1024

// CacheKey addresses a container row: tile_row is in the TMS scheme.
type CacheKey struct {
	Z   int
	X   int
	Row int
}

// CacheValue is a cached lookup. Found is false for a tile known to be
// absent from the container.
type CacheValue struct {
	Data  []byte
	Found bool
}

type entry struct {
	key   CacheKey
	value CacheValue
}

// Cache is a fixed-capacity LRU map of container lookups, safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	items   map[CacheKey]*list.Element
	lruList *list.List
	evicted int
	metrics *metrics.Collector
}

// NewCache creates a cache holding at most maxSize entries.
func NewCache(maxSize int, m *metrics.Collector) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		maxSize: maxSize,
		items:   make(map[CacheKey]*list.Element),
		lruList: list.New(),
		metrics: m,
	}
}

// Get returns the cached value and marks it most recently used.
func (c *Cache) Get(key CacheKey) (CacheValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.metrics.CacheLookup("miss")
		return CacheValue{}, false
	}
	c.lruList.MoveToFront(elem)
	c.metrics.CacheLookup("hit")
	return elem.Value.(*entry).value, true
}

// Add stores value, evicting the least recently used entry when full.
func (c *Cache) Add(key CacheKey, value CacheValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*entry).key)
			c.lruList.Remove(oldest)
			c.evicted++
			c.metrics.CacheEviction()
		}
	}

	c.items[key] = c.lruList.PushFront(&entry{key: key, value: value})
	c.metrics.CacheEntries(c.lruList.Len())
}

// Len is the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Evicted is the number of entries evicted so far.
func (c *Cache) Evicted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}
