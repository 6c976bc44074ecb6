package cache

import (
	"container/list"
	"expvar"
	"sync"
)

// cacheEntry holds the key and value for a cache item.
type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRUCache is a fixed-capacity, mutex-protected least-recently-used cache.
// A capacity of zero or less disables it: Put is dropped and Get always misses
// without touching the metrics.
type LRUCache[K comparable, V any] struct {
	mu         sync.Mutex
	capacity   int
	lruList    *list.List
	cacheItems map[K]*list.Element
	onEvicted  func(key K, value V) // Optional callback on eviction

	hits   *expvar.Int
	misses *expvar.Int
}

// NewLRUCache creates a new LRUCache holding at most capacity items.
func NewLRUCache[K comparable, V any](capacity int, onEvicted func(key K, value V)) *LRUCache[K, V] {
	return &LRUCache[K, V]{
		capacity:   capacity,
		lruList:    list.New(),
		cacheItems: make(map[K]*list.Element),
		onEvicted:  onEvicted,
	}
}

// SetMetrics attaches hit and miss counters. Either may be nil.
func (c *LRUCache[K, V]) SetMetrics(hits, misses *expvar.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = hits
	c.misses = misses
}

// Get retrieves a value from the cache.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return value, false
	}

	if elem, ok := c.cacheItems[key]; ok {
		if c.hits != nil {
			c.hits.Add(1)
		}
		c.lruList.MoveToFront(elem)
		return elem.Value.(*cacheEntry[K, V]).value, true
	}

	if c.misses != nil {
		c.misses.Add(1)
	}
	return value, false
}

// Put adds a value to the cache, evicting the least recently used item when full.
func (c *LRUCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity <= 0 {
		return
	}

	if elem, ok := c.cacheItems[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*cacheEntry[K, V]).value = value
		return
	}

	if c.lruList.Len() >= c.capacity {
		c.evict()
	}

	element := c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value})
	c.cacheItems[key] = element
}

// Len returns the current number of items in the cache.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// evict removes the least recently used item from the cache.
// Must be called with c.mu locked.
func (c *LRUCache[K, V]) evict() {
	if elem := c.lruList.Back(); elem != nil {
		removedEntry := c.lruList.Remove(elem).(*cacheEntry[K, V])
		delete(c.cacheItems, removedEntry.key)
		if c.onEvicted != nil {
			c.onEvicted(removedEntry.key, removedEntry.value)
		}
	}
}

// Clear removes all entries and resets the metrics.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvicted != nil {
		for key, elem := range c.cacheItems {
			c.onEvicted(key, elem.Value.(*cacheEntry[K, V]).value)
		}
	}
	c.lruList = list.New()
	c.cacheItems = make(map[K]*list.Element)
	if c.hits != nil {
		c.hits.Set(0)
	}
	if c.misses != nil {
		c.misses.Set(0)
	}
}

// GetHitRate calculates the cache hit rate.
func (c *LRUCache[K, V]) GetHitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hits, misses float64
	if c.hits != nil {
		hits = float64(c.hits.Value())
	}
	if c.misses != nil {
		misses = float64(c.misses.Value())
	}

	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}
