package memtable

import (
	"sync"
	"sync/atomic"
)

// maxPoolSize limits the number of idle entries kept for reuse.
const maxPoolSize = 32768

// entryPool manages a pool of MemtableEntry objects to reduce allocations
// when a memtable is reset and refilled, as the sorter does after every
// spill. It is safe for concurrent use.
type entryPool struct {
	mu    sync.Mutex
	items []*MemtableEntry
	// Metrics for monitoring pool effectiveness
	hits   atomic.Uint64
	misses atomic.Uint64
}

// newEntryPool creates a new entry pool with the specified initial capacity.
func newEntryPool(capacity int) *entryPool {
	return &entryPool{
		items: make([]*MemtableEntry, 0, capacity),
	}
}

// Get retrieves a MemtableEntry from the pool or allocates a new one if the pool is empty.
func (p *entryPool) Get() *MemtableEntry {
	p.mu.Lock()
	if len(p.items) == 0 {
		p.mu.Unlock()
		p.misses.Add(1)
		return &MemtableEntry{}
	}
	item := p.items[len(p.items)-1]
	p.items = p.items[:len(p.items)-1]
	p.mu.Unlock()

	p.hits.Add(1)
	return item
}

// Put returns a MemtableEntry to the pool for reuse.
// If the pool has reached maxPoolSize, the object is discarded to prevent unbounded growth.
func (p *entryPool) Put(e *MemtableEntry) {
	if e == nil {
		return
	}
	// Reset fields to avoid holding onto old data
	e.Key = nil
	e.Value = nil

	p.mu.Lock()
	if len(p.items) < maxPoolSize {
		p.items = append(p.items, e)
	}
	p.mu.Unlock()
}

// GetMetrics returns pool usage statistics.
func (p *entryPool) GetMetrics() (hits, misses uint64, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits.Load(), p.misses.Load(), len(p.items)
}

// EntryPool is shared by every memtable.
var EntryPool = newEntryPool(1024)
