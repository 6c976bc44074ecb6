package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// bufferPool is a mutex-protected free list of buffers. Unlike sync.Pool, its
// contents are not cleared by the garbage collector, which suits the block
// buffers a writer or sorter reuses for its whole lifetime.
type bufferPool struct {
	mu       sync.Mutex
	items    []*bytes.Buffer
	newFunc  func() *bytes.Buffer
	maxItems int

	// Metrics
	hits        atomic.Uint64 // Number of times a buffer was successfully retrieved from the pool.
	misses      atomic.Uint64 // Number of times a buffer was requested but the pool was empty.
	created     atomic.Uint64 // Total number of new buffers created.
	currentSize atomic.Int64  // Current number of items in the pool.
}

// DefaultBlockBufferSize is the initial capacity of pooled block buffers.
const DefaultBlockBufferSize = 16 * 1024

// maxPooledBufferCap keeps one oversized block from pinning memory forever.
const maxPooledBufferCap = 4 * 1024 * 1024

var BufferPool = NewBufferPool(DefaultBlockBufferSize)

// NewBufferPool creates a new buffer pool.
// initialCapacity is the pre-allocated capacity for each new buffer.
func NewBufferPool(initialCapacity ...int) *bufferPool {
	capacity := 0
	if len(initialCapacity) > 0 && initialCapacity[0] > 0 {
		capacity = initialCapacity[0]
	}
	const initialPoolSize = 64
	bp := &bufferPool{
		items:    make([]*bytes.Buffer, 0, initialPoolSize),
		maxItems: 1024,
	}
	bp.newFunc = func() *bytes.Buffer {
		bp.created.Add(1)
		return bytes.NewBuffer(make([]byte, 0, capacity))
	}
	return bp
}

// Get retrieves a buffer from the pool. If the pool is empty, it creates a new one.
func (bp *bufferPool) Get() *bytes.Buffer {
	bp.mu.Lock()
	if len(bp.items) == 0 {
		bp.mu.Unlock()
		bp.misses.Add(1)
		return bp.newFunc()
	}
	bp.hits.Add(1)
	bp.currentSize.Add(-1)
	item := bp.items[len(bp.items)-1]
	bp.items = bp.items[:len(bp.items)-1]
	bp.mu.Unlock()
	return item
}

// GetMetrics returns the current metrics for the pool.
func (bp *bufferPool) GetMetrics() (hits, misses, created uint64, currentSize int64) {
	return bp.hits.Load(), bp.misses.Load(), bp.created.Load(), bp.currentSize.Load()
}

// Put returns a buffer to the pool. Oversized buffers and buffers beyond the
// pool's capacity are dropped.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBufferCap {
		return
	}
	buf.Reset()
	bp.mu.Lock()
	if len(bp.items) < bp.maxItems {
		bp.items = append(bp.items, buf)
		bp.currentSize.Add(1)
	}
	bp.mu.Unlock()
}
