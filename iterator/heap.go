package iterator

import (
	"bytes"

	"github.com/INLOpen/nexustable/core"
)

// mergingIteratorItem is an item in the min-heap for MergingIterator.
type mergingIteratorItem struct {
	iter  core.Iterator
	index int // position of iter in the constructor's slice
	key   []byte
	value []byte
}

// load copies the current entry of the underlying iterator, since its
// buffers are reused on the next call to Next.
func (item *mergingIteratorItem) load() {
	k, v := item.iter.At()
	item.key = append(item.key[:0], k...)
	item.value = append(item.value[:0], v...)
}

// mergingIteratorHeap implements heap.Interface ordered by key, then by
// source index so that equal keys pop in source order.
type mergingIteratorHeap struct {
	items []*mergingIteratorItem
}

func (h *mergingIteratorHeap) Len() int { return len(h.items) }

func (h *mergingIteratorHeap) Less(i, j int) bool {
	itemI, itemJ := h.items[i], h.items[j]
	if c := bytes.Compare(itemI.key, itemJ.key); c != 0 {
		return c < 0
	}
	return itemI.index < itemJ.index
}

func (h *mergingIteratorHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergingIteratorHeap) Push(x interface{}) {
	h.items = append(h.items, x.(*mergingIteratorItem))
}

func (h *mergingIteratorHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	h.items = old[0 : n-1]
	return item
}

// top returns the smallest item without removing it.
func (h *mergingIteratorHeap) top() *mergingIteratorItem {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}
