package iterator

import (
	"bytes"
	"container/heap"

	"github.com/INLOpen/nexustable/core"
)

var _ core.Iterator = (*MergingIterator)(nil)
var _ core.Iterator = (*EmptyIterator)(nil)

// MergingIterator combines multiple sorted iterators into a single sorted
// view. Entries that share a key across iterators are folded into one with a
// core.MergeFunc, left to right in the order the iterators were given.
type MergingIterator struct {
	iters  []core.Iterator
	heap   *mergingIteratorHeap
	merge  core.MergeFunc
	primed bool

	currentKey   []byte
	currentValue []byte
	err          error
}

// NewMergingIterator creates a new MergingIterator over iters, which must
// each yield strictly increasing keys. A nil merge keeps the value from the
// last iterator holding the key. The underlying iterators are advanced
// lazily and closed by Close.
func NewMergingIterator(iters []core.Iterator, merge core.MergeFunc) *MergingIterator {
	if merge == nil {
		merge = keepLast
	}
	return &MergingIterator{
		iters: iters,
		merge: merge,
		heap: &mergingIteratorHeap{
			items: make([]*mergingIteratorItem, 0, len(iters)),
		},
	}
}

func keepLast(_, _, b []byte) []byte { return b }

func (mi *MergingIterator) prime() bool {
	mi.primed = true
	for i, iter := range mi.iters {
		item := &mergingIteratorItem{iter: iter, index: i}
		if iter.Next() {
			item.load()
			mi.heap.items = append(mi.heap.items, item)
		} else if err := iter.Error(); err != nil {
			mi.err = err
			return false
		}
	}
	heap.Init(mi.heap)
	return true
}

// advance moves item's iterator forward and pushes it back onto the heap
// unless it is exhausted.
func (mi *MergingIterator) advance(item *mergingIteratorItem) bool {
	if item.iter.Next() {
		item.load()
		heap.Push(mi.heap, item)
		return true
	}
	if err := item.iter.Error(); err != nil {
		mi.err = err
		mi.currentKey, mi.currentValue = nil, nil
		return false
	}
	return true
}

func (mi *MergingIterator) Next() bool {
	if mi.err != nil || mi.heap == nil {
		return false
	}
	if !mi.primed && !mi.prime() {
		return false
	}
	if mi.heap.Len() == 0 {
		mi.currentKey, mi.currentValue = nil, nil
		return false
	}

	item := heap.Pop(mi.heap).(*mergingIteratorItem)
	mi.currentKey = append(mi.currentKey[:0], item.key...)
	mi.currentValue = append(mi.currentValue[:0], item.value...)
	if !mi.advance(item) {
		return false
	}

	// Ties pop in ascending source index because of the heap's Less.
	for top := mi.heap.top(); top != nil && bytes.Equal(top.key, mi.currentKey); top = mi.heap.top() {
		heap.Pop(mi.heap)
		// The merge result may alias top.value, which advance overwrites.
		mi.currentValue = append([]byte(nil), mi.merge(mi.currentKey, mi.currentValue, top.value)...)
		if !mi.advance(top) {
			return false
		}
	}
	return true
}

// At returns the current key and value.
func (mi *MergingIterator) At() ([]byte, []byte) {
	return mi.currentKey, mi.currentValue
}

func (mi *MergingIterator) Error() error { return mi.err }

func (mi *MergingIterator) Close() error {
	var firstErr error
	for _, iter := range mi.iters {
		if err := iter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	mi.iters = nil
	mi.heap = nil
	mi.currentKey, mi.currentValue = nil, nil
	return firstErr
}

// EmptyIterator is an iterator that is always exhausted.
type EmptyIterator struct{}

// NewEmptyIterator creates a new empty iterator.
func NewEmptyIterator() core.Iterator {
	return &EmptyIterator{}
}

// Next always returns false.
func (it *EmptyIterator) Next() bool {
	return false
}

// At returns nil values.
func (it *EmptyIterator) At() ([]byte, []byte) {
	return nil, nil
}

// Error always returns nil.
func (it *EmptyIterator) Error() error {
	return nil
}

// Close does nothing and returns nil.
func (it *EmptyIterator) Close() error {
	return nil
}
