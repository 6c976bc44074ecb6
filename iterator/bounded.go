package iterator

import (
	"bytes"

	"github.com/INLOpen/nexustable/core"
)

// BoundedIterator wraps a sorted iterator and restricts it to keys in
// [lo, hi] that start with prefix. Nil bounds are open. Entries below lo are
// skipped; the first entry past hi, or outside prefix once inside it, ends
// the iteration without draining the underlying iterator.
type BoundedIterator struct {
	underlying core.Iterator
	lo         []byte
	hi         []byte
	prefix     []byte
	done       bool
}

// NewBoundedIterator wraps iter. The bounds are copied.
func NewBoundedIterator(iter core.Iterator, lo, hi, prefix []byte) *BoundedIterator {
	b := &BoundedIterator{underlying: iter}
	if lo != nil {
		b.lo = append([]byte{}, lo...)
	}
	if hi != nil {
		b.hi = append([]byte{}, hi...)
	}
	if prefix != nil {
		b.prefix = append([]byte{}, prefix...)
		if b.lo == nil || bytes.Compare(b.lo, b.prefix) < 0 {
			b.lo = b.prefix
		}
	}
	return b
}

// NewPrefixIterator restricts iter to keys starting with prefix.
func NewPrefixIterator(iter core.Iterator, prefix []byte) *BoundedIterator {
	return NewBoundedIterator(iter, nil, nil, prefix)
}

// NewRangeIterator restricts iter to lo <= key <= hi.
func NewRangeIterator(iter core.Iterator, lo, hi []byte) *BoundedIterator {
	return NewBoundedIterator(iter, lo, hi, nil)
}

func (it *BoundedIterator) Next() bool {
	if it.done {
		return false
	}
	for it.underlying.Next() {
		key, _ := it.underlying.At()
		if it.lo != nil && bytes.Compare(key, it.lo) < 0 {
			continue
		}
		if it.hi != nil && bytes.Compare(key, it.hi) > 0 {
			break
		}
		if it.prefix != nil && !bytes.HasPrefix(key, it.prefix) {
			break
		}
		return true
	}
	it.done = true
	return false
}

func (it *BoundedIterator) At() ([]byte, []byte) {
	if it.done {
		return nil, nil
	}
	return it.underlying.At()
}

func (it *BoundedIterator) Error() error { return it.underlying.Error() }
func (it *BoundedIterator) Close() error { return it.underlying.Close() }
