package sstable

import (
	"bytes"

	"github.com/INLOpen/nexustable/core"
)

// tableIterator walks the data blocks of a Reader in order, restricted to
// keys in [lo, hi] that start with prefix. Nil bounds are open.
//
// The iterator takes its reference on the Reader at the first call to Next
// and drops it when it is exhausted, fails or is closed.
type tableIterator struct {
	r      *Reader
	lo     []byte
	hi     []byte
	prefix []byte

	started  bool
	done     bool
	acquired bool

	blockIdx    int
	blockOffset uint64
	bi          *blockIterator
	pending     bool // bi is positioned on an entry that has not been returned yet

	key   []byte
	value []byte
	err   error
}

var _ core.Iterator = (*tableIterator)(nil)

func newTableIterator(r *Reader, lo, hi, prefix []byte) *tableIterator {
	it := &tableIterator{r: r, prefix: prefix}
	// Bounds are copied so the caller may reuse its buffers.
	if lo != nil {
		it.lo = append([]byte{}, lo...)
	}
	if hi != nil {
		it.hi = append([]byte{}, hi...)
	}
	if prefix != nil {
		it.prefix = append([]byte{}, prefix...)
	}
	return it
}

// Next advances to the next entry in range.
func (it *tableIterator) Next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		if !it.start() {
			return false
		}
	}

	for {
		if it.pending {
			it.pending = false
		} else if !it.bi.next() {
			if err := it.bi.Error(); err != nil {
				return it.fail(&core.FormatError{Path: it.r.path, Offset: int64(it.blockOffset), Err: err})
			}
			it.blockIdx++
			if it.blockIdx >= it.r.index.Len() {
				return it.finish()
			}
			if !it.loadBlock() {
				return false
			}
			continue
		}

		k := it.bi.key
		if it.hi != nil && bytes.Compare(k, it.hi) > 0 {
			return it.finish()
		}
		if it.prefix != nil && !bytes.HasPrefix(k, it.prefix) {
			return it.finish()
		}
		it.key, it.value = k, it.bi.value
		return true
	}
}

// start acquires the reader and positions the iterator at the lower bound.
func (it *tableIterator) start() bool {
	if !it.r.acquire() {
		it.err = core.ErrClosed
		it.done = true
		return false
	}
	it.acquired = true

	if it.lo != nil && it.hi != nil && bytes.Compare(it.lo, it.hi) > 0 {
		return it.finish()
	}
	if it.lo != nil {
		it.blockIdx = it.r.index.Find(it.lo)
	}
	if it.blockIdx >= it.r.index.Len() {
		return it.finish()
	}
	if !it.loadBlock() {
		return false
	}
	if it.lo != nil {
		if it.bi.seek(it.lo) {
			it.pending = true
		} else if err := it.bi.Error(); err != nil {
			return it.fail(&core.FormatError{Path: it.r.path, Offset: int64(it.blockOffset), Err: err})
		}
		// A failed seek leaves bi exhausted, so Next moves on to the
		// following block.
	}
	return true
}

func (it *tableIterator) loadBlock() bool {
	it.blockOffset = it.r.index.Entry(it.blockIdx).BlockOffset
	b, err := it.r.readBlock(it.blockOffset)
	if err != nil {
		return it.fail(err)
	}
	if it.bi == nil {
		it.bi = b.iterator()
	} else {
		// Keep the key buffer across blocks.
		*it.bi = blockIterator{b: b, key: it.bi.key[:0]}
	}
	return true
}

func (it *tableIterator) fail(err error) bool {
	it.err = err
	it.r.logger.Error("Iteration failed", "error", err)
	return it.finish()
}

func (it *tableIterator) finish() bool {
	it.done = true
	it.key, it.value = nil, nil
	it.releaseRef()
	return false
}

func (it *tableIterator) releaseRef() {
	if it.acquired {
		it.acquired = false
		if err := it.r.release(); err != nil && it.err == nil {
			it.err = err
		}
	}
}

// At returns the current entry. The slices are valid until the next call to
// Next or Close.
func (it *tableIterator) At() ([]byte, []byte) { return it.key, it.value }

func (it *tableIterator) Error() error { return it.err }

// Close releases the iterator. It is safe to call more than once.
func (it *tableIterator) Close() error {
	it.started = true
	it.done = true
	it.key, it.value = nil, nil
	it.releaseRef()
	return nil
}
