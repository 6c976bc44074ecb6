package memtable

import (
	"sync"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/skiplist"
)

// MemtableIterator iterates over the memtable in ascending key order.
// It is not safe for concurrent use by multiple goroutines.
type MemtableIterator struct {
	mu       *sync.RWMutex // The lock from the parent memtable. MUST be released by Close().
	iter     *skiplist.Iterator[[]byte, *MemtableEntry]
	startKey []byte
	started  bool
	valid    bool // Indicates if the iterator is currently at a valid position.
	err      error
}

var _ core.Iterator = (*MemtableIterator)(nil)

// Next moves the iterator to the next key.
func (it *MemtableIterator) Next() bool {
	if it.mu == nil {
		return false
	}
	if !it.started {
		// First call: position on the first key >= startKey.
		it.started = true
		if it.startKey != nil {
			it.valid = it.iter.Seek(it.startKey)
		} else {
			it.valid = it.iter.First()
		}
		return it.valid
	}
	if !it.valid {
		return false
	}
	it.valid = it.iter.Next()
	return it.valid
}

func (it *MemtableIterator) At() ([]byte, []byte) {
	if !it.valid {
		return nil, nil
	}
	entry := it.iter.Value()
	return entry.Key, entry.Value
}

// Error returns the error.
func (it *MemtableIterator) Error() error {
	return it.err
}

// Close releases the iterator's resources, including the read lock on the memtable.
// It is safe to call Close multiple times.
func (it *MemtableIterator) Close() error {
	if it.mu == nil { // Prevent multiple unlocks
		return nil
	}
	it.valid = false
	it.mu.RUnlock() // Release the read lock on the memtable
	it.mu = nil     // Mark as closed
	return nil
}
