package memtable

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/iterator"
	"github.com/INLOpen/skiplist"
)

// EntryWriter receives entries in ascending key order. *sstable.Writer
// satisfies it.
type EntryWriter interface {
	Add(key, value []byte) error
}

// Memtable is an in-memory, sorted buffer of unique keys. A Put on an
// existing key combines the stored and new values with the memtable's merge
// function, so every key holds the left fold of its values in call order.
type Memtable struct {
	mu           sync.RWMutex
	data         *skiplist.SkipList[[]byte, *MemtableEntry]
	merge        core.MergeFunc
	sizeBytes    int64 // Estimated size of data in bytes
	threshold    int64 // Threshold for when the memtable is considered full
	CreationTime time.Time
}

var _ core.Source = (*Memtable)(nil)

// NewMemtable creates a new Memtable with a given size threshold. A nil
// merge keeps the newest value.
func NewMemtable(threshold int64, merge core.MergeFunc) *Memtable {
	if merge == nil {
		merge = func(_, _, b []byte) []byte { return b }
	}
	return &Memtable{
		data:         skiplist.NewWithComparator[[]byte, *MemtableEntry](comparator),
		merge:        merge,
		threshold:    threshold,
		CreationTime: time.Now(),
	}
}

// Put adds key with value, or merges value into the existing entry for key.
// Key and value are copied. A nil key is the empty key.
func (m *Memtable) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.data.Seek(key); ok && bytes.Equal(node.Key(), key) {
		entry := node.Value()
		before := entry.Size()
		// The merge result may alias either argument; both are owned here.
		merged := m.merge(entry.Key, entry.Value, append([]byte(nil), value...))
		entry.Value = merged
		m.sizeBytes += entry.Size() - before
		return nil
	}

	buf := make([]byte, len(key)+len(value))
	copy(buf, key)
	copy(buf[len(key):], value)

	newEntry := EntryPool.Get()
	newEntry.Key = buf[:len(key):len(key)]
	newEntry.Value = buf[len(key):]

	m.data.Insert(newEntry.Key, newEntry)
	m.sizeBytes += newEntry.Size()
	return nil
}

// Get returns a copy of the value stored under key, or core.ErrNotFound.
func (m *Memtable) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.data.Seek(key)
	if !ok || !bytes.Equal(node.Key(), key) {
		return nil, core.ErrNotFound
	}
	return append([]byte(nil), node.Value().Value...), nil
}

// Size returns the estimated size of the data in the memtable in bytes.
func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}

// IsFull checks if the memtable has exceeded its size threshold.
func (m *Memtable) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes > m.threshold
}

// Len returns the number of distinct keys in the memtable.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Len()
}

// NewIterator creates a new iterator over every entry.
// The iterator holds a read lock on the memtable for its lifetime.
// The caller MUST call Close() on the iterator to release the lock.
func (m *Memtable) NewIterator() core.Iterator {
	return m.newIterator(nil)
}

// NewPrefixIterator returns the entries whose key starts with prefix. Like
// NewIterator it holds the read lock until closed.
func (m *Memtable) NewPrefixIterator(prefix []byte) core.Iterator {
	return iterator.NewPrefixIterator(m.newIterator(prefix), prefix)
}

// NewRangeIterator returns the entries with lo <= key <= hi. Like
// NewIterator it holds the read lock until closed.
func (m *Memtable) NewRangeIterator(lo, hi []byte) core.Iterator {
	return iterator.NewRangeIterator(m.newIterator(lo), lo, hi)
}

func (m *Memtable) newIterator(startKey []byte) *MemtableIterator {
	m.mu.RLock() // Acquire read lock
	return &MemtableIterator{
		mu:       &m.mu,
		iter:     m.data.NewIterator(),
		startKey: startKey,
	}
}

// FlushToSSTable writes all entries in key order to writer.
func (m *Memtable) FlushToSSTable(writer EntryWriter) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	iter := m.data.NewIterator()
	for iter.Next() {
		entry := iter.Value()
		if err := writer.Add(entry.Key, entry.Value); err != nil {
			return fmt.Errorf("failed to add memtable entry to sstable writer (key: %q): %w", entry.Key, err)
		}
	}
	return nil
}

// Reset empties the memtable, returning its entries to the pool. Slices
// previously returned by Get remain valid; iterators must be closed first.
func (m *Memtable) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data.Range(func(_ []byte, value *MemtableEntry) bool {
		EntryPool.Put(value)
		return true
	})
	m.data = skiplist.NewWithComparator[[]byte, *MemtableEntry](comparator)
	m.sizeBytes = 0
	m.CreationTime = time.Now()
}
