package memtable

import (
	"bytes"
)

// entryOverhead approximates the skiplist node and entry headers that
// accompany each stored key and value.
const entryOverhead = 64

// MemtableEntry is a single key/value pair held by the memtable. Key and
// Value share one owned allocation.
type MemtableEntry struct {
	Key   []byte
	Value []byte
}

// Size returns the estimated memory size of the entry in bytes.
// This is used for tracking memtable size and deciding when to spill.
func (e *MemtableEntry) Size() int64 {
	return int64(len(e.Key) + len(e.Value) + entryOverhead)
}

// comparator orders memtable keys by unsigned lexicographic byte order.
func comparator(a, b []byte) int {
	return bytes.Compare(a, b)
}
