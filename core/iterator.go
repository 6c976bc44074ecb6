package core

// Iterator walks entries in ascending key order.
//
// Next must be called before the first At. The slices returned by At are only
// valid until the next call to Next or Close; callers that keep them must copy.
// Once Next returns false, Error reports whether the iterator stopped because
// of a failure rather than exhaustion.
type Iterator interface {
	Next() bool
	At() (key, value []byte)
	Error() error
	Close() error
}

// Source is the ordered lookup contract shared by readers, mergers and
// filesets. Iterator constructors never fail; errors surface from the
// returned iterator.
type Source interface {
	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// NewIterator returns every entry.
	NewIterator() Iterator
	// NewPrefixIterator returns the entries whose key starts with prefix.
	NewPrefixIterator(prefix []byte) Iterator
	// NewRangeIterator returns the entries with lo <= key <= hi. A nil bound
	// is open.
	NewRangeIterator(lo, hi []byte) Iterator
}

// Collect drains it into a slice of owned entries and closes it.
func Collect(it Iterator) ([]Entry, error) {
	var out []Entry
	for it.Next() {
		k, v := it.At()
		out = append(out, Entry{
			Key:   append([]byte(nil), k...),
			Value: append([]byte(nil), v...),
		})
	}
	err := it.Error()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	return out, err
}
