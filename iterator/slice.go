package iterator

import "github.com/INLOpen/nexustable/core"

// SliceIterator iterates over an in-memory slice of entries, which must
// already be sorted by key.
type SliceIterator struct {
	entries []core.Entry
	idx     int
	err     error
}

var _ core.Iterator = (*SliceIterator)(nil)

// NewSliceIterator returns an iterator over entries. The slice is not copied.
func NewSliceIterator(entries []core.Entry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

func (s *SliceIterator) Next() bool {
	if s.err != nil || s.idx >= len(s.entries) {
		return false
	}
	s.idx++
	return true
}

func (s *SliceIterator) At() ([]byte, []byte) {
	if s.idx > 0 && s.idx <= len(s.entries) {
		e := s.entries[s.idx-1]
		return e.Key, e.Value
	}
	return nil, nil
}

func (s *SliceIterator) Error() error { return s.err }
func (s *SliceIterator) Close() error {
	s.idx = len(s.entries)
	return nil
}

// ErrorIterator yields no entries and reports err. Constructors that cannot
// fail in their signature use it to surface setup errors on the first Next.
type ErrorIterator struct {
	err error
}

// NewErrorIterator returns an iterator whose Error is err.
func NewErrorIterator(err error) core.Iterator {
	return &ErrorIterator{err: err}
}

func (it *ErrorIterator) Next() bool           { return false }
func (it *ErrorIterator) At() ([]byte, []byte) { return nil, nil }
func (it *ErrorIterator) Error() error         { return it.err }
func (it *ErrorIterator) Close() error         { return nil }
