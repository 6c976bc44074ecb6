package fileset

import (
	"sync/atomic"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/merger"
	"github.com/INLOpen/nexustable/sstable"
)

// table is a Reader shared by every snapshot that lists it. Each such
// snapshot holds one reference; the Reader is closed when the last one goes.
type table struct {
	path   string
	reader *sstable.Reader
	refs   atomic.Int64
}

func (t *table) retain() { t.refs.Add(1) }

func (t *table) release() error {
	if t.refs.Add(-1) == 0 {
		return t.reader.Close()
	}
	return nil
}

// snapshot is an immutable view of the fileset. The fileset holds one
// reference while the snapshot is current and every read in flight holds
// another.
type snapshot struct {
	tables []*table
	merger *merger.Merger
	refs   atomic.Int64
	onFree func(error)
}

func newSnapshot(tables []*table, merge core.MergeFunc, onFree func(error)) *snapshot {
	s := &snapshot{
		tables: tables,
		merger: merger.New(merge),
		onFree: onFree,
	}
	for _, t := range tables {
		t.retain()
		s.merger.AddSource(t.reader)
	}
	s.refs.Store(1)
	return s
}

// tryAcquire takes a reference unless the snapshot has already been freed.
func (s *snapshot) tryAcquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *snapshot) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	for _, t := range s.tables {
		if err := t.release(); err != nil && s.onFree != nil {
			s.onFree(err)
		}
	}
}

func (s *snapshot) paths() []string {
	out := make([]string, len(s.tables))
	for i, t := range s.tables {
		out[i] = t.path
	}
	return out
}

// snapshotIterator keeps its snapshot alive until it is exhausted or closed,
// whichever comes first.
type snapshotIterator struct {
	core.Iterator
	snap     *snapshot
	released bool
}

func (it *snapshotIterator) Next() bool {
	if it.released {
		return false
	}
	if it.Iterator.Next() {
		return true
	}
	it.release()
	return false
}

func (it *snapshotIterator) Close() error {
	err := it.Iterator.Close()
	it.release()
	return err
}

func (it *snapshotIterator) release() {
	if !it.released {
		it.released = true
		it.snap.release()
	}
}
