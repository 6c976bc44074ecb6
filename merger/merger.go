// Package merger presents several sorted sources as one.
//
// A Merger stores nothing itself. Lookups and scans are forwarded to every
// source and entries that share a key are folded with a merge function in
// the order the sources were added.
package merger

import (
	"errors"
	"sync"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/iterator"
)

// ChooseFirstValue keeps the value from the earliest source.
func ChooseFirstValue(_, a, _ []byte) []byte { return a }

// ChooseLastValue keeps the value from the latest source.
func ChooseLastValue(_, _, b []byte) []byte { return b }

// ConcatValues appends the later value to the earlier one.
func ConcatValues(_, a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// Merger is a core.Source over an ordered list of sources. It is safe for
// concurrent use when its sources are.
type Merger struct {
	mu      sync.RWMutex
	sources []core.Source
	merge   core.MergeFunc
}

var _ core.Source = (*Merger)(nil)

// New returns a Merger over sources. A nil merge keeps the value of the
// last source that has the key.
func New(merge core.MergeFunc, sources ...core.Source) *Merger {
	if merge == nil {
		merge = ChooseLastValue
	}
	return &Merger{
		sources: append([]core.Source(nil), sources...),
		merge:   merge,
	}
}

// AddSource appends src. Its values fold after those of every source
// added before it.
func (m *Merger) AddSource(src core.Source) {
	m.mu.Lock()
	m.sources = append(m.sources, src)
	m.mu.Unlock()
}

// Len returns the number of sources.
func (m *Merger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}

func (m *Merger) snapshot() []core.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.Source(nil), m.sources...)
}

// Get looks key up in every source and folds the hits in source order.
// It returns core.ErrNotFound when no source has the key and stops at the
// first other error.
func (m *Merger) Get(key []byte) ([]byte, error) {
	var (
		acc   []byte
		found bool
	)
	for _, src := range m.snapshot() {
		v, err := src.Get(key)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !found {
			acc, found = v, true
			continue
		}
		acc = m.merge(key, acc, v)
	}
	if !found {
		return nil, core.ErrNotFound
	}
	return acc, nil
}

// NewIterator merges every entry of every source.
func (m *Merger) NewIterator() core.Iterator {
	return m.newIterator(func(src core.Source) core.Iterator { return src.NewIterator() })
}

// NewPrefixIterator merges the entries whose key starts with prefix.
func (m *Merger) NewPrefixIterator(prefix []byte) core.Iterator {
	return m.newIterator(func(src core.Source) core.Iterator { return src.NewPrefixIterator(prefix) })
}

// NewRangeIterator merges the entries with lo <= key <= hi.
func (m *Merger) NewRangeIterator(lo, hi []byte) core.Iterator {
	return m.newIterator(func(src core.Source) core.Iterator { return src.NewRangeIterator(lo, hi) })
}

func (m *Merger) newIterator(open func(core.Source) core.Iterator) core.Iterator {
	sources := m.snapshot()
	if len(sources) == 0 {
		return iterator.NewEmptyIterator()
	}
	iters := make([]core.Iterator, len(sources))
	for i, src := range sources {
		iters[i] = open(src)
	}
	return iterator.NewMergingIterator(iters, m.merge)
}
