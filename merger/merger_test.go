package merger

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/iterator"
	"github.com/INLOpen/nexustable/memtable"
	"github.com/INLOpen/nexustable/sstable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTable writes kv pairs, which must be sorted, and opens the result.
func openTable(t *testing.T, kv ...string) *sstable.Reader {
	t.Helper()
	var buf bytes.Buffer
	w, err := sstable.NewWriter(&buf, sstable.DefaultWriterOptions())
	require.NoError(t, err)
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, w.Add([]byte(kv[i]), []byte(kv[i+1])))
	}
	require.NoError(t, w.Close())
	r, err := sstable.OpenBytes(buf.Bytes(), sstable.ReaderOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func collect(t *testing.T, it core.Iterator) [][2]string {
	t.Helper()
	got, err := core.Collect(it)
	require.NoError(t, err)
	out := make([][2]string, len(got))
	for i, e := range got {
		out[i] = [2]string{string(e.Key), string(e.Value)}
	}
	return out
}

// erroringSource fails every Get with err.
type erroringSource struct {
	core.Source
	err error
}

func (s erroringSource) Get([]byte) ([]byte, error) { return nil, s.err }

func TestMerger_ChooseLastOverTwoFiles(t *testing.T) {
	a := openTable(t, "one", "Hello", "two", "world")
	b := openTable(t, "one", "blue", "three", "green")
	m := New(ChooseLastValue, a, b)

	assert.Equal(t, [][2]string{
		{"one", "blue"},
		{"three", "green"},
		{"two", "world"},
	}, collect(t, m.NewIterator()))

	v, err := m.Get([]byte("one"))
	require.NoError(t, err)
	assert.Equal(t, "blue", string(v))
	v, err = m.Get([]byte("two"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(v))
	_, err = m.Get([]byte("four"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMerger_CollisionResolution(t *testing.T) {
	testCases := []struct {
		name  string
		merge core.MergeFunc
		want  string
	}{
		{name: "first", merge: ChooseFirstValue, want: "a"},
		{name: "last", merge: ChooseLastValue, want: "c"},
		{name: "concat", merge: ConcatValues, want: "abc"},
		{name: "nil keeps last", merge: nil, want: "c"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(tc.merge,
				openTable(t, "wat", "a"),
				openTable(t, "wat", "b", "x", "1"),
				openTable(t, "wat", "c"),
			)
			v, err := m.Get([]byte("wat"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(v))
			assert.Equal(t, [][2]string{{"wat", tc.want}, {"x", "1"}}, collect(t, m.NewIterator()))
		})
	}
}

func TestMerger_PrefixAndRange(t *testing.T) {
	m := New(ConcatValues,
		openTable(t, "apple", "1", "apricot", "2", "banana", "3"),
		openTable(t, "apple", "4", "avocado", "5", "cherry", "6"),
	)

	assert.Equal(t, [][2]string{
		{"apple", "14"},
		{"apricot", "2"},
	}, collect(t, m.NewPrefixIterator([]byte("ap"))))

	assert.Equal(t, [][2]string{
		{"apricot", "2"},
		{"avocado", "5"},
		{"banana", "3"},
	}, collect(t, m.NewRangeIterator([]byte("apricot"), []byte("banana"))))

	assert.Empty(t, collect(t, m.NewPrefixIterator([]byte("z"))))
}

func TestMerger_NestsAndMixesSources(t *testing.T) {
	mem := memtable.NewMemtable(1<<20, nil)
	require.NoError(t, mem.Put([]byte("k2"), []byte("mem")))
	require.NoError(t, mem.Put([]byte("k4"), []byte("mem")))

	inner := New(ConcatValues, openTable(t, "k1", "a", "k2", "b"), openTable(t, "k2", "c", "k3", "d"))
	outer := New(ConcatValues, inner)
	outer.AddSource(mem)
	assert.Equal(t, 2, outer.Len())

	assert.Equal(t, [][2]string{
		{"k1", "a"},
		{"k2", "bcmem"},
		{"k3", "d"},
		{"k4", "mem"},
	}, collect(t, outer.NewIterator()))

	v, err := outer.Get([]byte("k2"))
	require.NoError(t, err)
	assert.Equal(t, "bcmem", string(v))
}

func TestMerger_NoSources(t *testing.T) {
	m := New(ConcatValues)
	_, err := m.Get([]byte("k"))
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, collect(t, m.NewIterator()))
	assert.Empty(t, collect(t, m.NewRangeIterator(nil, nil)))
}

func TestMerger_PropagatesSourceErrors(t *testing.T) {
	boom := errors.New("boom")
	m := New(ConcatValues, openTable(t, "k", "v"), erroringSource{err: boom})
	_, err := m.Get([]byte("k"))
	assert.ErrorIs(t, err, boom)

	closed := openTable(t, "k", "v")
	require.NoError(t, closed.Close())
	m = New(ConcatValues, openTable(t, "a", "1"), closed)
	it := m.NewIterator()
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Error(), core.ErrClosed)
	require.NoError(t, it.Close())
}

func TestMerger_MatchesSortedUnion(t *testing.T) {
	const sources = 5
	want := map[string]string{}
	var srcs []core.Source
	for s := 0; s < sources; s++ {
		var entries []core.Entry
		for i := s; i < 300; i += s + 1 {
			key := fmt.Sprintf("key-%04d", i)
			entries = append(entries, core.Entry{Key: []byte(key), Value: []byte{byte('a' + s)}})
			want[key] += string(rune('a' + s))
		}
		var buf bytes.Buffer
		w, err := sstable.NewWriter(&buf, sstable.WriterOptions{BlockSize: 128})
		require.NoError(t, err)
		require.NoError(t, w.AddAll(iterator.NewSliceIterator(entries)))
		require.NoError(t, w.Close())
		r, err := sstable.OpenBytes(buf.Bytes(), sstable.ReaderOptions{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })
		srcs = append(srcs, r)
	}
	m := New(ConcatValues, srcs...)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := core.Collect(m.NewIterator())
			assert.NoError(t, err)
			assert.Len(t, got, len(want))
			for i, e := range got {
				if i > 0 {
					assert.Negative(t, bytes.Compare(got[i-1].Key, e.Key))
				}
				assert.Equal(t, want[string(e.Key)], string(e.Value), "key %s", e.Key)
			}
		}()
	}
	wg.Wait()
}
