package sorter

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/iterator"
	"github.com/INLOpen/nexustable/sstable"
	"github.com/INLOpen/nexustable/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func concat(_, a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func keepFirst(_, a, _ []byte) []byte { return a }

func newTestSorter(t *testing.T, buf *bytes.Buffer, merge core.MergeFunc, maxMemory int64) (*Sorter, string) {
	t.Helper()
	w, err := sstable.NewWriter(buf, sstable.DefaultWriterOptions())
	require.NoError(t, err)
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.MaxMemory = maxMemory
	opts.TempDir = dir
	s, err := New(w, merge, opts)
	require.NoError(t, err)
	return s, dir
}

func readAll(t *testing.T, data []byte) []core.Entry {
	t.Helper()
	r, err := sstable.OpenBytes(data, sstable.ReaderOptions{VerifyChecksums: true})
	require.NoError(t, err)
	defer r.Close()
	got, err := core.Collect(r.NewIterator())
	require.NoError(t, err)
	return got
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files, "run files must be removed")
}

func TestSorter_SortsShuffledInputAcrossRuns(t *testing.T) {
	const n = 2000
	keys := make([]int, n)
	for i := range keys {
		keys[i] = i
	}
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	var buf bytes.Buffer
	s, dir := newTestSorter(t, &buf, keepFirst, 8*1024)
	for _, k := range keys {
		require.NoError(t, s.Add([]byte(fmt.Sprintf("%06d", k)), []byte(fmt.Sprintf("v%d", k))))
	}
	assert.Greater(t, s.Runs(), 1, "small budget must spill")
	require.NoError(t, s.Finish())
	assertEmptyDir(t, dir)

	got := readAll(t, buf.Bytes())
	require.Len(t, got, n)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("%06d", i), string(e.Key))
		assert.Equal(t, fmt.Sprintf("v%d", i), string(e.Value))
	}
}

func TestSorter_MergesDuplicatesInArrivalOrder(t *testing.T) {
	testCases := []struct {
		name      string
		maxMemory int64
	}{
		{name: "in memory", maxMemory: 1 << 20},
		{name: "spilled", maxMemory: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			s, dir := newTestSorter(t, &buf, concat, tc.maxMemory)
			input := []core.Entry{
				{Key: []byte("b"), Value: []byte("1")},
				{Key: []byte("a"), Value: []byte("x")},
				{Key: []byte("b"), Value: []byte("2")},
				{Key: []byte("c"), Value: []byte("!")},
				{Key: []byte("b"), Value: []byte("3")},
				{Key: []byte("a"), Value: []byte("y")},
			}
			require.NoError(t, s.AddAll(iterator.NewSliceIterator(input)))
			require.NoError(t, s.Finish())
			assertEmptyDir(t, dir)

			assert.Equal(t, []core.Entry{
				{Key: []byte("a"), Value: []byte("xy")},
				{Key: []byte("b"), Value: []byte("123")},
				{Key: []byte("c"), Value: []byte("!")},
			}, readAll(t, buf.Bytes()))
		})
	}
}

func TestSorter_FinishWithNoInput(t *testing.T) {
	var buf bytes.Buffer
	s, _ := newTestSorter(t, &buf, concat, 0)
	require.NoError(t, s.Finish())
	assert.Empty(t, readAll(t, buf.Bytes()))
}

func TestSorter_ClosedAfterFinish(t *testing.T) {
	var buf bytes.Buffer
	s, _ := newTestSorter(t, &buf, concat, 0)
	require.NoError(t, s.Add([]byte("k"), []byte("v")))
	require.NoError(t, s.Finish())

	assert.ErrorIs(t, s.Add([]byte("k2"), nil), core.ErrClosed)
	assert.ErrorIs(t, s.Finish(), core.ErrClosed)
	assert.NoError(t, s.Abort())
}

func TestSorter_AbortRemovesRuns(t *testing.T) {
	var buf bytes.Buffer
	s, dir := newTestSorter(t, &buf, concat, 256)
	for i := 0; i < 200; i++ {
		require.NoError(t, s.Add([]byte(fmt.Sprintf("%04d", 199-i)), []byte("value")))
	}
	require.Greater(t, s.Runs(), 0)
	require.NoError(t, s.Abort())
	assertEmptyDir(t, dir)
	assert.Zero(t, buf.Len(), "abort writes nothing to the target")
	assert.ErrorIs(t, s.Add([]byte("x"), nil), core.ErrClosed)
}

func TestSorter_TargetOrderingErrorSurfaces(t *testing.T) {
	var buf bytes.Buffer
	w, err := sstable.NewWriter(&buf, sstable.WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("m"), []byte("already there")))

	dir := t.TempDir()
	s, err := New(w, concat, Options{MaxMemory: 64, TempDir: dir})
	require.NoError(t, err)
	for _, k := range []string{"z", "a", "q"} {
		require.NoError(t, s.Add([]byte(k), []byte(k)))
	}
	err = s.Finish()
	require.Error(t, err)
	assert.True(t, core.IsOrderingError(err), "got %v", err)
	assertEmptyDir(t, dir)
}

func TestSorter_SpillFailure(t *testing.T) {
	origCreateTemp := sys.CreateTemp
	defer func() { sys.CreateTemp = origCreateTemp }()
	boom := errors.New("no space")
	sys.CreateTemp = func(dir, pattern string) (sys.FileHandle, error) { return nil, boom }

	var buf bytes.Buffer
	s, _ := newTestSorter(t, &buf, concat, 1)
	err := s.Add([]byte("k"), []byte("v"))
	require.Error(t, err)
	assert.True(t, core.IsIOError(err))
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, s.Abort())
}

// failFirstWrite fails the first Write on the wrapped file.
type failFirstWrite struct {
	sys.FileHandle
	err    error
	failed bool
}

func (f *failFirstWrite) Write(p []byte) (int, error) {
	if !f.failed {
		f.failed = true
		return 0, f.err
	}
	return f.FileHandle.Write(p)
}

func TestSorter_FailedSpillWriteIsRetried(t *testing.T) {
	origCreateTemp := sys.CreateTemp
	defer func() { sys.CreateTemp = origCreateTemp }()
	diskFull := errors.New("no space left on device")
	calls := 0
	sys.CreateTemp = func(dir, pattern string) (sys.FileHandle, error) {
		f, err := origCreateTemp(dir, pattern)
		if err != nil {
			return nil, err
		}
		calls++
		if calls == 1 {
			return &failFirstWrite{FileHandle: f, err: diskFull}, nil
		}
		return f, nil
	}

	var buf bytes.Buffer
	s, dir := newTestSorter(t, &buf, concat, 1)
	err := s.Add([]byte("b"), []byte("1"))
	require.Error(t, err)
	assert.True(t, core.IsIOError(err))
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, 0, s.Runs(), "a partial run is not kept")
	assertEmptyDir(t, dir)

	require.NoError(t, s.Add([]byte("a"), []byte("2")))
	assert.Equal(t, 1, s.Runs())
	require.NoError(t, s.Finish())
	assertEmptyDir(t, dir)

	got := readAll(t, buf.Bytes())
	require.Len(t, got, 2)
	assert.Equal(t, core.Entry{Key: []byte("a"), Value: []byte("2")}, got[0])
	assert.Equal(t, core.Entry{Key: []byte("b"), Value: []byte("1")}, got[1], "the entry from the failed spill is kept once")
}

func TestSorter_EmptyKey(t *testing.T) {
	t.Run("Add", func(t *testing.T) {
		for _, maxMemory := range []int64{1 << 20, 1} {
			var buf bytes.Buffer
			s, _ := newTestSorter(t, &buf, concat, maxMemory)
			require.NoError(t, s.Add([]byte("a"), []byte("A")))
			require.NoError(t, s.Add(nil, []byte("x")))
			require.NoError(t, s.Add([]byte{}, []byte("y")))
			require.NoError(t, s.Finish())

			got := readAll(t, buf.Bytes())
			require.Len(t, got, 2)
			assert.Empty(t, got[0].Key)
			assert.Equal(t, "xy", string(got[0].Value))
			assert.Equal(t, "a", string(got[1].Key))
		}
	})

	t.Run("AddAllFromReader", func(t *testing.T) {
		var src bytes.Buffer
		w, err := sstable.NewWriter(&src, sstable.DefaultWriterOptions())
		require.NoError(t, err)
		require.NoError(t, w.Add([]byte(""), []byte("empty")))
		require.NoError(t, w.Add([]byte("a"), []byte("A")))
		require.NoError(t, w.Close())
		r, err := sstable.OpenBytes(src.Bytes(), sstable.ReaderOptions{})
		require.NoError(t, err)
		defer r.Close()

		var buf bytes.Buffer
		s, _ := newTestSorter(t, &buf, concat, 1<<20)
		require.NoError(t, s.AddAll(r.NewIterator()))
		require.NoError(t, s.Finish())

		got := readAll(t, buf.Bytes())
		require.Len(t, got, 2)
		assert.Empty(t, got[0].Key)
		assert.Equal(t, "empty", string(got[0].Value))
		assert.Equal(t, "A", string(got[1].Value))
	})
}

func TestSorter_RunFilesUseTempDir(t *testing.T) {
	var buf bytes.Buffer
	s, dir := newTestSorter(t, &buf, concat, 1)
	require.NoError(t, s.Add([]byte("k"), []byte("v")))
	require.Equal(t, 1, s.Runs())

	matches, err := filepath.Glob(filepath.Join(dir, "nexustable-sort-*.run"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	require.NoError(t, s.Finish())
}

func TestNew_Validation(t *testing.T) {
	w, err := sstable.NewWriter(&bytes.Buffer{}, sstable.WriterOptions{})
	require.NoError(t, err)

	_, err = New(w, nil, DefaultOptions())
	assert.Error(t, err, "merge function is required")
	_, err = New(nil, concat, DefaultOptions())
	assert.Error(t, err)
	_, err = New(w, concat, Options{SpillCompression: core.CompressionType(77)})
	assert.ErrorIs(t, err, core.ErrUnknownCompression)

	s, err := New(w, concat, Options{})
	require.NoError(t, err)
	assert.Positive(t, s.opts.MaxMemory)
	assert.LessOrEqual(t, s.opts.MaxMemory, MaxMemoryCeiling)
	assert.NotEmpty(t, s.opts.TempDir)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, core.CompressionSnappy, opts.SpillCompression)
	assert.Positive(t, opts.MaxMemory)
	assert.LessOrEqual(t, opts.MaxMemory, MaxMemoryCeiling)
}

func TestSorter_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var buf bytes.Buffer
	w, err := sstable.NewWriter(&buf, sstable.WriterOptions{})
	require.NoError(t, err)
	s, err := New(w, concat, Options{MaxMemory: 1, TempDir: t.TempDir(), Tracer: tp.Tracer("test")})
	require.NoError(t, err)
	require.NoError(t, s.Add([]byte("a"), []byte("1")))
	require.NoError(t, s.Add([]byte("b"), []byte("2")))
	require.NoError(t, s.Finish())

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{"sorter.spill", "sorter.spill", "sorter.Finish"}, names)
}
