// Package sorter turns unordered key/value input into a sorted sstable.
//
// Entries are buffered in a memtable that merges duplicate keys as they
// arrive. When the buffer grows past the memory budget it is written to a
// temporary run file. Finish merges every run plus the remaining buffer into
// the target writer.
package sorter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/iterator"
	"github.com/INLOpen/nexustable/memtable"
	"github.com/INLOpen/nexustable/sstable"
	"github.com/INLOpen/nexustable/sys"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxMemoryCeiling is the largest default memory budget.
	MaxMemoryCeiling int64 = 1 << 30
	// DefaultSpillCompression is the codec DefaultOptions uses for runs.
	DefaultSpillCompression = core.CompressionSnappy

	runFilePattern  = "nexustable-sort-*.run"
	runWriteBufSize = 256 * 1024
)

// DefaultMaxMemory returns MaxMemoryCeiling, lowered to half of the memory
// currently available when that is smaller.
func DefaultMaxMemory() int64 {
	limit := MaxMemoryCeiling
	if vm, err := mem.VirtualMemory(); err == nil && vm.Available > 0 {
		if half := int64(vm.Available / 2); half < limit {
			limit = half
		}
	}
	return limit
}

// Options configures a Sorter. A zero MaxMemory or empty TempDir selects the
// default. SpillCompression is taken as given, so start from DefaultOptions
// to get snappy runs.
type Options struct {
	MaxMemory        int64
	TempDir          string
	SpillCompression core.CompressionType

	Logger *slog.Logger
	Tracer trace.Tracer
}

// DefaultOptions returns the default memory budget, the system temp
// directory and snappy-compressed runs.
func DefaultOptions() Options {
	return Options{
		MaxMemory:        DefaultMaxMemory(),
		TempDir:          os.TempDir(),
		SpillCompression: DefaultSpillCompression,
	}
}

// Sorter accepts entries in any order and writes them, sorted and with
// duplicate keys merged, to an sstable.Writer. It is not safe for
// concurrent use.
type Sorter struct {
	w     *sstable.Writer
	merge core.MergeFunc
	opts  Options

	buf    *memtable.Memtable
	runs   []string // spill files in creation order
	added  uint64
	closed bool

	tracer trace.Tracer
	logger *slog.Logger
}

// New returns a Sorter that will write to w on Finish. merge resolves
// entries that share a key and is required.
func New(w *sstable.Writer, merge core.MergeFunc, opts Options) (*Sorter, error) {
	if w == nil {
		return nil, errors.New("sorter: nil writer")
	}
	if merge == nil {
		return nil, errors.New("sorter: merge function is required")
	}
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = DefaultMaxMemory()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if !opts.SpillCompression.Valid() {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownCompression, opts.SpillCompression)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sorter{
		w:      w,
		merge:  merge,
		opts:   opts,
		buf:    memtable.NewMemtable(opts.MaxMemory, merge),
		tracer: opts.Tracer,
		logger: opts.Logger.With("component", "sorter"),
	}, nil
}

// Add buffers an entry. When the buffer exceeds the memory budget it is
// spilled to a run file. If the spill fails the error is returned but the
// entry stays buffered: a later spill or Finish still writes it, so it must
// not be added again.
func (s *Sorter) Add(key, value []byte) error {
	if s.closed {
		return core.ErrClosed
	}
	if err := s.buf.Put(key, value); err != nil {
		return err
	}
	s.added++
	if s.buf.IsFull() {
		return s.spill()
	}
	return nil
}

// AddAll adds every entry of it and closes it.
func (s *Sorter) AddAll(it core.Iterator) (err error) {
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()
	for it.Next() {
		k, v := it.At()
		if err := s.Add(k, v); err != nil {
			return err
		}
	}
	return it.Error()
}

// Runs returns the number of runs spilled so far.
func (s *Sorter) Runs() int { return len(s.runs) }

// spill writes the buffer as a new run and resets it.
func (s *Sorter) spill() (err error) {
	var span trace.Span
	if s.tracer != nil {
		_, span = s.tracer.Start(context.Background(), "sorter.spill")
		span.SetAttributes(
			attribute.Int("sorter.run", len(s.runs)),
			attribute.Int("sorter.entries", s.buf.Len()),
			attribute.Int64("sorter.buffer_bytes", s.buf.Size()),
		)
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	f, err := sys.CreateTemp(s.opts.TempDir, runFilePattern)
	if err != nil {
		return &core.IOError{Op: "create", Path: s.opts.TempDir, Err: err}
	}
	path := f.Name()
	if err := s.writeRunFile(f); err != nil {
		if rerr := sys.Remove(path); rerr != nil {
			s.logger.Warn("Failed to remove partial run", "path", path, "error", rerr)
		}
		return err
	}
	s.runs = append(s.runs, path)

	poolHits, poolMisses, _ := memtable.EntryPool.GetMetrics()
	s.logger.Debug("Spilled run",
		"path", path,
		"run", len(s.runs)-1,
		"entries", s.buf.Len(),
		"buffer_bytes", s.buf.Size(),
		"buffer_age", time.Since(s.buf.CreationTime),
		"entry_pool_hits", poolHits,
		"entry_pool_misses", poolMisses)
	s.buf.Reset()
	return nil
}

// writeRunFile writes the buffer to f as an sstable and closes f.
func (s *Sorter) writeRunFile(f sys.FileHandle) error {
	path := f.Name()
	bw := bufio.NewWriterSize(f, runWriteBufSize)
	if err := s.writeRun(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return &core.IOError{Op: "flush", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &core.IOError{Op: "close", Path: path, Err: err}
	}
	return nil
}

func (s *Sorter) writeRun(dst *bufio.Writer) error {
	w, err := sstable.NewWriter(dst, sstable.WriterOptions{
		Compression: s.opts.SpillCompression,
		Logger:      s.opts.Logger,
	})
	if err != nil {
		return err
	}
	if err := s.buf.FlushToSSTable(w); err != nil {
		return err
	}
	return w.Close()
}

// Finish merges every run and the in-memory buffer into the target writer
// and closes it. Run files are removed whether or not the merge succeeds.
// Finish may be called once; later calls return core.ErrClosed.
func (s *Sorter) Finish() (err error) {
	if s.closed {
		return core.ErrClosed
	}
	s.closed = true

	var span trace.Span
	if s.tracer != nil {
		_, span = s.tracer.Start(context.Background(), "sorter.Finish")
		span.SetAttributes(
			attribute.Int("sorter.runs", len(s.runs)),
			attribute.Int64("sorter.entries_added", int64(s.added)),
		)
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	s.logger.Debug("Merging runs", "runs", len(s.runs), "buffered", s.buf.Len(), "entries_added", s.added)
	err = s.mergeInto()
	if cerr := s.cleanup(); cerr != nil {
		s.logger.Warn("Failed to remove sort runs", "error", cerr)
		err = errors.Join(err, cerr)
	}
	if err == nil {
		s.logger.Debug("Sort finished", "entries_written", s.w.Len())
	}
	return err
}

func (s *Sorter) mergeInto() error {
	readers := make([]*sstable.Reader, 0, len(s.runs))
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()

	iters := make([]core.Iterator, 0, len(s.runs)+1)
	for _, path := range s.runs {
		r, err := sstable.Open(path, sstable.ReaderOptions{Logger: s.opts.Logger})
		if err != nil {
			return err
		}
		readers = append(readers, r)
		iters = append(iters, r.NewIterator())
	}
	// The buffer holds the newest entries, so it merges last.
	iters = append(iters, s.buf.NewIterator())

	if err := s.w.AddAll(iterator.NewMergingIterator(iters, s.merge)); err != nil {
		return err
	}
	return s.w.Close()
}

// Abort discards buffered entries and removes every run file without
// writing to the target writer, which the caller still owns.
func (s *Sorter) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cleanup()
}

func (s *Sorter) cleanup() error {
	var errs []error
	for _, path := range s.runs {
		if err := sys.Remove(path); err != nil {
			errs = append(errs, &core.IOError{Op: "remove", Path: path, Err: err})
		}
	}
	s.runs = nil
	s.buf.Reset()
	return errors.Join(errs...)
}
