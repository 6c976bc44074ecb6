// Package fileset serves a changing set of sstables named by a listing file.
//
// The listing holds one table path per line. A Fileset opens every listed
// table and answers reads through a merger over them, in listing order.
// Reload re-reads the listing at most once per ReloadInterval, reusing the
// readers of tables that are still listed.
package fileset

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/iterator"
	"github.com/INLOpen/nexustable/sstable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultReloadInterval is the minimum time between two listing reads.
const DefaultReloadInterval = 60 * time.Second

// Options configures a Fileset.
type Options struct {
	// ReloadInterval is the minimum time between listing reads made by
	// Reload. Zero selects DefaultReloadInterval.
	ReloadInterval time.Duration
	// Reader is used for every table the fileset opens.
	Reader sstable.ReaderOptions
	// OpenConcurrency bounds the number of tables opened at once. Zero
	// selects GOMAXPROCS.
	OpenConcurrency int

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Fileset is a core.Source over the tables named by a listing file. Reads
// are safe for concurrent use with each other and with Reload.
type Fileset struct {
	listingPath string
	merge       core.MergeFunc
	opts        Options

	current atomic.Pointer[snapshot]

	mu       sync.Mutex // serializes reloads and Close
	tables   map[string]*table
	lastLoad time.Time
	closed   bool
	now      func() time.Time

	tracer trace.Tracer
	logger *slog.Logger
}

var _ core.Source = (*Fileset)(nil)

// Open reads the listing at listingPath and opens every table it names.
// merge folds values of keys present in more than one table; a nil merge
// keeps the value from the table listed last.
func Open(listingPath string, merge core.MergeFunc, opts Options) (*Fileset, error) {
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = DefaultReloadInterval
	}
	if opts.OpenConcurrency <= 0 {
		opts.OpenConcurrency = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Reader.Logger == nil {
		opts.Reader.Logger = opts.Logger
	}
	if opts.Reader.Tracer == nil {
		opts.Reader.Tracer = opts.Tracer
	}

	fs := &Fileset{
		listingPath: listingPath,
		merge:       merge,
		opts:        opts,
		tables:      make(map[string]*table),
		now:         time.Now,
		tracer:      opts.Tracer,
		logger:      opts.Logger.With("component", "fileset", "listing", listingPath),
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Reload re-reads the listing if at least ReloadInterval has passed since
// the previous read. It reports whether the listing was read. On failure the
// current set of tables stays in place and the error is a *core.OpenError.
func (fs *Fileset) Reload() (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return false, core.ErrClosed
	}
	if elapsed := fs.now().Sub(fs.lastLoad); elapsed < fs.opts.ReloadInterval {
		fs.logger.Debug("Skipping reload", "elapsed", elapsed, "interval", fs.opts.ReloadInterval)
		return false, nil
	}
	if err := fs.reload(); err != nil {
		return false, err
	}
	return true, nil
}

// ForceReload re-reads the listing regardless of ReloadInterval.
func (fs *Fileset) ForceReload() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return core.ErrClosed
	}
	return fs.reload()
}

// reload must be called with fs.mu held.
func (fs *Fileset) reload() (err error) {
	var span trace.Span
	if fs.tracer != nil {
		_, span = fs.tracer.Start(context.Background(), "fileset.Reload")
		span.SetAttributes(attribute.String("fileset.listing", fs.listingPath))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	// The attempt counts toward the interval even when it fails, so a broken
	// listing is not re-read on every call.
	fs.lastLoad = fs.now()

	paths, err := readListing(fs.listingPath)
	if err != nil {
		fs.logger.Error("Failed to read listing", "error", err)
		return err
	}

	opened, err := fs.openMissing(paths)
	if err != nil {
		fs.logger.Error("Failed to open listed table", "error", err)
		return err
	}

	tables := make([]*table, len(paths))
	next := make(map[string]*table, len(paths))
	for i, p := range paths {
		t, ok := fs.tables[p]
		if !ok {
			t = opened[p]
		}
		tables[i] = t
		next[p] = t
	}

	snap := newSnapshot(tables, fs.merge, func(err error) {
		fs.logger.Warn("Failed to close dropped table", "error", err)
	})
	dropped := 0
	for p := range fs.tables {
		if _, ok := next[p]; !ok {
			dropped++
		}
	}
	fs.tables = next

	if old := fs.current.Swap(snap); old != nil {
		old.release()
	}

	fs.logger.Debug("Reloaded listing", "tables", len(tables), "opened", len(opened), "dropped", dropped)
	if span != nil {
		span.SetAttributes(
			attribute.Int("fileset.tables", len(tables)),
			attribute.Int("fileset.opened", len(opened)),
			attribute.Int("fileset.dropped", dropped),
		)
	}
	return nil
}

// openMissing opens, concurrently, every path not already held. On error
// the tables it did open are closed again.
func (fs *Fileset) openMissing(paths []string) (map[string]*table, error) {
	var missing []string
	for _, p := range paths {
		if _, ok := fs.tables[p]; !ok {
			missing = append(missing, p)
		}
	}

	readers := make([]*sstable.Reader, len(missing))
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(fs.opts.OpenConcurrency)
	for i, p := range missing {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r, err := sstable.Open(p, fs.opts.Reader)
			if err != nil {
				return err
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var errs []error
		for _, r := range readers {
			if r != nil {
				errs = append(errs, r.Close())
			}
		}
		if cerr := errors.Join(errs...); cerr != nil {
			fs.logger.Warn("Failed to close table after aborted reload", "error", cerr)
		}
		return nil, err
	}

	opened := make(map[string]*table, len(missing))
	for i, p := range missing {
		opened[p] = &table{path: p, reader: readers[i]}
	}
	return opened, nil
}

// acquire returns the current snapshot with a reference held.
func (fs *Fileset) acquire() (*snapshot, error) {
	for {
		s := fs.current.Load()
		if s == nil {
			return nil, core.ErrClosed
		}
		if s.tryAcquire() {
			return s, nil
		}
	}
}

// Files returns the paths of the tables currently served, in listing order.
func (fs *Fileset) Files() []string {
	s, err := fs.acquire()
	if err != nil {
		return nil
	}
	defer s.release()
	return s.paths()
}

// Get returns the merged value of key across all tables.
func (fs *Fileset) Get(key []byte) ([]byte, error) {
	s, err := fs.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release()
	return s.merger.Get(key)
}

// NewIterator merges every entry of every table. The iterator keeps reading
// the tables that were current when it was created, even across reloads.
func (fs *Fileset) NewIterator() core.Iterator {
	return fs.newIterator(func(s *snapshot) core.Iterator { return s.merger.NewIterator() })
}

// NewPrefixIterator merges the entries whose key starts with prefix.
func (fs *Fileset) NewPrefixIterator(prefix []byte) core.Iterator {
	return fs.newIterator(func(s *snapshot) core.Iterator { return s.merger.NewPrefixIterator(prefix) })
}

// NewRangeIterator merges the entries with lo <= key <= hi.
func (fs *Fileset) NewRangeIterator(lo, hi []byte) core.Iterator {
	return fs.newIterator(func(s *snapshot) core.Iterator { return s.merger.NewRangeIterator(lo, hi) })
}

func (fs *Fileset) newIterator(open func(*snapshot) core.Iterator) core.Iterator {
	s, err := fs.acquire()
	if err != nil {
		return iterator.NewErrorIterator(err)
	}
	return &snapshotIterator{Iterator: open(s), snap: s}
}

// Close stops the fileset. Tables are closed once reads still in flight
// have finished. Later calls return core.ErrClosed from reads and Reload.
func (fs *Fileset) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true
	if old := fs.current.Swap(nil); old != nil {
		old.release()
	}
	fs.tables = nil
	fs.logger.Debug("Closed fileset")
	return nil
}
