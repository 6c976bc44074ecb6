package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/INLOpen/nexustable/cache"
	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reader serves lookups and scans over an immutable file image, normally a
// read-only memory mapping. All methods are safe for concurrent use; the read
// path takes no locks.
//
// The image is reference counted: Close prevents new operations, but the
// mapping is only released once every iterator created before Close has been
// closed or exhausted.
type Reader struct {
	path   string
	data   []byte // whole file image
	mapped bool   // data came from sys.Mmap and must be unmapped
	size   int64

	meta       Metadata
	index      *Index
	compressor core.Compressor
	verify     bool
	blockCache *cache.LRUCache[uint64, *block]

	refs   atomic.Int64
	closed atomic.Bool

	tracer trace.Tracer
	logger *slog.Logger
}

var _ core.Source = (*Reader)(nil)

// Open maps the file at path and validates its footer and index. Failures
// are returned as *core.OpenError wrapping a *core.FormatError or
// *core.IOError.
func Open(path string, opts ReaderOptions) (r *Reader, err error) {
	opts.applyDefaults()
	var span trace.Span
	if opts.Tracer != nil {
		_, span = opts.Tracer.Start(context.Background(), "sstable.Open")
		span.SetAttributes(attribute.String("sstable.path", path))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	f, err := sys.Open(path)
	if err != nil {
		return nil, &core.OpenError{Path: path, Err: &core.IOError{Op: "open", Path: path, Err: err}}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, &core.OpenError{Path: path, Err: &core.IOError{Op: "stat", Path: path, Err: err}}
	}
	size := stat.Size()
	if size < FooterSize {
		return nil, &core.OpenError{Path: path, Err: &core.FormatError{Path: path, Offset: size, Err: core.ErrTruncated}}
	}

	data, err := sys.Mmap(f, size)
	if err != nil {
		return nil, &core.OpenError{Path: path, Err: &core.IOError{Op: "mmap", Path: path, Err: err}}
	}
	mapped := sys.IsMapped(f)
	if opts.madviseRandom() && mapped {
		if err := sys.MadviseRandom(data); err != nil {
			opts.Logger.Warn("madvise(MADV_RANDOM) failed", "path", path, "error", err)
		}
	}

	r, err = newReader(path, data, mapped, opts)
	if err != nil {
		_ = sys.Munmap(data, mapped)
		return nil, &core.OpenError{Path: path, Err: err}
	}
	r.logger.Debug("Opened sstable",
		"size_bytes", size,
		"entries", r.meta.EntryCount,
		"data_blocks", r.meta.DataBlockCount,
		"compression", r.meta.Compression.String(),
		"mapped", mapped)
	return r, nil
}

// OpenBytes returns a Reader over an in-memory file image. data must not be
// modified while the Reader is in use.
func OpenBytes(data []byte, opts ReaderOptions) (*Reader, error) {
	opts.applyDefaults()
	r, err := newReader("", data, false, opts)
	if err != nil {
		return nil, &core.OpenError{Path: "<memory>", Err: err}
	}
	return r, nil
}

func newReader(path string, data []byte, mapped bool, opts ReaderOptions) (*Reader, error) {
	size := int64(len(data))
	if size < FooterSize {
		return nil, &core.FormatError{Path: path, Offset: size, Err: core.ErrTruncated}
	}
	meta, err := decodeFooter(data[size-FooterSize:], size)
	if err != nil {
		return nil, &core.FormatError{Path: path, Offset: size - FooterSize, Err: err}
	}

	raw, err := readFrame(data[:size-FooterSize], meta.IndexOffset)
	if err != nil {
		return nil, &core.FormatError{Path: path, Offset: int64(meta.IndexOffset), Err: err}
	}
	index, err := DeserializeIndex(raw, meta.IndexOffset)
	if err != nil {
		var ce *core.ChecksumError
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, ce
		}
		return nil, &core.FormatError{Path: path, Offset: int64(meta.IndexOffset), Err: err}
	}
	if uint64(index.Len()) != meta.DataBlockCount {
		return nil, &core.FormatError{Path: path, Offset: int64(meta.IndexOffset),
			Err: fmt.Errorf("%w: index lists %d blocks, footer says %d", core.ErrCorrupted, index.Len(), meta.DataBlockCount)}
	}
	compressor, err := GetCompressor(meta.Compression)
	if err != nil {
		return nil, &core.FormatError{Path: path, Offset: size - FooterSize, Err: err}
	}

	logger := opts.Logger
	if path != "" {
		logger = logger.With("path", path)
	}
	r := &Reader{
		path:       path,
		data:       data,
		mapped:     mapped,
		size:       size,
		meta:       meta,
		index:      index,
		compressor: compressor,
		verify:     opts.VerifyChecksums,
		tracer:     opts.Tracer,
		logger:     logger,
	}
	if opts.BlockCacheSize > 0 {
		r.blockCache = cache.NewLRUCache[uint64, *block](opts.BlockCacheSize, nil)
		r.blockCache.SetMetrics(new(expvar.Int), new(expvar.Int))
	}
	r.refs.Store(1)
	return r, nil
}

// readFrame returns the payload of the uvarint-framed block at offset.
func readFrame(region []byte, offset uint64) ([]byte, error) {
	if offset >= uint64(len(region)) {
		return nil, fmt.Errorf("%w: block offset %d beyond %d", core.ErrTruncated, offset, len(region))
	}
	frame := region[offset:]
	n, hdr := binary.Uvarint(frame)
	if hdr <= 0 {
		return nil, fmt.Errorf("%w: bad block length at offset %d", core.ErrCorrupted, offset)
	}
	if n > uint64(len(frame)-hdr) {
		return nil, fmt.Errorf("%w: block at offset %d needs %d bytes, %d available", core.ErrTruncated, offset, n, len(frame)-hdr)
	}
	return frame[hdr : hdr+int(n)], nil
}

// acquire takes a reference on the image for the duration of an operation.
func (r *Reader) acquire() bool {
	if r.closed.Load() {
		return false
	}
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *Reader) release() error {
	if r.refs.Add(-1) != 0 {
		return nil
	}
	if r.blockCache != nil {
		r.blockCache.Clear()
	}
	if err := sys.Munmap(r.data, r.mapped); err != nil {
		r.logger.Warn("munmap failed", "error", err)
		return &core.IOError{Op: "munmap", Path: r.path, Err: err}
	}
	return nil
}

// readBlock loads and decodes the data block at offset, consulting the block
// cache first.
func (r *Reader) readBlock(offset uint64) (*block, error) {
	if r.blockCache != nil {
		if b, ok := r.blockCache.Get(offset); ok {
			return b, nil
		}
	}
	stored, err := readFrame(r.data[:r.meta.IndexOffset], offset)
	if err != nil {
		return nil, &core.FormatError{Path: r.path, Offset: int64(offset), Err: err}
	}
	raw, err := r.compressor.Decompress(nil, stored)
	if err != nil {
		return nil, &core.FormatError{Path: r.path, Offset: int64(offset), Err: fmt.Errorf("%w: %v", core.ErrCorrupted, err)}
	}
	if r.verify {
		expected, actual, err := verifyBlockChecksum(raw)
		if err != nil {
			return nil, &core.FormatError{Path: r.path, Offset: int64(offset), Err: err}
		}
		if expected != actual {
			return nil, &core.ChecksumError{Path: r.path, Offset: int64(offset), Expected: expected, Actual: actual}
		}
	}
	b, err := decodeBlock(raw)
	if err != nil {
		return nil, &core.FormatError{Path: r.path, Offset: int64(offset), Err: err}
	}
	if r.blockCache != nil {
		r.blockCache.Put(offset, b)
	}
	return b, nil
}

// Get returns a copy of the value stored under key, or core.ErrNotFound.
func (r *Reader) Get(key []byte) (value []byte, err error) {
	if !r.acquire() {
		return nil, core.ErrClosed
	}
	defer r.release()

	var span trace.Span
	if r.tracer != nil {
		_, span = r.tracer.Start(context.Background(), "sstable.Reader.Get")
		span.SetAttributes(attribute.String("sstable.path", r.path))
		defer func() {
			if err != nil && !errors.Is(err, core.ErrNotFound) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.SetAttributes(attribute.Bool("sstable.found", err == nil))
			span.End()
		}()
	}

	pos := r.index.Find(key)
	if pos >= r.index.Len() {
		return nil, core.ErrNotFound
	}
	entry := r.index.Entry(pos)
	if span != nil {
		span.AddEvent("block_lookup", trace.WithAttributes(
			attribute.Int("sstable.block.index", pos),
			attribute.Int64("sstable.block.offset", int64(entry.BlockOffset))))
	}
	b, err := r.readBlock(entry.BlockOffset)
	if err != nil {
		return nil, err
	}
	it := b.iterator()
	if it.seek(key) && bytes.Equal(it.key, key) {
		return append([]byte(nil), it.value...), nil
	}
	if err := it.Error(); err != nil {
		return nil, &core.FormatError{Path: r.path, Offset: int64(entry.BlockOffset), Err: err}
	}
	return nil, core.ErrNotFound
}

// NewIterator returns an iterator over every entry.
func (r *Reader) NewIterator() core.Iterator {
	return newTableIterator(r, nil, nil, nil)
}

// NewPrefixIterator returns an iterator over the entries whose key starts
// with prefix.
func (r *Reader) NewPrefixIterator(prefix []byte) core.Iterator {
	return newTableIterator(r, prefix, nil, prefix)
}

// NewRangeIterator returns an iterator over the entries with lo <= key <= hi.
// A nil bound is open.
func (r *Reader) NewRangeIterator(lo, hi []byte) core.Iterator {
	return newTableIterator(r, lo, hi, nil)
}

// Metadata returns the statistics recorded by the writer.
func (r *Reader) Metadata() Metadata { return r.meta }

// Len returns the number of entries in the file.
func (r *Reader) Len() uint64 { return r.meta.EntryCount }

func (r *Reader) CompressionType() core.CompressionType { return r.meta.Compression }

func (r *Reader) BlockSize() uint64 { return r.meta.BlockSize }

func (r *Reader) RestartInterval() uint64 { return r.meta.RestartInterval }

// BlockCacheHitRate returns the fraction of block reads served from the
// block cache, or 0 when caching is disabled.
func (r *Reader) BlockCacheHitRate() float64 {
	if r.blockCache == nil {
		return 0
	}
	return r.blockCache.GetHitRate()
}

// Path returns the file path, or "" for OpenBytes readers.
func (r *Reader) Path() string { return r.path }

// Size returns the file size in bytes.
func (r *Reader) Size() int64 { return r.size }

// VerifyIntegrity decodes and checksums every data block regardless of the
// VerifyChecksums option.
func (r *Reader) VerifyIntegrity() error {
	if !r.acquire() {
		return core.ErrClosed
	}
	defer r.release()
	for i := 0; i < r.index.Len(); i++ {
		offset := r.index.Entry(i).BlockOffset
		stored, err := readFrame(r.data[:r.meta.IndexOffset], offset)
		if err != nil {
			return &core.FormatError{Path: r.path, Offset: int64(offset), Err: err}
		}
		raw, err := r.compressor.Decompress(nil, stored)
		if err != nil {
			return &core.FormatError{Path: r.path, Offset: int64(offset), Err: fmt.Errorf("%w: %v", core.ErrCorrupted, err)}
		}
		expected, actual, err := verifyBlockChecksum(raw)
		if err != nil {
			return &core.FormatError{Path: r.path, Offset: int64(offset), Err: err}
		}
		if expected != actual {
			return &core.ChecksumError{Path: r.path, Offset: int64(offset), Expected: expected, Actual: actual}
		}
	}
	return nil
}

// Close marks the reader closed. New operations fail with core.ErrClosed;
// the image is released once outstanding iterators finish. Close is
// idempotent.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.release()
}
