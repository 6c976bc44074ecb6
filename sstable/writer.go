package sstable

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/nexustable/core"
	"github.com/INLOpen/nexustable/sys"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// writeBufferSize is the bufio buffer placed in front of file sinks.
const writeBufferSize = 256 * 1024

// Writer builds a file from entries added in strictly increasing key order.
// It is not safe for concurrent use.
type Writer struct {
	sink   io.Writer
	bufw   *bufio.Writer
	file   sys.FileHandle // set when the writer owns a file created by Create
	path   string         // final path for Create
	tmp    string         // temporary path renamed to path on Close
	offset uint64

	opts       WriterOptions
	compressor core.Compressor
	data       *blockBuilder
	index      *IndexBuilder
	lastKey    []byte
	hasLast    bool
	meta       Metadata
	closed     bool
	err        error // sticky write failure
	closeErr   error // returned again by later Close calls

	tracer trace.Tracer
	logger *slog.Logger
}

// NewWriter returns a Writer emitting to w, which must be positioned at the
// start of the destination: block offsets are counted from the first byte
// written, so w cannot be appended to an existing file. The caller owns w;
// Close does not close it.
func NewWriter(w io.Writer, opts WriterOptions) (*Writer, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	compressor, err := GetCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}
	return &Writer{
		sink:       w,
		opts:       opts,
		compressor: compressor,
		data:       newBlockBuilder(opts.RestartInterval),
		index:      newIndexBuilder(opts.RestartInterval),
		meta: Metadata{
			BlockSize:       uint64(opts.BlockSize),
			Compression:     opts.Compression,
			RestartInterval: uint64(opts.RestartInterval),
			Version:         FormatVersion,
		},
		tracer: opts.Tracer,
		logger: opts.Logger,
	}, nil
}

// Create returns a Writer for the file at path. Data goes to path+".tmp"
// which is renamed to path only after a successful Close, so an abandoned or
// failed writer never leaves a file without its index and footer at path.
func Create(path string, opts WriterOptions) (*Writer, error) {
	tmp := path + ".tmp"
	f, err := sys.Create(tmp)
	if err != nil {
		return nil, &core.IOError{Op: "create", Path: tmp, Err: err}
	}
	bufw := bufio.NewWriterSize(f, writeBufferSize)
	w, err := NewWriter(bufw, opts)
	if err != nil {
		_ = f.Close()
		_ = sys.Remove(tmp)
		return nil, err
	}
	w.bufw = bufw
	w.file = f
	w.path = path
	w.tmp = tmp
	w.logger = w.logger.With("path", path)
	return w, nil
}

// Add appends an entry. key must be strictly greater than the previously
// added key; otherwise an *OrderingError is returned and nothing is written,
// leaving the writer usable.
func (w *Writer) Add(key, value []byte) error {
	if w.closed {
		return core.ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if w.hasLast && bytes.Compare(key, w.lastKey) <= 0 {
		return &core.OrderingError{
			Key:      append([]byte(nil), key...),
			Previous: append([]byte(nil), w.lastKey...),
		}
	}

	w.data.add(key, value)
	w.lastKey = append(w.lastKey[:0], key...)
	w.hasLast = true
	w.meta.EntryCount++
	w.meta.KeyBytes += uint64(len(key))
	w.meta.ValueBytes += uint64(len(value))

	if w.data.estimatedSize() >= w.opts.BlockSize {
		if err := w.flushBlock(); err != nil {
			w.err = err
			return err
		}
	}
	return nil
}

// AddAll adds every entry of it in order and closes it. It stops at the
// first error, which may be an *OrderingError.
func (w *Writer) AddAll(it core.Iterator) (err error) {
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()
	for it.Next() {
		k, v := it.At()
		if err := w.Add(k, v); err != nil {
			return err
		}
	}
	return it.Error()
}

// Len returns the number of entries added so far.
func (w *Writer) Len() uint64 { return w.meta.EntryCount }

// LastKey returns the most recently added key, or nil.
func (w *Writer) LastKey() []byte {
	if !w.hasLast {
		return nil
	}
	return w.lastKey
}

// Metadata returns the statistics accumulated so far. After Close it matches
// the footer.
func (w *Writer) Metadata() Metadata { return w.meta }

// flushBlock compresses the current data block, writes it and records an
// index entry for it.
func (w *Writer) flushBlock() error {
	if w.data.empty() {
		return nil
	}
	raw := w.data.finish()

	compressedBuf := core.BufferPool.Get()
	defer core.BufferPool.Put(compressedBuf)
	if err := w.compressor.CompressTo(compressedBuf, raw); err != nil {
		return fmt.Errorf("failed to compress block: %w", err)
	}

	blockOffset := w.offset
	n, err := w.writeFrame(compressedBuf.Bytes())
	if err != nil {
		return err
	}
	w.index.Add(w.data.lastKey, blockOffset)
	w.meta.DataBlockCount++
	w.meta.DataBlockBytes += n

	w.logger.Debug("Flushed block",
		"offset", blockOffset,
		"num_entries", w.data.numEntries,
		"uncompressed_len", len(raw),
		"disk_len", n)
	w.data.reset()
	return nil
}

// writeFrame writes a uvarint length followed by payload.
func (w *Writer) writeFrame(payload []byte) (uint64, error) {
	var hdr [binary.MaxVarintLen64]byte
	hn := binary.PutUvarint(hdr[:], uint64(len(payload)))
	if err := w.write(hdr[:hn]); err != nil {
		return 0, err
	}
	if err := w.write(payload); err != nil {
		return 0, err
	}
	return uint64(hn + len(payload)), nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.sink.Write(p)
	w.offset += uint64(n)
	if err != nil {
		return &core.IOError{Op: "write", Path: w.tmp, Err: err}
	}
	return nil
}

// Close flushes the final block, writes the index and footer and, for
// writers from Create, syncs and renames the file into place. Calling Close
// again returns the result of the first call. If Close fails the output must
// be treated as invalid; for Create nothing is left at the final path.
func (w *Writer) Close() (err error) {
	if w.closed {
		return w.closeErr
	}
	w.closed = true

	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "sstable.Writer.Close")
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	if err = w.finish(); err != nil {
		w.logger.Error("Failed to finalize sstable", "error", err)
		err = errors.Join(err, w.cleanup())
		w.closeErr = err
		return err
	}
	if span != nil {
		span.SetAttributes(
			attribute.Int64("sstable.entries", int64(w.meta.EntryCount)),
			attribute.Int64("sstable.data_blocks", int64(w.meta.DataBlockCount)),
			attribute.Int64("sstable.size_bytes", int64(w.offset)),
			attribute.String("sstable.compression", w.meta.Compression.String()),
		)
	}
	w.logger.Debug("Finalized sstable",
		"entries", w.meta.EntryCount,
		"data_blocks", w.meta.DataBlockCount,
		"size_bytes", w.offset)
	return nil
}

func (w *Writer) finish() error {
	if w.err != nil {
		return w.err
	}
	if err := w.flushBlock(); err != nil {
		return err
	}

	w.meta.IndexOffset = w.offset
	n, err := w.writeFrame(w.index.Build())
	if err != nil {
		return err
	}
	w.meta.IndexBlockBytes = n
	if err := w.write(encodeFooter(w.meta)); err != nil {
		return err
	}

	if w.bufw != nil {
		if err := w.bufw.Flush(); err != nil {
			return &core.IOError{Op: "flush", Path: w.tmp, Err: err}
		}
	}
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return &core.IOError{Op: "sync", Path: w.tmp, Err: err}
	}
	f := w.file
	w.file = nil
	if err := f.Close(); err != nil {
		return &core.IOError{Op: "close", Path: w.tmp, Err: err}
	}
	if err := sys.Rename(w.tmp, w.path); err != nil {
		return &core.IOError{Op: "rename", Path: w.tmp, Err: err}
	}
	return nil
}

// cleanup closes and removes the temporary file of a writer from Create.
func (w *Writer) cleanup() error {
	if w.tmp == "" {
		return nil
	}
	var errs []error
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			errs = append(errs, &core.IOError{Op: "close", Path: w.tmp, Err: err})
		}
		w.file = nil
	}
	if err := sys.Remove(w.tmp); err != nil {
		errs = append(errs, &core.IOError{Op: "remove", Path: w.tmp, Err: err})
	}
	return errors.Join(errs...)
}

// Abort discards the writer. For writers from Create the temporary file is
// removed and nothing appears at the final path. Abort after a successful
// Close is a no-op.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.cleanup()
}
