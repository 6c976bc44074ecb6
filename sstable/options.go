package sstable

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/INLOpen/nexustable/core"
	"go.opentelemetry.io/otel/trace"
)

// MadviseRandomEnv forces the random-access read hint on ("1", "true", "yes",
// "on") or off ("0", "false", "no", "off") regardless of ReaderOptions.
const MadviseRandomEnv = "NEXUSTABLE_MADVISE_RANDOM"

// WriterOptions configures a Writer. A zero BlockSize or RestartInterval
// selects the default. Compression is taken as given; its zero value is
// core.CompressionNone, so start from DefaultWriterOptions to get zlib.
type WriterOptions struct {
	Compression     core.CompressionType
	BlockSize       int
	RestartInterval int

	Logger *slog.Logger
	Tracer trace.Tracer
}

// DefaultWriterOptions returns zlib compression, 8 KiB blocks and a restart
// point every 16 keys.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		Compression:     DefaultCompression,
		BlockSize:       DefaultBlockSize,
		RestartInterval: DefaultRestartInterval,
	}
}

func (o *WriterOptions) applyDefaults() error {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.RestartInterval == 0 {
		o.RestartInterval = DefaultRestartInterval
	}
	if o.BlockSize < 0 {
		return fmt.Errorf("invalid block size %d", o.BlockSize)
	}
	if o.RestartInterval < 0 {
		return fmt.Errorf("invalid restart interval %d", o.RestartInterval)
	}
	if !o.Compression.Valid() {
		return fmt.Errorf("%w: %d", core.ErrUnknownCompression, o.Compression)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "sstable_writer")
	return nil
}

// ReaderOptions configures a Reader. The zero value is valid.
type ReaderOptions struct {
	// VerifyChecksums checks every data block against its stored checksum as
	// it is read. The index block is always verified.
	VerifyChecksums bool
	// MadviseRandom hints the kernel that the mapping will be accessed
	// randomly. MadviseRandomEnv overrides it.
	MadviseRandom bool
	// BlockCacheSize is the number of decoded blocks kept in an LRU cache.
	// Zero disables caching.
	BlockCacheSize int

	Logger *slog.Logger
	Tracer trace.Tracer
}

func (o *ReaderOptions) applyDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "sstable_reader")
}

// madviseRandom resolves the effective read hint.
func (o *ReaderOptions) madviseRandom() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(MadviseRandomEnv))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return o.MadviseRandom
}
