package core

import (
	"bytes"
	"fmt"
	"strings"
)

// CompressionType identifies the compression algorithm applied to data blocks.
// It is stored in the file footer so a reader knows how to decompress.
// The numeric values are part of the file format and must never change.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionZlib   CompressionType = 2
	CompressionLZ4    CompressionType = 3
	CompressionLZ4HC  CompressionType = 4
	CompressionZSTD   CompressionType = 5
)

// Compressor defines the interface for compression and decompression algorithms.
type Compressor interface {
	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)
	CompressTo(dst *bytes.Buffer, src []byte) error
	// Decompress decompresses src, appending to dst[:0]. The result may share
	// dst's backing array.
	Decompress(dst, src []byte) ([]byte, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionZlib:
		return "zlib"
	case CompressionLZ4:
		return "lz4"
	case CompressionLZ4HC:
		return "lz4hc"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// Valid reports whether ct is one of the known algorithms.
func (ct CompressionType) Valid() bool {
	return ct <= CompressionZSTD
}

// ParseCompressionType maps a configuration name such as "zlib" or "lz4hc"
// to its CompressionType. Matching is case-insensitive.
func ParseCompressionType(name string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "zlib":
		return CompressionZlib, nil
	case "lz4":
		return CompressionLZ4, nil
	case "lz4hc":
		return CompressionLZ4HC, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
}

// Entry is a single key/value pair. Keys are ordered by bytes.Compare.
type Entry struct {
	Key   []byte
	Value []byte
}

// MergeFunc resolves two values stored under the same key. a is the value
// that arrived first, b the one that arrived later. Implementations must not
// retain or modify a or b; the returned slice is owned by the caller.
type MergeFunc func(key, a, b []byte) []byte

const (
	// ChecksumSize is the size of the xxhash64 checksum trailing every block.
	ChecksumSize = 8
)
