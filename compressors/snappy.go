package compressors

import (
	"bytes"
	"fmt"

	"github.com/INLOpen/nexustable/core"
	"github.com/golang/snappy"
)

// SnappyCompressor implements the Compressor interface using Snappy block encoding.
type SnappyCompressor struct{}

var _ core.Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *SnappyCompressor) Decompress(dst, src []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	// A snappy copy op expands at most 64 bytes out of 3, so anything larger
	// is a corrupt length header.
	if n > 32*len(src)+32 {
		return nil, fmt.Errorf("snappy decompress error: %w", snappy.ErrCorrupt)
	}
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	decompressed, err := snappy.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return decompressed, nil
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}

// CompressTo compresses src data into the dst buffer using Snappy.
func (c *SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Grow(snappy.MaxEncodedLen(len(src)))
	// Encode into the buffer's spare capacity to avoid a second copy.
	out := dst.AvailableBuffer()[:snappy.MaxEncodedLen(len(src))]
	compressed := snappy.Encode(out, src)
	dst.Write(compressed)
	return nil
}
