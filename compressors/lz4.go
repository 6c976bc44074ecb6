package compressors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/INLOpen/nexustable/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// maxLZ4DecodedSize bounds the length prefix so a corrupt frame cannot
// trigger an enormous allocation. LZ4 cannot expand input by more than 255x
// either, which Decompress also checks.
const maxLZ4DecodedSize = 1 << 30

var errLZ4Frame = errors.New("lz4: invalid frame")

// LZ4Compressor implements the Compressor interface using LZ4 block
// compression. With HighCompression set it produces LZ4HC output, which
// decodes with the same routine.
//
// The pierrec/lz4 block format does not record the decoded size, so every
// frame starts with the uncompressed length as a uvarint.
type LZ4Compressor struct {
	HighCompression bool
	Level           lz4.CompressionLevel
}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

// NewLz4HCCompressor returns a compressor producing LZ4HC output at level 9.
func NewLz4HCCompressor() *LZ4Compressor {
	return &LZ4Compressor{HighCompression: true, Level: lz4.Level9}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressTo compresses src data into the dst buffer.
func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	bound := lz4.CompressBlockBound(len(src))
	dst.Grow(binary.MaxVarintLen64 + bound)

	out := binary.AppendUvarint(dst.AvailableBuffer(), uint64(len(src)))
	hdr := len(out)
	out = out[:hdr+bound]

	var (
		n   int
		err error
	)
	if c.HighCompression {
		n, err = lz4.CompressBlockHC(src, out[hdr:], c.Level, nil, nil)
	} else {
		n, err = lz4.CompressBlock(src, out[hdr:], nil)
	}
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(src) > 0 {
		return fmt.Errorf("lz4 compression resulted in zero bytes for non-empty input")
	}
	dst.Write(out[:hdr+n])
	return nil
}

func (c *LZ4Compressor) Decompress(dst, src []byte) ([]byte, error) {
	size, hdr := binary.Uvarint(src)
	if hdr <= 0 || size > maxLZ4DecodedSize || size > uint64(255*len(src)+64) {
		return nil, errLZ4Frame
	}
	if size == 0 {
		return dst[:0], nil
	}
	if uint64(cap(dst)) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	n, err := lz4.UncompressBlock(src[hdr:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("%w: decoded %d bytes, header says %d", errLZ4Frame, n, size)
	}
	return dst, nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	if c.HighCompression {
		return core.CompressionLZ4HC
	}
	return core.CompressionLZ4
}
