package compressors

import (
	"bytes"

	"github.com/INLOpen/nexustable/core"
)

// NoCompressionCompressor implements the Compressor interface without performing compression.
type NoCompressionCompressor struct{}

var _ core.Compressor = (*NoCompressionCompressor)(nil)

func (c *NoCompressionCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil // Return data as is
}

// Decompress returns src itself. The caller must not modify it.
func (c *NoCompressionCompressor) Decompress(_, src []byte) ([]byte, error) {
	return src, nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType {
	return core.CompressionNone
}

// CompressTo "compresses" src data into the dst buffer by simply writing it.
// This avoids the allocation of a new slice that Compress() does.
func (c *NoCompressionCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}
