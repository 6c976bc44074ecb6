package compressors

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/INLOpen/nexustable/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements the Compressor interface using Zstandard.
// The encoder and decoder are created lazily and shared; EncodeAll and
// DecodeAll are safe for concurrent use.
type ZstdCompressor struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{}
}

func (c *ZstdCompressor) init() error {
	c.once.Do(func() {
		c.encoder, c.initErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if c.initErr != nil {
			return
		}
		c.decoder, c.initErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(100*1024*1024))
	})
	return c.initErr
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd init error: %w", err)
	}
	return c.encoder.EncodeAll(data, nil), nil
}

// CompressTo compresses src data into the dst buffer using ZSTD.
func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	if err := c.init(); err != nil {
		return fmt.Errorf("zstd init error: %w", err)
	}
	dst.Reset()
	dst.Write(c.encoder.EncodeAll(src, dst.AvailableBuffer()))
	return nil
}

func (c *ZstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("zstd init error: %w", err)
	}
	out, err := c.decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	return out, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
