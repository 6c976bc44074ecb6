package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/nexustable/core"
	"github.com/klauspost/compress/zlib"
)

// ZlibCompressor implements the Compressor interface using zlib (RFC 1950).
// Writers are pooled because each one carries a sizeable deflate state.
type ZlibCompressor struct {
	level      int
	writerPool sync.Pool
	readerPool sync.Pool
}

var _ core.Compressor = (*ZlibCompressor)(nil)

// NewZlibCompressor returns a compressor using zlib.DefaultCompression.
func NewZlibCompressor() *ZlibCompressor {
	return NewZlibCompressorLevel(zlib.DefaultCompression)
}

func NewZlibCompressorLevel(level int) *ZlibCompressor {
	return &ZlibCompressor{level: level}
}

func (c *ZlibCompressor) getWriter(w io.Writer) (*zlib.Writer, error) {
	if zw, ok := c.writerPool.Get().(*zlib.Writer); ok {
		zw.Reset(w)
		return zw, nil
	}
	return zlib.NewWriterLevel(w, c.level)
}

func (c *ZlibCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressTo compresses src data into the dst buffer using zlib.
func (c *ZlibCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	zw, err := c.getWriter(dst)
	if err != nil {
		return fmt.Errorf("zlib writer error: %w", err)
	}
	if _, err := zw.Write(src); err != nil {
		_ = zw.Close()
		return fmt.Errorf("zlib compress write error: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zlib compress close error: %w", err)
	}
	c.writerPool.Put(zw)
	return nil
}

func (c *ZlibCompressor) Decompress(dst, src []byte) ([]byte, error) {
	br := bytes.NewReader(src)
	var zr io.ReadCloser
	if pooled, ok := c.readerPool.Get().(io.ReadCloser); ok {
		if err := pooled.(zlib.Resetter).Reset(br, nil); err != nil {
			return nil, fmt.Errorf("zlib decompress error: %w", err)
		}
		zr = pooled
	} else {
		r, err := zlib.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zlib decompress error: %w", err)
		}
		zr = r
	}

	out := bytes.NewBuffer(dst[:0])
	if _, err := out.ReadFrom(zr); err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("zlib decompress error: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, fmt.Errorf("zlib decompress error: %w", err)
	}
	c.readerPool.Put(zr)
	return out.Bytes(), nil
}

func (c *ZlibCompressor) Type() core.CompressionType {
	return core.CompressionZlib
}
