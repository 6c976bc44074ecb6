package sstable

import (
	"fmt"

	"github.com/INLOpen/nexustable/compressors"
	"github.com/INLOpen/nexustable/core"
)

// Compressors are stateless or internally synchronized, so one instance per
// algorithm is shared by every writer and reader.
var (
	noneCompressor   = &compressors.NoCompressionCompressor{}
	snappyCompressor = compressors.NewSnappyCompressor()
	zlibCompressor   = compressors.NewZlibCompressor()
	lz4Compressor    = compressors.NewLz4Compressor()
	lz4hcCompressor  = compressors.NewLz4HCCompressor()
	zstdCompressor   = compressors.NewZstdCompressor()
)

// GetCompressor returns the Compressor for a CompressionType.
func GetCompressor(compressionType core.CompressionType) (core.Compressor, error) {
	switch compressionType {
	case core.CompressionNone:
		return noneCompressor, nil
	case core.CompressionSnappy:
		return snappyCompressor, nil
	case core.CompressionZlib:
		return zlibCompressor, nil
	case core.CompressionLZ4:
		return lz4Compressor, nil
	case core.CompressionLZ4HC:
		return lz4hcCompressor, nil
	case core.CompressionZSTD:
		return zstdCompressor, nil
	default:
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownCompression, compressionType)
	}
}
