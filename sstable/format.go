package sstable

// format.go: file layout constants, footer and metadata encoding.
//
// File layout:
//
//	+---------+---------+---------+-------------+--------------+
//	| block 1 |   ...   | block n | index block | footer (96B) |
//	+---------+---------+---------+-------------+--------------+
//
// Every block (data or index) is framed as:
//
//	+----------------------+-------------------------------------+
//	| stored len (uvarint) | stored bytes (compressed for data)  |
//	+----------------------+-------------------------------------+
//
// Uncompressed block contents:
//
//	+---------+-----+---------+--------------------+----------------+-------------------+
//	| entry 1 | ... | entry n | restarts (u32 LE)* | count (u32 LE) | xxhash64 (u64 LE) |
//	+---------+-----+---------+--------------------+----------------+-------------------+
//
// Entry:
//
//	+-----------------+-------------------+--------------------+--------------+-------+
//	| shared (varint) | unshared (varint) | value len (varint) | key[shared:] | value |
//	+-----------------+-------------------+--------------------+--------------+-------+
//
// The index block is an ordinary block, never compressed, mapping the last
// key of each data block to the block's offset (uvarint value).

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/nexustable/core"
	"github.com/cespare/xxhash/v2"
)

const (
	// Magic identifies the file format ("NXTB").
	Magic uint32 = 0x4E585442
	// FormatVersion is the only footer version this package reads and writes.
	FormatVersion uint32 = 1
	// FooterSize is the fixed size of the trailing footer.
	FooterSize = 96

	footerChecksumOffset = 80
	footerVersionOffset  = 88
	footerMagicOffset    = 92
)

const (
	// DefaultBlockSize specifies the target uncompressed size of data blocks in bytes.
	DefaultBlockSize = 8 * 1024
	// DefaultRestartInterval specifies how often a restart point is stored.
	DefaultRestartInterval = 16
	// DefaultCompression is the codec used by DefaultWriterOptions.
	DefaultCompression = core.CompressionZlib
)

// Metadata summarizes a file. It is computed by the Writer and stored in the
// footer so a Reader can answer statistics queries without scanning.
type Metadata struct {
	IndexOffset     uint64
	BlockSize       uint64
	Compression     core.CompressionType
	EntryCount      uint64
	DataBlockCount  uint64
	DataBlockBytes  uint64
	IndexBlockBytes uint64
	KeyBytes        uint64
	ValueBytes      uint64
	RestartInterval uint64
	Version         uint32
}

// encodeFooter serializes m into a FooterSize byte slice.
func encodeFooter(m Metadata) []byte {
	buf := make([]byte, FooterSize)
	le := binary.LittleEndian
	le.PutUint64(buf[0:], m.IndexOffset)
	le.PutUint64(buf[8:], m.BlockSize)
	le.PutUint64(buf[16:], uint64(m.Compression))
	le.PutUint64(buf[24:], m.EntryCount)
	le.PutUint64(buf[32:], m.DataBlockCount)
	le.PutUint64(buf[40:], m.DataBlockBytes)
	le.PutUint64(buf[48:], m.IndexBlockBytes)
	le.PutUint64(buf[56:], m.KeyBytes)
	le.PutUint64(buf[64:], m.ValueBytes)
	le.PutUint64(buf[72:], m.RestartInterval)
	le.PutUint64(buf[footerChecksumOffset:], xxhash.Sum64(buf[:footerChecksumOffset]))
	le.PutUint32(buf[footerVersionOffset:], FormatVersion)
	le.PutUint32(buf[footerMagicOffset:], Magic)
	return buf
}

// decodeFooter parses and validates the trailing footer of a file of
// fileSize bytes. Errors wrap core.ErrBadMagic, core.ErrBadVersion,
// core.ErrCorrupted or core.ErrUnknownCompression.
func decodeFooter(buf []byte, fileSize int64) (Metadata, error) {
	var m Metadata
	if len(buf) != FooterSize {
		return m, core.ErrTruncated
	}
	le := binary.LittleEndian
	if magic := le.Uint32(buf[footerMagicOffset:]); magic != Magic {
		return m, fmt.Errorf("%w: got %#08x", core.ErrBadMagic, magic)
	}
	m.Version = le.Uint32(buf[footerVersionOffset:])
	if m.Version != FormatVersion {
		return m, fmt.Errorf("%w: %d", core.ErrBadVersion, m.Version)
	}
	if sum := xxhash.Sum64(buf[:footerChecksumOffset]); sum != le.Uint64(buf[footerChecksumOffset:]) {
		return m, fmt.Errorf("%w: footer checksum mismatch", core.ErrCorrupted)
	}

	m.IndexOffset = le.Uint64(buf[0:])
	m.BlockSize = le.Uint64(buf[8:])
	compression := le.Uint64(buf[16:])
	m.EntryCount = le.Uint64(buf[24:])
	m.DataBlockCount = le.Uint64(buf[32:])
	m.DataBlockBytes = le.Uint64(buf[40:])
	m.IndexBlockBytes = le.Uint64(buf[48:])
	m.KeyBytes = le.Uint64(buf[56:])
	m.ValueBytes = le.Uint64(buf[64:])
	m.RestartInterval = le.Uint64(buf[72:])

	if compression > 0xff || !core.CompressionType(compression).Valid() {
		return m, fmt.Errorf("%w: %d", core.ErrUnknownCompression, compression)
	}
	m.Compression = core.CompressionType(compression)

	indexEnd := uint64(fileSize - FooterSize)
	if m.IndexOffset > indexEnd || m.IndexBlockBytes > indexEnd || m.IndexOffset+m.IndexBlockBytes != indexEnd {
		return m, fmt.Errorf("%w: index block [%d,+%d) does not end at footer offset %d",
			core.ErrCorrupted, m.IndexOffset, m.IndexBlockBytes, indexEnd)
	}
	if m.DataBlockBytes != m.IndexOffset {
		return m, fmt.Errorf("%w: data block bytes %d do not match index offset %d",
			core.ErrCorrupted, m.DataBlockBytes, m.IndexOffset)
	}
	return m, nil
}
