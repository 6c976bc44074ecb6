package sstable

// index.go: the sparse block index, built by the writer and kept resident by
// the reader.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/INLOpen/nexustable/core"
)

// BlockIndexEntry points to a data block.
type BlockIndexEntry struct {
	LastKey     []byte // The last key in the block
	BlockOffset uint64 // Offset of the block frame in the file
}

// IndexBuilder collects one entry per flushed data block and encodes them
// as an index block.
type IndexBuilder struct {
	block   *blockBuilder
	entries int
	scratch [binary.MaxVarintLen64]byte
}

func newIndexBuilder(restartInterval int) *IndexBuilder {
	return &IndexBuilder{block: newBlockBuilder(restartInterval)}
}

// Add records a newly written data block. Blocks are added in file order,
// so last keys arrive strictly increasing.
func (ib *IndexBuilder) Add(lastKey []byte, blockOffset uint64) {
	n := binary.PutUvarint(ib.scratch[:], blockOffset)
	ib.block.add(lastKey, ib.scratch[:n])
	ib.entries++
}

// Build returns the uncompressed index block.
func (ib *IndexBuilder) Build() []byte {
	return ib.block.finish()
}

// Index is the decoded, in-memory index of a file.
type Index struct {
	entries []BlockIndexEntry
}

// DeserializeIndex decodes an uncompressed index block. The checksum is
// always verified because the index is read once per open.
func DeserializeIndex(raw []byte, dataEnd uint64) (*Index, error) {
	expected, actual, err := verifyBlockChecksum(raw)
	if err != nil {
		return nil, err
	}
	if expected != actual {
		return nil, &core.ChecksumError{Expected: expected, Actual: actual, Offset: int64(dataEnd)}
	}
	b, err := decodeBlock(raw)
	if err != nil {
		return nil, err
	}

	idx := &Index{}
	it := b.iterator()
	var prevOffset uint64
	for it.next() {
		offset, n := binary.Uvarint(it.value)
		if n <= 0 || n != len(it.value) {
			return nil, fmt.Errorf("%w: invalid block offset in index entry %d", core.ErrCorrupted, len(idx.entries))
		}
		if offset >= dataEnd || (len(idx.entries) > 0 && offset <= prevOffset) {
			return nil, fmt.Errorf("%w: index entry %d points to offset %d outside the data region", core.ErrCorrupted, len(idx.entries), offset)
		}
		if len(idx.entries) > 0 && bytes.Compare(it.key, idx.entries[len(idx.entries)-1].LastKey) <= 0 {
			return nil, fmt.Errorf("%w: index keys are not strictly increasing at entry %d", core.ErrCorrupted, len(idx.entries))
		}
		idx.entries = append(idx.entries, BlockIndexEntry{
			LastKey:     append([]byte(nil), it.key...),
			BlockOffset: offset,
		})
		prevOffset = offset
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	if len(idx.entries) > 0 && idx.entries[0].BlockOffset != 0 {
		return nil, fmt.Errorf("%w: first data block does not start at offset 0", core.ErrCorrupted)
	}
	return idx, nil
}

// Find returns the position of the first block whose last key is >= key,
// or Len() if key is past the last block.
func (idx *Index) Find(key []byte) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].LastKey, key) >= 0
	})
}

// Len returns the number of indexed blocks.
func (idx *Index) Len() int { return len(idx.entries) }

// Entry returns the i-th index entry.
func (idx *Index) Entry(i int) BlockIndexEntry { return idx.entries[i] }
