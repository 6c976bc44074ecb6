package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/INLOpen/nexustable/core"
	"github.com/cespare/xxhash/v2"
)

// blockTrailerSize is the restart count plus the checksum.
const blockTrailerSize = 4 + core.ChecksumSize

// blockBuilder accumulates sorted entries into the uncompressed block format
// described in format.go. Keys must be added in strictly increasing order;
// the Writer enforces that before calling add.
type blockBuilder struct {
	buf             bytes.Buffer
	restartInterval int
	restarts        []uint32
	counter         int // entries since the last restart point
	numEntries      int
	lastKey         []byte
	scratch         [3 * binary.MaxVarintLen64]byte
}

func newBlockBuilder(restartInterval int) *blockBuilder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &blockBuilder{restartInterval: restartInterval}
}

// add appends an entry, resetting prefix compression at every restart point.
func (b *blockBuilder) add(key, value []byte) {
	shared := 0
	if b.numEntries == 0 || b.counter >= b.restartInterval {
		b.restarts = append(b.restarts, uint32(b.buf.Len()))
		b.counter = 0
	} else {
		shared = sharedPrefixLen(b.lastKey, key)
	}

	hdr := binary.PutUvarint(b.scratch[:], uint64(shared))
	hdr += binary.PutUvarint(b.scratch[hdr:], uint64(len(key)-shared))
	hdr += binary.PutUvarint(b.scratch[hdr:], uint64(len(value)))
	b.buf.Write(b.scratch[:hdr])
	b.buf.Write(key[shared:])
	b.buf.Write(value)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
	b.numEntries++
}

// estimatedSize returns the size finish would produce.
func (b *blockBuilder) estimatedSize() int {
	return b.buf.Len() + 4*len(b.restarts) + blockTrailerSize
}

func (b *blockBuilder) empty() bool { return b.numEntries == 0 }

// finish appends the restart table and checksum and returns the complete
// uncompressed block. The slice is only valid until the next reset.
func (b *blockBuilder) finish() []byte {
	var tmp [8]byte
	for _, offset := range b.restarts {
		binary.LittleEndian.PutUint32(tmp[:4], offset)
		b.buf.Write(tmp[:4])
	}
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(b.restarts)))
	b.buf.Write(tmp[:4])
	binary.LittleEndian.PutUint64(tmp[:], xxhash.Sum64(b.buf.Bytes()))
	b.buf.Write(tmp[:])
	return b.buf.Bytes()
}

func (b *blockBuilder) reset() {
	b.buf.Reset()
	b.restarts = b.restarts[:0]
	b.counter = 0
	b.numEntries = 0
	b.lastKey = b.lastKey[:0]
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// verifyBlockChecksum compares the stored checksum of an uncompressed block
// with its contents.
func verifyBlockChecksum(raw []byte) (expected, actual uint64, err error) {
	if len(raw) < blockTrailerSize {
		return 0, 0, fmt.Errorf("%w: block of %d bytes is shorter than its trailer", core.ErrTruncated, len(raw))
	}
	body := raw[:len(raw)-core.ChecksumSize]
	expected = binary.LittleEndian.Uint64(raw[len(body):])
	actual = xxhash.Sum64(body)
	return expected, actual, nil
}

// block is a decoded, uncompressed block. It is immutable and may be shared
// by concurrent iterators.
type block struct {
	entries  []byte
	restarts []uint32
}

// decodeBlock validates the trailer of an uncompressed block. It does not
// verify the checksum; callers do that with verifyBlockChecksum when enabled.
func decodeBlock(raw []byte) (*block, error) {
	if len(raw) < blockTrailerSize {
		return nil, fmt.Errorf("%w: block of %d bytes is shorter than its trailer", core.ErrTruncated, len(raw))
	}
	payload := raw[:len(raw)-core.ChecksumSize]
	numRestarts := binary.LittleEndian.Uint32(payload[len(payload)-4:])
	restartTableSize := uint64(numRestarts)*4 + 4
	if uint64(len(payload)) < restartTableSize {
		return nil, fmt.Errorf("%w: restart table of %d entries exceeds block size %d", core.ErrCorrupted, numRestarts, len(raw))
	}
	entriesEnd := len(payload) - int(restartTableSize)
	b := &block{
		entries:  payload[:entriesEnd],
		restarts: make([]uint32, numRestarts),
	}
	if numRestarts == 0 && entriesEnd != 0 {
		return nil, fmt.Errorf("%w: non-empty block without restart points", core.ErrCorrupted)
	}
	table := payload[entriesEnd : len(payload)-4]
	prev := -1
	for i := range b.restarts {
		offset := binary.LittleEndian.Uint32(table[i*4:])
		if int64(offset) >= int64(entriesEnd) || int(offset) <= prev || (i == 0 && offset != 0) {
			return nil, fmt.Errorf("%w: invalid restart offset %d", core.ErrCorrupted, offset)
		}
		b.restarts[i] = offset
		prev = int(offset)
	}
	return b, nil
}

// iterator returns a new cursor positioned before the first entry.
func (b *block) iterator() *blockIterator {
	return &blockIterator{b: b}
}

// blockIterator decodes entries on demand. It is not safe for concurrent use.
type blockIterator struct {
	b      *block
	offset int // offset of the next entry to decode
	key    []byte
	value  []byte
	err    error
}

// next decodes the entry at the current offset.
func (it *blockIterator) next() bool {
	if it.err != nil || it.offset >= len(it.b.entries) {
		return false
	}
	data := it.b.entries[it.offset:]

	shared, n1 := binary.Uvarint(data)
	if n1 <= 0 {
		return it.corrupt("shared key length")
	}
	unshared, n2 := binary.Uvarint(data[n1:])
	if n2 <= 0 {
		return it.corrupt("unshared key length")
	}
	valueLen, n3 := binary.Uvarint(data[n1+n2:])
	if n3 <= 0 {
		return it.corrupt("value length")
	}
	hdr := n1 + n2 + n3
	rest := uint64(len(data) - hdr)
	if shared > uint64(len(it.key)) || unshared > rest || valueLen > rest-unshared {
		return it.corrupt("entry bounds")
	}

	keyEnd := hdr + int(unshared)
	it.key = append(it.key[:shared], data[hdr:keyEnd]...)
	it.value = data[keyEnd : keyEnd+int(valueLen)]
	it.offset += keyEnd + int(valueLen)
	return true
}

func (it *blockIterator) corrupt(field string) bool {
	it.err = fmt.Errorf("%w: block entry at offset %d has an invalid %s", core.ErrCorrupted, it.offset, field)
	return false
}

// seekToRestart positions the iterator so that next decodes the entry at
// restart point i.
func (it *blockIterator) seekToRestart(i int) {
	it.offset = int(it.b.restarts[i])
	it.key = it.key[:0]
	it.value = nil
}

// restartKey decodes the full key stored at restart point i without moving
// the iterator.
func (it *blockIterator) restartKey(i int) ([]byte, error) {
	probe := blockIterator{b: it.b, offset: int(it.b.restarts[i])}
	if !probe.next() {
		if probe.err != nil {
			return nil, probe.err
		}
		return nil, fmt.Errorf("%w: empty restart point %d", core.ErrCorrupted, i)
	}
	return probe.key, nil
}

// seek positions the iterator on the first entry whose key is >= target and
// reports whether one exists. The current entry is then available through
// key and value; the following call to next moves past it.
func (it *blockIterator) seek(target []byte) bool {
	if len(it.b.restarts) == 0 {
		return false
	}
	// Find the first restart point whose key is > target. Everything before
	// it starts at a key <= target, so the scan begins one restart earlier.
	var searchErr error
	idx := sort.Search(len(it.b.restarts), func(i int) bool {
		if searchErr != nil {
			return true
		}
		k, err := it.restartKey(i)
		if err != nil {
			searchErr = err
			return true
		}
		return bytes.Compare(k, target) > 0
	})
	if searchErr != nil {
		it.err = searchErr
		return false
	}
	if idx > 0 {
		idx--
	}
	it.seekToRestart(idx)
	for it.next() {
		if bytes.Compare(it.key, target) >= 0 {
			return true
		}
	}
	return false
}

// Error returns any error encountered during iteration.
func (it *blockIterator) Error() error { return it.err }
