package sstable

import (
	"testing"

	"github.com/INLOpen/nexustable/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndex(entries ...BlockIndexEntry) []byte {
	ib := newIndexBuilder(DefaultRestartInterval)
	for _, e := range entries {
		ib.Add(e.LastKey, e.BlockOffset)
	}
	return append([]byte(nil), ib.Build()...)
}

func TestIndex_FindAndDecode(t *testing.T) {
	raw := buildIndex(
		BlockIndexEntry{LastKey: []byte("apple"), BlockOffset: 0},
		BlockIndexEntry{LastKey: []byte("grape"), BlockOffset: 120},
		BlockIndexEntry{LastKey: []byte("peach"), BlockOffset: 260},
	)
	idx, err := DeserializeIndex(raw, 400)
	require.NoError(t, err)
	require.Equal(t, 3, idx.Len())
	assert.Equal(t, uint64(120), idx.Entry(1).BlockOffset)
	assert.Equal(t, "peach", string(idx.Entry(2).LastKey))

	testCases := []struct {
		key  string
		want int
	}{
		{"", 0},
		{"apple", 0},
		{"banana", 1},
		{"grape", 1},
		{"kiwi", 2},
		{"peach", 2},
		{"zucchini", 3},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, idx.Find([]byte(tc.key)), "Find(%q)", tc.key)
	}
}

func TestIndex_Empty(t *testing.T) {
	idx, err := DeserializeIndex(buildIndex(), 0)
	require.NoError(t, err)
	assert.Zero(t, idx.Len())
	assert.Zero(t, idx.Find([]byte("anything")))
}

func TestIndex_Corruption(t *testing.T) {
	t.Run("checksum", func(t *testing.T) {
		raw := buildIndex(BlockIndexEntry{LastKey: []byte("a"), BlockOffset: 0})
		raw[1] ^= 0xff
		_, err := DeserializeIndex(raw, 100)
		assert.True(t, core.IsChecksumError(err), "got %v", err)
	})

	t.Run("offsets not increasing", func(t *testing.T) {
		raw := buildIndex(
			BlockIndexEntry{LastKey: []byte("a"), BlockOffset: 0},
			BlockIndexEntry{LastKey: []byte("b"), BlockOffset: 0},
		)
		_, err := DeserializeIndex(raw, 100)
		assert.ErrorIs(t, err, core.ErrCorrupted)
	})

	t.Run("offset outside data region", func(t *testing.T) {
		raw := buildIndex(
			BlockIndexEntry{LastKey: []byte("a"), BlockOffset: 0},
			BlockIndexEntry{LastKey: []byte("b"), BlockOffset: 100},
		)
		_, err := DeserializeIndex(raw, 100)
		assert.ErrorIs(t, err, core.ErrCorrupted)
	})

	t.Run("first block not at zero", func(t *testing.T) {
		raw := buildIndex(BlockIndexEntry{LastKey: []byte("a"), BlockOffset: 10})
		_, err := DeserializeIndex(raw, 100)
		assert.ErrorIs(t, err, core.ErrCorrupted)
	})
}
