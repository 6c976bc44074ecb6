package compressors

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/INLOpen/nexustable/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCompressors() []core.Compressor {
	return []core.Compressor{
		&NoCompressionCompressor{},
		NewSnappyCompressor(),
		NewZlibCompressor(),
		NewLz4Compressor(),
		NewLz4HCCompressor(),
		NewZstdCompressor(),
	}
}

func TestCompressors_RoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	random := make([]byte, 8192)
	rnd.Read(random)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "simple string", data: []byte("hello world, this is a test of the block compressor")},
		{name: "repetitive data", data: bytes.Repeat([]byte("a"), 1024)},
		{name: "empty data", data: []byte{}},
		{name: "random data", data: random},
	}

	for _, compressor := range allCompressors() {
		compressor := compressor
		t.Run(compressor.Type().String(), func(t *testing.T) {
			for _, tc := range testCases {
				t.Run(tc.name, func(t *testing.T) {
					compressed, err := compressor.Compress(tc.data)
					require.NoError(t, err)

					decompressed, err := compressor.Decompress(nil, compressed)
					require.NoError(t, err)
					assert.Equal(t, len(tc.data), len(decompressed))
					assert.True(t, bytes.Equal(tc.data, decompressed), "Compress/Decompress round trip mismatch")

					var buf bytes.Buffer
					buf.WriteString("stale contents")
					require.NoError(t, compressor.CompressTo(&buf, tc.data))
					reused := make([]byte, 0, 16)
					decompressed, err = compressor.Decompress(reused, buf.Bytes())
					require.NoError(t, err)
					assert.True(t, bytes.Equal(tc.data, decompressed), "CompressTo/Decompress round trip mismatch")
				})
			}
		})
	}
}

func TestCompressors_ReduceRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte("key-00000001 value-00000001 "), 256)
	for _, compressor := range allCompressors() {
		if compressor.Type() == core.CompressionNone {
			continue
		}
		compressed, err := compressor.Compress(data)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(data)/4, "%s should shrink repetitive data", compressor.Type())
	}
}

func TestCompressors_RejectGarbage(t *testing.T) {
	garbage := []byte{0x05, 0xff, 0xff, 0xff}
	for _, compressor := range allCompressors() {
		if compressor.Type() == core.CompressionNone {
			continue
		}
		_, err := compressor.Decompress(nil, garbage)
		assert.Error(t, err, "%s must reject garbage input", compressor.Type())
	}
}

func TestCompressors_ConcurrentUse(t *testing.T) {
	data := bytes.Repeat([]byte("concurrent block payload "), 200)
	for _, compressor := range allCompressors() {
		compressor := compressor
		t.Run(compressor.Type().String(), func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 16)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					var buf bytes.Buffer
					for j := 0; j < 20; j++ {
						if err := compressor.CompressTo(&buf, data); err != nil {
							errs <- err
							return
						}
						out, err := compressor.Decompress(nil, buf.Bytes())
						if err != nil {
							errs <- err
							return
						}
						if !bytes.Equal(out, data) {
							errs <- assert.AnError
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent round trip failed: %v", err)
			}
		})
	}
}
