package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFastCDCBasicChunking(t *testing.T) {
	chunker, err := NewFastCDCChunker(DefaultChunkConfig())
	require.NoError(t, err)

	data := make([]byte, 100_000)
	chunks := chunker.Chunk(data)
	require.NotEmpty(t, chunks)

	totalLen := 0
	offset := 0
	for _, c := range chunks {
		require.Equal(t, offset, c.Offset)
		totalLen += c.Length
		offset += c.Length
	}
	require.Equal(t, len(data), totalLen)
}

func TestFastCDCChunkSizeBounds(t *testing.T) {
	config := DefaultChunkConfig()
	chunker, err := NewFastCDCChunker(config)
	require.NoError(t, err)

	data := make([]byte, 500_000)
	for i := range data {
		h := uint32(i) * 2654435761
		data[i] = byte(h >> 16)
	}

	chunks := chunker.Chunk(data)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		if i < len(chunks)-1 {
			require.GreaterOrEqual(t, c.Length, config.MinSize)
		}
		require.LessOrEqual(t, c.Length, config.MaxSize)
	}
}

func TestFastCDCEmptyInput(t *testing.T) {
	chunker, err := NewFastCDCChunker(DefaultChunkConfig())
	require.NoError(t, err)
	require.Empty(t, chunker.Chunk(nil))
}

func TestFastCDCDeterministic(t *testing.T) {
	chunker, err := NewFastCDCChunker(ChunkConfigForContainerLayers())
	require.NoError(t, err)

	data := make([]byte, 200_000)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}

	a := chunker.Chunk(data)
	b := chunker.Chunk(data)
	require.Equal(t, a, b)
}

func TestChunkConfigValidation(t *testing.T) {
	_, err := NewFastCDCChunker(ChunkConfig{MinSize: 0, AvgSize: 10, MaxSize: 20, Normalization: 1})
	require.Error(t, err)

	_, err = NewFastCDCChunker(ChunkConfig{MinSize: 10, AvgSize: 10, MaxSize: 20, Normalization: 1})
	require.Error(t, err)

	_, err = NewFastCDCChunker(ChunkConfig{MinSize: 10, AvgSize: 20, MaxSize: 20, Normalization: 1})
	require.Error(t, err)

	_, err = NewFastCDCChunker(ChunkConfig{MinSize: 10, AvgSize: 20, MaxSize: 40, Normalization: 0})
	require.Error(t, err)
}

func TestChunkConfigPresets(t *testing.T) {
	layers := ChunkConfigForContainerLayers()
	require.Equal(t, 1024, layers.MinSize)
	require.Equal(t, uint(2), layers.Normalization)

	blobs := ChunkConfigForLargeBlobs()
	require.Equal(t, 16384, blobs.AvgSize)
}
