package dedup

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkStoreNewChunkIsStored(t *testing.T) {
	store := NewChunkStore(DefaultCompressionMode())
	data := []byte("some chunk content, repeated to survive compression overhead")
	hash := sha256.Sum256(data)

	size, stored, err := store.StoreChunk(hash, data)
	require.NoError(t, err)
	require.True(t, stored)
	require.Greater(t, size, 0)
	require.True(t, store.Contains(hash))
	require.EqualValues(t, 1, store.UniqueChunks())
}

func TestChunkStoreDuplicateIncrementsRef(t *testing.T) {
	store := NewChunkStore(DefaultCompressionMode())
	data := []byte("duplicate content")
	hash := sha256.Sum256(data)

	_, stored, err := store.StoreChunk(hash, data)
	require.NoError(t, err)
	require.True(t, stored)

	_, stored, err = store.StoreChunk(hash, data)
	require.NoError(t, err)
	require.False(t, stored)
	require.EqualValues(t, 1, store.UniqueChunks())
}

func TestChunkStoreRoundTripZstd(t *testing.T) {
	store := NewChunkStore(CompressionMode{Kind: CompressionZstd, Level: 3})
	data := []byte("roundtrip this through zstd please, with enough bytes to compress")
	hash := sha256.Sum256(data)

	_, _, err := store.StoreChunk(hash, data)
	require.NoError(t, err)

	got, err := store.GetChunk(hash)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestChunkStoreRoundTripLZ4(t *testing.T) {
	store := NewChunkStore(CompressionMode{Kind: CompressionLZ4})
	data := []byte("roundtrip this through lz4 please, with enough bytes to compress")
	hash := sha256.Sum256(data)

	_, _, err := store.StoreChunk(hash, data)
	require.NoError(t, err)

	got, err := store.GetChunk(hash)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestChunkStoreReleaseChunk(t *testing.T) {
	store := NewChunkStore(DefaultCompressionMode())
	data := []byte("release me")
	hash := sha256.Sum256(data)

	_, _, err := store.StoreChunk(hash, data)
	require.NoError(t, err)
	store.IncrementRef(hash)

	require.False(t, store.ReleaseChunk(hash))
	require.True(t, store.Contains(hash))

	require.True(t, store.ReleaseChunk(hash))
	require.False(t, store.Contains(hash))
}

func TestChunkStoreGetMissingChunk(t *testing.T) {
	store := NewChunkStore(DefaultCompressionMode())
	_, err := store.GetChunk(sha256.Sum256([]byte("never stored")))
	require.Error(t, err)
}
