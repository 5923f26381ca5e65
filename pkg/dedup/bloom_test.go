package dedup

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBloomFilterBasic(t *testing.T) {
	bloom := NewBloomFilter(1000, 0.01)
	hashA := sha256.Sum256([]byte("hello world"))
	hashB := sha256.Sum256([]byte("goodbye world"))

	require.False(t, bloom.PossiblyContains(hashA))
	require.False(t, bloom.PossiblyContains(hashB))

	bloom.Insert(hashA)
	require.True(t, bloom.PossiblyContains(hashA))
	require.EqualValues(t, 1, bloom.ItemsCount())

	bloom.Insert(hashB)
	require.True(t, bloom.PossiblyContains(hashA))
	require.True(t, bloom.PossiblyContains(hashB))
	require.EqualValues(t, 2, bloom.ItemsCount())
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	bloom := NewBloomFilter(10000, 0.01)
	hashes := make([][32]byte, 0, 1000)

	for i := uint32(0); i < 1000; i++ {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], i)
		h := sha256.Sum256(buf[:])
		bloom.Insert(h)
		hashes = append(hashes, h)
	}

	for _, h := range hashes {
		require.True(t, bloom.PossiblyContains(h), "false negative detected")
	}
}

func TestBloomFilterFPRReasonable(t *testing.T) {
	bloom := NewBloomFilter(10000, 0.01)
	for i := uint32(0); i < 10000; i++ {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], i)
		bloom.Insert(sha256.Sum256(buf[:]))
	}

	falsePositives := 0
	for i := uint32(10000); i < 20000; i++ {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], i)
		if bloom.PossiblyContains(sha256.Sum256(buf[:])) {
			falsePositives++
		}
	}

	fpr := float64(falsePositives) / 10000.0
	require.Less(t, fpr, 0.03)
}

func TestBloomFilterMemorySize(t *testing.T) {
	bloom := NewBloomFilter(1_000_000, 0.01)
	memoryKB := bloom.MemoryBytes() / 1024
	require.Greater(t, memoryKB, 1000)
	require.Less(t, memoryKB, 1500)
}

func TestBloomFilterClear(t *testing.T) {
	bloom := NewBloomFilter(100, 0.01)
	hash := sha256.Sum256([]byte("test"))
	bloom.Insert(hash)
	require.True(t, bloom.PossiblyContains(hash))

	bloom.Clear()
	require.False(t, bloom.PossiblyContains(hash))
	require.Zero(t, bloom.ItemsCount())
}
