package dedup

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
)

// CompressionKind selects the compression codec used for stored chunks.
type CompressionKind int

const (
	CompressionNone CompressionKind = iota
	CompressionZstd
	CompressionLZ4
)

// CompressionMode pairs a codec with its level (zstd only).
type CompressionMode struct {
	Kind  CompressionKind
	Level int
}

// DefaultCompressionMode is zstd at a balanced level.
func DefaultCompressionMode() CompressionMode {
	return CompressionMode{Kind: CompressionZstd, Level: 3}
}

type storedChunk struct {
	hash           [32]byte
	originalSize   int
	compressedData []byte
	compression    CompressionMode
	refCount       uint32
	storedAt       time.Time
}

// ChunkStore is a concurrent, compressed store of unique content chunks.
// Chunks are keyed by their SHA-256 hash; storing the same hash twice
// increments a reference count instead of duplicating storage.
type ChunkStore struct {
	mu          sync.RWMutex
	chunks      map[[32]byte]*storedChunk
	compression CompressionMode

	totalStoredBytes   atomic.Uint64
	totalOriginalBytes atomic.Uint64
	uniqueCount        atomic.Uint64
}

// NewChunkStore creates an empty store using the given compression mode.
func NewChunkStore(compression CompressionMode) *ChunkStore {
	return &ChunkStore{
		chunks:      make(map[[32]byte]*storedChunk),
		compression: compression,
	}
}

// StoreChunk stores data under hash if not already present, returning the
// compressed size. If hash is already stored, its reference count is
// incremented and stored is false.
func (s *ChunkStore) StoreChunk(hash [32]byte, data []byte) (compressedSize int, stored bool, err error) {
	s.mu.Lock()
	if existing, found := s.chunks[hash]; found {
		existing.refCount++
		s.mu.Unlock()
		return 0, false, nil
	}
	s.mu.Unlock()

	compressed, err := s.compressData(data)
	if err != nil {
		return 0, false, err
	}

	chunk := &storedChunk{
		hash:           hash,
		originalSize:   len(data),
		compressedData: compressed,
		compression:    s.compression,
		refCount:       1,
		storedAt:       time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, found := s.chunks[hash]; found {
		// Lost a race with a concurrent StoreChunk: treat as duplicate.
		existing.refCount++
		return 0, false, nil
	}
	s.chunks[hash] = chunk
	s.totalStoredBytes.Add(uint64(len(compressed)))
	s.totalOriginalBytes.Add(uint64(len(data)))
	s.uniqueCount.Add(1)
	return len(compressed), true, nil
}

// Contains reports whether hash is present in the store.
func (s *ChunkStore) Contains(hash [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chunks[hash]
	return ok
}

// IncrementRef bumps the reference count of an already-stored chunk.
func (s *ChunkStore) IncrementRef(hash [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunks[hash]; ok {
		c.refCount++
	}
}

// GetChunk retrieves and decompresses a stored chunk.
func (s *ChunkStore) GetChunk(hash [32]byte) ([]byte, error) {
	s.mu.RLock()
	chunk, ok := s.chunks[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, herrors.New(herrors.DedupFailed, "chunk_store.get_chunk",
			herrors.WithContext("reason", fmt.Sprintf("chunk not found: %x", hash)))
	}
	return s.decompressData(chunk.compressedData, chunk.compression)
}

// ReleaseChunk decrements a chunk's reference count, removing it from the
// store once the count reaches zero. Returns true if the chunk was removed.
func (s *ChunkStore) ReleaseChunk(hash [32]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[hash]
	if !ok {
		return false
	}
	if c.refCount <= 1 {
		delete(s.chunks, hash)
		s.totalStoredBytes.Add(-uint64(len(c.compressedData)))
		s.totalOriginalBytes.Add(-uint64(c.originalSize))
		s.uniqueCount.Add(^uint64(0))
		return true
	}
	c.refCount--
	return false
}

// TotalStoredBytes returns the total compressed bytes stored.
func (s *ChunkStore) TotalStoredBytes() uint64 { return s.totalStoredBytes.Load() }

// TotalOriginalBytes returns the total uncompressed bytes of stored chunks.
func (s *ChunkStore) TotalOriginalBytes() uint64 { return s.totalOriginalBytes.Load() }

// UniqueChunks returns the number of unique chunks in the store.
func (s *ChunkStore) UniqueChunks() uint64 { return s.uniqueCount.Load() }

// CompressionRatio is compressed/original bytes; lower is better.
func (s *ChunkStore) CompressionRatio() float64 {
	original := s.totalOriginalBytes.Load()
	if original == 0 {
		return 1
	}
	return float64(s.totalStoredBytes.Load()) / float64(original)
}

func (s *ChunkStore) compressData(data []byte) ([]byte, error) {
	switch s.compression.Kind {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(s.compression.Level)))
		if err != nil {
			return nil, herrors.Wrap(herrors.DedupFailed, "chunk_store.compress", nil, err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, herrors.Wrap(herrors.DedupFailed, "chunk_store.compress", nil, err)
		}
		if err := w.Close(); err != nil {
			return nil, herrors.Wrap(herrors.DedupFailed, "chunk_store.compress", nil, err)
		}
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}

func (s *ChunkStore) decompressData(data []byte, mode CompressionMode) ([]byte, error) {
	switch mode.Kind {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, herrors.Wrap(herrors.DedupFailed, "chunk_store.decompress", nil, err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, herrors.Wrap(herrors.DedupFailed, "chunk_store.decompress", nil, err)
		}
		return out, nil
	default:
		return data, nil
	}
}
