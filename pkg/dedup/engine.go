package dedup

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/cuemby/hyperbox/pkg/log"
)

// Default bloom filter sizing: 1M expected chunks at 1% FPR (~1.2MB).
const (
	DefaultBloomExpected = 1_000_000
	DefaultBloomFPR      = 0.01
)

// DedupResult is the outcome of deduplicating a single layer.
type DedupResult struct {
	TotalChunks      int
	NewChunks        int
	DuplicateChunks  int
	OriginalSize     uint64
	StoredSize       uint64
	DedupRatio       float64
	ChunkHashes      [][32]byte
	ProcessingTime   time.Duration
}

// DedupStats accumulates deduplication statistics across all layers
// processed by a ChunkDeduplicator.
type DedupStats struct {
	TotalBytesProcessed  uint64
	TotalBytesStored     uint64
	TotalChunksSeen      uint64
	UniqueChunks         uint64
	DuplicateChunks      uint64
	BloomChecks          uint64
	BloomFalsePositives  uint64
	LayersProcessed      uint64
	AverageChunkSize     float64
	DedupRatio           float64
	CompressionRatio     float64
}

// ChunkDeduplicator combines FastCDC chunking, a bloom filter gate, and a
// compressed chunk store to deduplicate container image layers.
type ChunkDeduplicator struct {
	chunker *FastCDCChunker

	mu    sync.RWMutex
	bloom *BloomFilter
	store *ChunkStore
	stats DedupStats
}

// NewChunkDeduplicator creates a deduplicator using the default bloom
// filter sizing and compression mode.
func NewChunkDeduplicator(config ChunkConfig) (*ChunkDeduplicator, error) {
	return NewChunkDeduplicatorWithOptions(config, DefaultCompressionMode(), DefaultBloomExpected, DefaultBloomFPR)
}

// NewChunkDeduplicatorWithCompression creates a deduplicator with a custom
// compression mode, using default bloom filter sizing.
func NewChunkDeduplicatorWithCompression(config ChunkConfig, compression CompressionMode) (*ChunkDeduplicator, error) {
	return NewChunkDeduplicatorWithOptions(config, compression, DefaultBloomExpected, DefaultBloomFPR)
}

// NewChunkDeduplicatorWithOptions creates a fully customized deduplicator.
func NewChunkDeduplicatorWithOptions(config ChunkConfig, compression CompressionMode, expectedChunks int, fpr float64) (*ChunkDeduplicator, error) {
	chunker, err := NewFastCDCChunker(config)
	if err != nil {
		return nil, err
	}
	bloom := NewBloomFilter(expectedChunks, fpr)
	store := NewChunkStore(compression)

	logger := log.WithComponent("dedup")
	logger.Info().
		Int("bloom_memory_kb", bloom.MemoryBytes()/1024).
		Uint32("bloom_hashes", bloom.numHashes).
		Int("expected_chunks", expectedChunks).
		Float64("fpr", fpr).
		Msg("initialized chunk deduplicator")

	return &ChunkDeduplicator{chunker: chunker, bloom: bloom, store: store}, nil
}

// ProcessLayer splits data into chunks, checks each against the bloom
// filter and chunk store, and stores only new chunks.
func (d *ChunkDeduplicator) ProcessLayer(layerID string, data []byte) (DedupResult, error) {
	start := time.Now()
	logger := log.WithComponent("dedup")
	logger.Info().Str("layer_id", layerID).Int("data_len", len(data)).Msg("processing layer for deduplication")

	boundaries := d.chunker.Chunk(data)
	chunkHashes := make([][32]byte, 0, len(boundaries))
	var newChunks, dupChunks int
	var newStoredBytes uint64

	for _, boundary := range boundaries {
		chunkData := data[boundary.Offset : boundary.Offset+boundary.Length]
		hash := sha256.Sum256(chunkData)
		chunkHashes = append(chunkHashes, hash)

		d.mu.RLock()
		mightExist := d.bloom.PossiblyContains(hash)
		d.mu.RUnlock()

		d.mu.Lock()
		d.stats.BloomChecks++
		d.mu.Unlock()

		if mightExist && d.store.Contains(hash) {
			d.store.IncrementRef(hash)
			dupChunks++
			continue
		}

		if mightExist {
			d.mu.Lock()
			d.stats.BloomFalsePositives++
			d.mu.Unlock()
		}

		compressedSize, stored, err := d.store.StoreChunk(hash, chunkData)
		if err != nil {
			return DedupResult{}, err
		}
		if stored {
			d.mu.Lock()
			d.bloom.Insert(hash)
			d.mu.Unlock()
			newChunks++
			newStoredBytes += uint64(compressedSize)
		} else {
			// Lost a race with a concurrent insert of the same hash.
			dupChunks++
		}
	}

	d.mu.Lock()
	d.stats.TotalBytesProcessed += uint64(len(data))
	d.stats.TotalBytesStored += newStoredBytes
	d.stats.TotalChunksSeen += uint64(len(boundaries))
	d.stats.UniqueChunks += uint64(newChunks)
	d.stats.DuplicateChunks += uint64(dupChunks)
	d.stats.LayersProcessed++
	if d.stats.TotalChunksSeen > 0 {
		d.stats.AverageChunkSize = float64(d.stats.TotalBytesProcessed) / float64(d.stats.TotalChunksSeen)
		d.stats.DedupRatio = 1 - float64(d.stats.UniqueChunks)/float64(d.stats.TotalChunksSeen)
	}
	d.stats.CompressionRatio = d.store.CompressionRatio()
	d.mu.Unlock()

	totalChunks := len(boundaries)
	dedupRatio := 0.0
	if totalChunks > 0 {
		dedupRatio = float64(dupChunks) / float64(totalChunks)
	}

	logger.Info().
		Str("layer_id", layerID).
		Int("total_chunks", totalChunks).
		Int("new_chunks", newChunks).
		Int("dup_chunks", dupChunks).
		Float64("dedup_ratio", dedupRatio).
		Dur("elapsed", time.Since(start)).
		Msg("layer deduplication complete")

	return DedupResult{
		TotalChunks:     totalChunks,
		NewChunks:       newChunks,
		DuplicateChunks: dupChunks,
		OriginalSize:    uint64(len(data)),
		StoredSize:      newStoredBytes,
		DedupRatio:      dedupRatio,
		ChunkHashes:     chunkHashes,
		ProcessingTime:  time.Since(start),
	}, nil
}

// ProcessLayers processes multiple layers in sequence.
func (d *ChunkDeduplicator) ProcessLayers(layers map[string][]byte) (map[string]DedupResult, error) {
	results := make(map[string]DedupResult, len(layers))
	for id, data := range layers {
		result, err := d.ProcessLayer(id, data)
		if err != nil {
			return nil, err
		}
		results[id] = result
	}
	return results, nil
}

// Stats returns a snapshot of cumulative statistics.
func (d *ChunkDeduplicator) Stats() DedupStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// BloomMemoryBytes returns the bloom filter's memory footprint.
func (d *ChunkDeduplicator) BloomMemoryBytes() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bloom.MemoryBytes()
}

// BloomEstimatedFPR returns the bloom filter's current estimated FPR.
func (d *ChunkDeduplicator) BloomEstimatedFPR() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bloom.EstimatedFPR()
}

// UniqueChunks returns the number of unique chunks in the store.
func (d *ChunkDeduplicator) UniqueChunks() uint64 {
	return d.store.UniqueChunks()
}

// GetChunk retrieves a chunk's original data by its hash.
func (d *ChunkDeduplicator) GetChunk(hash [32]byte) ([]byte, error) {
	return d.store.GetChunk(hash)
}

// ResetStats zeroes cumulative statistics.
func (d *ChunkDeduplicator) ResetStats() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = DedupStats{}
}
