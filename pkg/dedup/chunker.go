package dedup

import (
	"math/bits"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
)

// Default chunk sizing, tuned for general-purpose layer content.
const (
	DefaultMinChunk      = 2048
	DefaultAvgChunk      = 8192
	DefaultMaxChunk      = 65536
	DefaultNormalization = 1
)

// gearTable is a splitmix64-mixed table, one 64-bit word per byte value,
// used by the rolling hash to spread byte values across the hash space.
var gearTable = generateGearTable()

func generateGearTable() [256]uint64 {
	var table [256]uint64
	for i := 0; i < 256; i++ {
		h := uint64(i)
		h *= 0x9E3779B97F4A7C15
		h ^= h >> 30
		h *= 0xBF58476D1CE4E5B9
		h ^= h >> 27
		h *= 0x94D049BB133111EB
		h ^= h >> 31
		table[i] = h
	}
	return table
}

// ChunkConfig configures FastCDC content-defined chunking.
type ChunkConfig struct {
	// MinSize is the minimum chunk size in bytes.
	MinSize int
	// AvgSize is the target average chunk size in bytes.
	AvgSize int
	// MaxSize is the maximum chunk size in bytes.
	MaxSize int
	// Normalization controls how tightly chunk sizes cluster around
	// AvgSize (1-3; higher means more uniform chunks).
	Normalization uint
}

// DefaultChunkConfig returns the general-purpose chunking configuration.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MinSize:       DefaultMinChunk,
		AvgSize:       DefaultAvgChunk,
		MaxSize:       DefaultMaxChunk,
		Normalization: DefaultNormalization,
	}
}

// ChunkConfigForContainerLayers favors a high dedup ratio on the small,
// repetitive files typical of container image layers.
func ChunkConfigForContainerLayers() ChunkConfig {
	return ChunkConfig{MinSize: 1024, AvgSize: 4096, MaxSize: 32768, Normalization: 2}
}

// ChunkConfigForLargeBlobs favors throughput over dedup ratio for large,
// mostly-unique binary content.
func ChunkConfigForLargeBlobs() ChunkConfig {
	return ChunkConfig{MinSize: 4096, AvgSize: 16384, MaxSize: 131072, Normalization: 1}
}

func (c ChunkConfig) validate() error {
	if c.MinSize <= 0 {
		return herrors.New(herrors.DedupFailed, "chunk_config.validate", herrors.WithContext("reason", "min_size must be > 0"))
	}
	if c.AvgSize <= c.MinSize {
		return herrors.New(herrors.DedupFailed, "chunk_config.validate", herrors.WithContext("reason", "avg_size must be > min_size"))
	}
	if c.MaxSize <= c.AvgSize {
		return herrors.New(herrors.DedupFailed, "chunk_config.validate", herrors.WithContext("reason", "max_size must be > avg_size"))
	}
	if c.Normalization == 0 || c.Normalization > 3 {
		return herrors.New(herrors.DedupFailed, "chunk_config.validate", herrors.WithContext("reason", "normalization must be 1-3"))
	}
	return nil
}

// ChunkBoundary is a chunk identified by the FastCDC algorithm.
type ChunkBoundary struct {
	Offset int
	Length int
}

// FastCDCChunker splits data into variable-size chunks at content-defined
// boundaries using a gear-based rolling hash. Chunk boundaries are stable
// across insertions and deletions elsewhere in the stream, which is what
// gives content-defined chunking its dedup advantage over fixed-size
// chunking.
type FastCDCChunker struct {
	config ChunkConfig
	maskS  uint64 // min..avg range: more bits set, harder to match
	maskL  uint64 // avg..max range: fewer bits set, easier to match
}

// NewFastCDCChunker builds a chunker for the given configuration.
func NewFastCDCChunker(config ChunkConfig) (*FastCDCChunker, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	avgBits := uint(bits.Len(uint(config.AvgSize)) - 1)
	maskS := (uint64(1) << (avgBits + config.Normalization)) - 1
	var maskL uint64
	if avgBits > config.Normalization {
		maskL = (uint64(1) << (avgBits - config.Normalization)) - 1
	} else {
		maskL = 0
	}

	return &FastCDCChunker{config: config, maskS: maskS, maskL: maskL}, nil
}

// Config returns the chunking configuration in effect.
func (c *FastCDCChunker) Config() ChunkConfig {
	return c.config
}

// Chunk splits data into chunk boundaries covering the entire input.
func (c *FastCDCChunker) Chunk(data []byte) []ChunkBoundary {
	if len(data) == 0 {
		return nil
	}

	var boundaries []ChunkBoundary
	offset := 0
	for offset < len(data) {
		remaining := len(data) - offset
		if remaining <= c.config.MinSize {
			boundaries = append(boundaries, ChunkBoundary{Offset: offset, Length: remaining})
			break
		}

		length := c.findBoundary(data[offset:])
		boundaries = append(boundaries, ChunkBoundary{Offset: offset, Length: length})
		offset += length
	}
	return boundaries
}

// findBoundary locates the next chunk boundary using two-phase normalized
// chunking: a harder-to-match mask from min..avg, then an easier-to-match
// mask from avg..max, cutting at max_size if neither phase finds one.
func (c *FastCDCChunker) findBoundary(data []byte) int {
	n := len(data)
	if n > c.config.MaxSize {
		n = c.config.MaxSize
	}
	if n <= c.config.MinSize {
		return n
	}

	var hash uint64
	i := c.config.MinSize

	mid := n
	if c.config.AvgSize < mid {
		mid = c.config.AvgSize
	}
	for ; i < mid; i++ {
		hash = (hash << 1) + gearTable[data[i]]
		if hash&c.maskS == 0 {
			return i + 1
		}
	}

	for ; i < n; i++ {
		hash = (hash << 1) + gearTable[data[i]]
		if hash&c.maskL == 0 {
			return i + 1
		}
	}

	return n
}
