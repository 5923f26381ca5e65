package dedup

import (
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// BloomFilter is a space-efficient probabilistic set membership structure.
// It answers "definitely not seen" / "probably seen" in O(1) time and is
// used as a cheap gate in front of the chunk store: a miss here means the
// chunk store lookup can be skipped entirely.
type BloomFilter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint32
	numItems  uint64
}

// NewBloomFilter sizes a filter for expectedItems at the desired false
// positive rate fpr (e.g. 0.01 for 1%).
func NewBloomFilter(expectedItems int, fpr float64) *BloomFilter {
	if fpr < 1e-10 {
		fpr = 1e-10
	}
	if fpr > 0.5 {
		fpr = 0.5
	}
	n := float64(expectedItems)
	if n < 1 {
		n = 1
	}

	ln2 := math.Ln2
	numBits := uint64(math.Ceil(-(n * math.Log(fpr)) / (ln2 * ln2)))
	if numBits < 64 {
		numBits = 64
	}

	numHashes := uint32(math.Ceil((float64(numBits) / n) * ln2))
	if numHashes < 1 {
		numHashes = 1
	}
	if numHashes > 30 {
		numHashes = 30
	}

	numWords := (numBits + 63) / 64
	return &BloomFilter{
		bits:      make([]uint64, numWords),
		numBits:   numBits,
		numHashes: numHashes,
	}
}

// NewBloomFilterWithCapacity builds a filter with an explicit bit and hash
// count, bypassing the sizing formula.
func NewBloomFilterWithCapacity(numBits uint64, numHashes uint32) *BloomFilter {
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	numWords := (numBits + 63) / 64
	return &BloomFilter{bits: make([]uint64, numWords), numBits: numBits, numHashes: numHashes}
}

// hashIndices derives numHashes bit positions from a single 32-byte key
// using enhanced double hashing: two independent 64-bit digests (h1, h2)
// combine as h1 + i*h2 for i in [0, numHashes), avoiding numHashes separate
// hash computations per insert/lookup.
func (b *BloomFilter) hashIndices(key [32]byte, fn func(idx uint64)) {
	h1 := xxhash.Sum64(key[:])
	h2 := xxhash.Sum64(key[16:])
	for i := uint32(0); i < b.numHashes; i++ {
		combined := h1 + uint64(i)*h2
		fn(combined % b.numBits)
	}
}

// Insert adds a chunk hash to the filter.
func (b *BloomFilter) Insert(key [32]byte) {
	b.hashIndices(key, func(idx uint64) {
		word, bit := idx/64, idx%64
		b.bits[word] |= 1 << bit
	})
	b.numItems++
}

// PossiblyContains reports whether key might be in the set. false means
// definitely absent; true means probably present, subject to the
// configured false positive rate.
func (b *BloomFilter) PossiblyContains(key [32]byte) bool {
	found := true
	b.hashIndices(key, func(idx uint64) {
		word, bit := idx/64, idx%64
		if (b.bits[word]>>bit)&1 == 0 {
			found = false
		}
	})
	return found
}

// EstimatedFPR estimates the current false positive rate from fill ratio:
// (1 - e^(-kn/m))^k.
func (b *BloomFilter) EstimatedFPR() float64 {
	if b.numItems == 0 {
		return 0
	}
	m := float64(b.numBits)
	k := float64(b.numHashes)
	n := float64(b.numItems)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// ItemsCount returns the number of items inserted.
func (b *BloomFilter) ItemsCount() uint64 {
	return b.numItems
}

// MemoryBytes returns the filter's memory footprint in bytes.
func (b *BloomFilter) MemoryBytes() int {
	return len(b.bits) * 8
}

// FillRatio returns the proportion of bits currently set.
func (b *BloomFilter) FillRatio() float64 {
	var set uint64
	for _, w := range b.bits {
		set += uint64(bits.OnesCount64(w))
	}
	return float64(set) / float64(b.numBits)
}

// Clear resets the filter to empty.
func (b *BloomFilter) Clear() {
	for i := range b.bits {
		b.bits[i] = 0
	}
	b.numItems = 0
}
