package dedup

import "sync"

// DedupManager is the high-level deduplication API: it wraps a
// ChunkDeduplicator with a cache of per-layer Merkle trees so that two
// versions of the same layer can be diffed in O(log n) without
// re-chunking either of them.
type DedupManager struct {
	dedup *ChunkDeduplicator

	mu    sync.RWMutex
	trees map[string]*ContentMerkleTree
}

// NewDedupManager creates a manager with default chunking and compression.
func NewDedupManager() (*DedupManager, error) {
	dedup, err := NewChunkDeduplicator(DefaultChunkConfig())
	if err != nil {
		return nil, err
	}
	return &DedupManager{dedup: dedup, trees: make(map[string]*ContentMerkleTree)}, nil
}

// NewDedupManagerWithConfig creates a manager with custom chunking and
// compression settings.
func NewDedupManagerWithConfig(config ChunkConfig, compression CompressionMode) (*DedupManager, error) {
	dedup, err := NewChunkDeduplicatorWithCompression(config, compression)
	if err != nil {
		return nil, err
	}
	return &DedupManager{dedup: dedup, trees: make(map[string]*ContentMerkleTree)}, nil
}

// ProcessImageLayer deduplicates layerID's data and caches a Merkle tree
// over its chunk hashes for future diffing.
func (m *DedupManager) ProcessImageLayer(layerID string, data []byte) (DedupResult, error) {
	result, err := m.dedup.ProcessLayer(layerID, data)
	if err != nil {
		return DedupResult{}, err
	}

	tree := BuildMerkleTree(result.ChunkHashes)
	m.mu.Lock()
	m.trees[layerID] = tree
	m.mu.Unlock()

	return result, nil
}

// DiffLayers diffs two previously processed layers' cached trees. ok is
// false if either layer hasn't been processed yet.
func (m *DedupManager) DiffLayers(layerA, layerB string) (diff MerkleDiff, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	treeA, foundA := m.trees[layerA]
	treeB, foundB := m.trees[layerB]
	if !foundA || !foundB {
		return MerkleDiff{}, false
	}
	return treeA.Diff(treeB), true
}

// GetTree returns the cached Merkle tree for a processed layer.
func (m *DedupManager) GetTree(layerID string) (*ContentMerkleTree, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.trees[layerID]
	return tree, ok
}

// Stats returns cumulative deduplication statistics.
func (m *DedupManager) Stats() DedupStats {
	return m.dedup.Stats()
}

// ChunkCount, DedupRatio, and StoreBytes satisfy metrics.DedupStatsSource so
// a metrics.Collector can poll this manager directly.
func (m *DedupManager) ChunkCount() int     { return int(m.dedup.Stats().UniqueChunks) }
func (m *DedupManager) DedupRatio() float64 { return m.dedup.Stats().DedupRatio }
func (m *DedupManager) StoreBytes() int64   { return int64(m.dedup.Stats().TotalBytesStored) }

// BloomMemoryBytes returns the bloom filter's memory footprint.
func (m *DedupManager) BloomMemoryBytes() int {
	return m.dedup.BloomMemoryBytes()
}

// CachedTrees returns the number of cached Merkle trees.
func (m *DedupManager) CachedTrees() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trees)
}

// EvictTree removes a cached Merkle tree for a layer.
func (m *DedupManager) EvictTree(layerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trees, layerID)
}

// ClearTrees removes all cached Merkle trees.
func (m *DedupManager) ClearTrees() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees = make(map[string]*ContentMerkleTree)
}
