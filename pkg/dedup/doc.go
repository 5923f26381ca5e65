/*
Package dedup implements content-defined deduplication for container image
layers: FastCDC chunking, a bloom filter gate, a compressed chunk store, and
a Merkle tree for logarithmic-time layer diffing.

	Raw Layer ──▶ FastCDC Chunker ──▶ chunk hashes ──▶ Bloom Filter (O(1))
	                                                        │
	                                              ┌─────────┴─────────┐
	                                             new                dup
	                                              │                   │
	                                      Compress + Store     Increment ref

FastCDCChunker splits data at content-defined boundaries using a gear-based
rolling hash with two-phase normalized chunking, which makes boundaries
stable across insertions and deletions elsewhere in the stream. BloomFilter
answers "definitely not seen" in O(1) so the chunk store is only consulted
when a hash might already exist. ChunkStore holds unique chunks compressed
with zstd or lz4, reference-counted so a chunk shared by N layers is stored
once. ContentMerkleTree builds a binary hash tree over a layer's chunk
hashes; two layers with identical subtree roots are identical content,
letting Diff skip straight past unchanged regions.

DedupManager ties these together and additionally caches each processed
layer's Merkle tree, so DiffLayers can compare two previously processed
layers without re-chunking either one.
*/
package dedup
