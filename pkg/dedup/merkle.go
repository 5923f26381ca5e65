package dedup

import "crypto/sha256"

// merkleNode is a node in a content-defined Merkle tree.
type merkleNode struct {
	hash  [32]byte
	left  *merkleNode
	right *merkleNode
	leaf  bool
}

// ContentMerkleTree is a binary hash tree over a layer's chunk hashes.
// Subtrees with identical root hashes represent identical content, which
// lets Diff compare two layers in O(log n + k) instead of O(n).
type ContentMerkleTree struct {
	root       *merkleNode
	leafHashes [][32]byte
}

// BuildMerkleTree builds a tree from an ordered list of chunk hashes.
func BuildMerkleTree(chunkHashes [][32]byte) *ContentMerkleTree {
	var root *merkleNode
	if len(chunkHashes) > 0 {
		root = buildSubtree(chunkHashes)
	}
	return &ContentMerkleTree{root: root, leafHashes: chunkHashes}
}

func buildSubtree(hashes [][32]byte) *merkleNode {
	if len(hashes) == 1 {
		return &merkleNode{hash: hashes[0], leaf: true}
	}

	mid := len(hashes) / 2
	left := buildSubtree(hashes[:mid])
	right := buildSubtree(hashes[mid:])

	return &merkleNode{hash: combineHashes(left.hash, right.hash), left: left, right: right}
}

func combineHashes(left, right [32]byte) [32]byte {
	var data [64]byte
	copy(data[:32], left[:])
	copy(data[32:], right[:])
	return sha256.Sum256(data[:])
}

// RootHash returns the tree's root hash, or false if the tree is empty.
func (t *ContentMerkleTree) RootHash() ([32]byte, bool) {
	if t.root == nil {
		return [32]byte{}, false
	}
	return t.root.hash, true
}

// LeafCount returns the number of chunks (leaves) in the tree.
func (t *ContentMerkleTree) LeafCount() int {
	return len(t.leafHashes)
}

// LeafHashes returns the ordered leaf hashes.
func (t *ContentMerkleTree) LeafHashes() [][32]byte {
	return t.leafHashes
}

// MerkleDiff is the result of diffing two Merkle trees.
type MerkleDiff struct {
	ChangedLeafIndices []int
	TotalLeavesOld     int
	TotalLeavesNew     int
	StructuralChanges  bool
}

// ChangeRatio is the fraction of leaves that changed, in [0, 1].
func (d MerkleDiff) ChangeRatio() float64 {
	maxLeaves := d.TotalLeavesOld
	if d.TotalLeavesNew > maxLeaves {
		maxLeaves = d.TotalLeavesNew
	}
	if maxLeaves == 0 {
		return 0
	}
	return float64(len(d.ChangedLeafIndices)) / float64(maxLeaves)
}

// Diff compares this tree against other. Equal-leaf-count trees use the
// O(log n) tree walk; trees of differing size fall back to an index-wise
// comparison over the common prefix plus the extra tail as all-changed.
func (t *ContentMerkleTree) Diff(other *ContentMerkleTree) MerkleDiff {
	oldCount := len(t.leafHashes)
	newCount := len(other.leafHashes)

	if oldCount != newCount {
		common := oldCount
		if newCount < common {
			common = newCount
		}
		var changed []int
		for i := 0; i < common; i++ {
			if t.leafHashes[i] != other.leafHashes[i] {
				changed = append(changed, i)
			}
		}
		maxCount := oldCount
		if newCount > maxCount {
			maxCount = newCount
		}
		for i := common; i < maxCount; i++ {
			changed = append(changed, i)
		}
		return MerkleDiff{
			ChangedLeafIndices: changed,
			TotalLeavesOld:     oldCount,
			TotalLeavesNew:     newCount,
			StructuralChanges:  true,
		}
	}

	var changed []int
	if oldCount > 0 {
		diffNodes(t.root, other.root, 0, oldCount, &changed)
	}
	return MerkleDiff{
		ChangedLeafIndices: changed,
		TotalLeavesOld:     oldCount,
		TotalLeavesNew:     newCount,
		StructuralChanges:  false,
	}
}

func diffNodes(oldNode, newNode *merkleNode, leafOffset, leafCount int, changed *[]int) {
	switch {
	case oldNode == nil && newNode == nil:
		return
	case oldNode == nil || newNode == nil:
		for i := leafOffset; i < leafOffset+leafCount; i++ {
			*changed = append(*changed, i)
		}
	default:
		if oldNode.hash == newNode.hash {
			return
		}
		if oldNode.leaf || newNode.leaf {
			*changed = append(*changed, leafOffset)
			return
		}
		leftCount := leafCount / 2
		rightCount := leafCount - leftCount
		diffNodes(oldNode.left, newNode.left, leafOffset, leftCount, changed)
		diffNodes(oldNode.right, newNode.right, leafOffset+leftCount, rightCount, changed)
	}
}
