package dedup

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashOf(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func TestMerkleTreeRootHashStable(t *testing.T) {
	hashes := [][32]byte{hashOf("a"), hashOf("b"), hashOf("c"), hashOf("d")}
	treeA := BuildMerkleTree(hashes)
	treeB := BuildMerkleTree(hashes)

	rootA, okA := treeA.RootHash()
	rootB, okB := treeB.RootHash()
	require.True(t, okA)
	require.True(t, okB)
	require.Equal(t, rootA, rootB)
	require.Equal(t, 4, treeA.LeafCount())
}

func TestMerkleTreeEmpty(t *testing.T) {
	tree := BuildMerkleTree(nil)
	_, ok := tree.RootHash()
	require.False(t, ok)
	require.Equal(t, 0, tree.LeafCount())
}

func TestMerkleTreeDiffIdentical(t *testing.T) {
	hashes := [][32]byte{hashOf("a"), hashOf("b"), hashOf("c"), hashOf("d")}
	treeA := BuildMerkleTree(hashes)
	treeB := BuildMerkleTree(hashes)

	diff := treeA.Diff(treeB)
	require.Empty(t, diff.ChangedLeafIndices)
	require.False(t, diff.StructuralChanges)
	require.Zero(t, diff.ChangeRatio())
}

func TestMerkleTreeDiffSingleChange(t *testing.T) {
	old := [][32]byte{hashOf("a"), hashOf("b"), hashOf("c"), hashOf("d")}
	updated := [][32]byte{hashOf("a"), hashOf("X"), hashOf("c"), hashOf("d")}

	diff := BuildMerkleTree(old).Diff(BuildMerkleTree(updated))
	require.Equal(t, []int{1}, diff.ChangedLeafIndices)
	require.False(t, diff.StructuralChanges)
	require.InDelta(t, 0.25, diff.ChangeRatio(), 0.001)
}

func TestMerkleTreeDiffStructuralChange(t *testing.T) {
	old := [][32]byte{hashOf("a"), hashOf("b")}
	updated := [][32]byte{hashOf("a"), hashOf("b"), hashOf("c")}

	diff := BuildMerkleTree(old).Diff(BuildMerkleTree(updated))
	require.True(t, diff.StructuralChanges)
	require.Equal(t, []int{2}, diff.ChangedLeafIndices)
}
