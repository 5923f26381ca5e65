package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupManagerProcessAndDiff(t *testing.T) {
	mgr, err := NewDedupManager()
	require.NoError(t, err)

	base := repeatingData(100_000)
	_, err = mgr.ProcessImageLayer("v1", base)
	require.NoError(t, err)

	modified := make([]byte, len(base))
	copy(modified, base)
	modified[50_000] ^= 0xFF

	_, err = mgr.ProcessImageLayer("v2", modified)
	require.NoError(t, err)

	diff, ok := mgr.DiffLayers("v1", "v2")
	require.True(t, ok)
	require.NotEmpty(t, diff.ChangedLeafIndices)
	require.Less(t, diff.ChangeRatio(), 1.0)
}

func TestDedupManagerDiffMissingLayer(t *testing.T) {
	mgr, err := NewDedupManager()
	require.NoError(t, err)
	_, ok := mgr.DiffLayers("unknown-a", "unknown-b")
	require.False(t, ok)
}

func TestDedupManagerTreeEviction(t *testing.T) {
	mgr, err := NewDedupManager()
	require.NoError(t, err)

	_, err = mgr.ProcessImageLayer("layer", repeatingData(10_000))
	require.NoError(t, err)
	require.Equal(t, 1, mgr.CachedTrees())

	_, ok := mgr.GetTree("layer")
	require.True(t, ok)

	mgr.EvictTree("layer")
	require.Equal(t, 0, mgr.CachedTrees())

	_, ok = mgr.GetTree("layer")
	require.False(t, ok)
}

func TestDedupManagerClearTrees(t *testing.T) {
	mgr, err := NewDedupManager()
	require.NoError(t, err)

	_, err = mgr.ProcessImageLayer("a", repeatingData(10_000))
	require.NoError(t, err)
	_, err = mgr.ProcessImageLayer("b", repeatingData(10_000))
	require.NoError(t, err)
	require.Equal(t, 2, mgr.CachedTrees())

	mgr.ClearTrees()
	require.Equal(t, 0, mgr.CachedTrees())
}
