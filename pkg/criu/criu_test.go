package criu

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
)

func TestCheckpointExpired(t *testing.T) {
	c := Checkpoint{CreatedAt: time.Now().Add(-2 * MaxCheckpointAge)}
	require.True(t, c.Expired(time.Now()))

	c = Checkpoint{CreatedAt: time.Now()}
	require.False(t, c.Expired(time.Now()))
}

func TestManagerNotAvailableByDefault(t *testing.T) {
	mgr := NewManager(t.TempDir())
	require.False(t, mgr.IsAvailable())

	_, err := mgr.Checkpoint(context.Background(), "c1", "img", 1234, Options{})
	require.Error(t, err)
	require.True(t, herrors.Is(err, herrors.CriuNotAvailable))
}

func TestInitializeCreatesCheckpointDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	mgr := NewManager(dir)
	require.NoError(t, mgr.Initialize(context.Background()))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestCheckpointMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)

	checkpointPath := filepath.Join(dir, "c1")
	require.NoError(t, os.MkdirAll(checkpointPath, 0o755))

	checkpoint := Checkpoint{
		ContainerID: "c1",
		Image:       "alpine:latest",
		Path:        checkpointPath,
		CreatedAt:   time.Now().Truncate(time.Second),
		SizeBytes:   4096,
	}
	require.NoError(t, writeCheckpointMetadata(checkpoint))

	got, ok, err := mgr.GetCheckpoint("c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, checkpoint.ContainerID, got.ContainerID)
	require.Equal(t, checkpoint.Image, got.Image)
	require.Equal(t, checkpoint.SizeBytes, got.SizeBytes)

	list, err := mgr.ListCheckpoints()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, mgr.DeleteCheckpoint("c1"))
	_, ok, err = mgr.GetCheckpoint("c1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetCheckpointMissing(t *testing.T) {
	mgr := NewManager(t.TempDir())
	_, ok, err := mgr.GetCheckpoint("does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), make([]byte, 200), 0o644))

	size, err := dirSize(dir)
	require.NoError(t, err)
	require.EqualValues(t, 300, size)
}

func TestParseRestoredPIDFromLog(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)
	content := "Some other log line\nRestored process with PID 4242\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "restore.log"), []byte(content), 0o644))

	pid, err := mgr.parseRestoredPID(dir)
	require.NoError(t, err)
	require.Equal(t, 4242, pid)
}

func TestParseRestoredPIDFromPidfile(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "restored.pid"), []byte("9001\n"), 0o644))

	pid, err := mgr.parseRestoredPID(dir)
	require.NoError(t, err)
	require.Equal(t, 9001, pid)
}

func TestParseRestoredPIDMissing(t *testing.T) {
	mgr := NewManager(t.TempDir())
	_, err := mgr.parseRestoredPID(t.TempDir())
	require.Error(t, err)
}
