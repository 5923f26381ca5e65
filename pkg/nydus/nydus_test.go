package nydus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperbox/pkg/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(filepath.Join(t.TempDir(), "nydus"), DefaultDaemonConfig(), store)
}

func TestFsDriverVariants(t *testing.T) {
	require.NotEqual(t, FsDriverFuse, FsDriverVirtiofs)
	require.Equal(t, FsDriverFuse, FsDriverFuse)
}

func TestCacheTypeVariants(t *testing.T) {
	require.NotEqual(t, CacheTypeBlobCache, CacheTypeFsCache)
}

func TestDefaultDaemonConfig(t *testing.T) {
	cfg := DefaultDaemonConfig()
	require.EqualValues(t, 4, cfg.ThreadCount)
	require.True(t, cfg.Prefetch.Enabled)
	require.False(t, cfg.DigestValidate)
	require.True(t, cfg.EnableXattr)
	require.Equal(t, FsDriverFuse, cfg.FsDriver)
	require.Equal(t, CacheTypeBlobCache, cfg.Cache.Type)
}

func TestSanitizeImageRef(t *testing.T) {
	require.Equal(t, "docker.io_library_alpine_3.18", sanitizeImageRef("docker.io/library/alpine:3.18"))
	require.Equal(t, "registry.example.com_app_sha256_abc", sanitizeImageRef("registry.example.com/app@sha256:abc"))
}

func TestManagerNotAvailableByDefault(t *testing.T) {
	mgr := newTestManager(t)
	require.False(t, mgr.IsAvailable())

	_, err := mgr.ConvertImage(context.Background(), "alpine:latest", t.TempDir())
	require.Error(t, err)
}

func TestInitializeCreatesWorkDirs(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Initialize(context.Background()))

	for _, sub := range []string{"bootstrap", "blobs", "mnt", "cache"} {
		info, err := os.Stat(filepath.Join(mgr.workDir, sub))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestGetImageMissing(t *testing.T) {
	mgr := newTestManager(t)
	_, ok := mgr.GetImage("does-not-exist")
	require.False(t, ok)
}

func TestGetDaemonStatusMissing(t *testing.T) {
	mgr := newTestManager(t)
	_, ok := mgr.GetDaemonStatus("c1")
	require.False(t, ok)
}

func TestListDaemonsEmpty(t *testing.T) {
	mgr := newTestManager(t)
	require.Empty(t, mgr.ListDaemons())
}

func TestPrefetchFilesNoDaemon(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.PrefetchFiles("c1", []string{"/bin/sh"})
	require.Error(t, err)
}

func TestGetCacheStatsEmpty(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Initialize(context.Background()))

	stats, err := mgr.GetCacheStats()
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.BytesCached)
	require.EqualValues(t, 0, stats.CachedBlobs)
}

func TestGCWithinLimits(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Initialize(context.Background()))
	require.NoError(t, os.WriteFile(filepath.Join(mgr.cacheDir, "blob1"), make([]byte, 100), 0o644))

	freed, err := mgr.GC(context.Background(), 10, false)
	require.NoError(t, err)
	require.EqualValues(t, 0, freed)
}

func TestGCEvictsOldestFirstDryRun(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(mgr.cacheDir, "a"), make([]byte, 1024*1024), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(mgr.cacheDir, "b"), make([]byte, 1024*1024), 0o644))

	freed, err := mgr.GC(context.Background(), 1, true)
	require.NoError(t, err)
	require.Greater(t, freed, uint64(0))

	entries, err := os.ReadDir(mgr.cacheDir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "dry run must not delete anything")
}

func TestGCEvictsForReal(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(mgr.cacheDir, "a"), make([]byte, 1024*1024), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(mgr.cacheDir, "b"), make([]byte, 1024*1024), 0o644))

	freed, err := mgr.GC(context.Background(), 1, false)
	require.NoError(t, err)
	require.Greater(t, freed, uint64(0))

	entries, err := os.ReadDir(mgr.cacheDir)
	require.NoError(t, err)
	require.Less(t, len(entries), 2)
}

func TestShutdownWithNoDaemons(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Shutdown())
}

func TestImageManifestDescriptor(t *testing.T) {
	img := Image{BootstrapSize: 2048, Digest: "sha256:abc"}
	desc := img.Manifest()
	require.Equal(t, bootstrapMediaType, desc.MediaType)
	require.EqualValues(t, 2048, desc.Size)
}

func TestBuildDaemonConfigValid(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Initialize(context.Background()))

	data, err := mgr.buildDaemonConfig()
	require.NoError(t, err)
	require.Contains(t, string(data), "\"mode\": \"direct\"")
}
