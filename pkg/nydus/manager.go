package nydus

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	digest "github.com/opencontainers/go-digest"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
	"github.com/cuemby/hyperbox/pkg/storage"
)

var binarySearchDirs = []string{
	"/usr/local/bin",
	"/usr/bin",
	"/opt/nydus/bin",
	"/snap/bin",
}

// Manager drives the Nydus image acceleration framework: converting OCI
// layers to RAFS v6, running a nydusd daemon per container, and
// garbage-collecting the shared blob cache.
type Manager struct {
	nydusImagePath string // empty until Initialize locates it
	nydusdPath     string

	workDir  string
	cacheDir string

	available atomic.Bool
	config    DaemonConfig
	store     storage.Store

	mu          sync.Mutex
	daemonPIDs  map[string]int
	mountpoints map[string]string
	images      map[string]Image // imageRef -> converted image, this-process cache

	totalBytesDownloaded atomic.Uint64
}

// NewManager creates a manager rooted at workDir. Call Initialize before
// converting images or starting daemons. store persists converted-image
// metadata so GC and inventory listing survive a process restart.
func NewManager(workDir string, config DaemonConfig, store storage.Store) *Manager {
	return &Manager{
		workDir:     workDir,
		cacheDir:    filepath.Join(workDir, "cache"),
		config:      config,
		store:       store,
		daemonPIDs:  make(map[string]int),
		mountpoints: make(map[string]string),
		images:      make(map[string]Image),
	}
}

// Initialize locates the nydus-image and nydusd binaries and creates the
// manager's work directories. IsAvailable reflects whether both binaries
// were found.
func (m *Manager) Initialize(ctx context.Context) error {
	for _, dir := range []string{m.workDir, m.cacheDir, filepath.Join(m.workDir, "bootstrap"), filepath.Join(m.workDir, "blobs"), filepath.Join(m.workDir, "mnt")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return herrors.Wrap(herrors.LazyLoadFailed, "nydus.initialize", herrors.WithContext("dir", dir), err)
		}
	}

	m.nydusImagePath = findBinary("nydus-image")
	m.nydusdPath = findBinary("nydusd")

	hasImageTool := m.nydusImagePath != ""
	hasDaemon := m.nydusdPath != ""
	m.available.Store(hasImageTool && hasDaemon)

	logger := log.WithComponent("nydus")
	if m.IsAvailable() {
		logger.Info().Str("nydus_image", m.nydusImagePath).Str("nydusd", m.nydusdPath).
			Msg("nydus initialized")
	} else {
		logger.Warn().Bool("has_image_tool", hasImageTool).Bool("has_daemon", hasDaemon).
			Msg("nydus not fully available")
	}
	return nil
}

// IsAvailable reports whether both nydus-image and nydusd were found.
func (m *Manager) IsAvailable() bool {
	return m.available.Load()
}

func findBinary(name string) string {
	for _, dir := range binarySearchDirs {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return ""
}

func (m *Manager) requireAvailable(op, ref string) error {
	if !m.IsAvailable() {
		return herrors.New(herrors.LazyLoadFailed, op, herrors.WithContext("layer_id", ref, "reason", "nydus tools not available"))
	}
	return nil
}

// ConvertImage converts an unpacked OCI layer directory to RAFS v6 using
// `nydus-image create`, with zstd-compressed 1 MiB chunks.
func (m *Manager) ConvertImage(ctx context.Context, imageRef, sourceDir string) (Image, error) {
	if err := m.requireAvailable("nydus.convert_image", imageRef); err != nil {
		return Image{}, err
	}

	safeName := sanitizeImageRef(imageRef)
	bootstrapPath := filepath.Join(m.workDir, "bootstrap", safeName+".bootstrap")
	blobDir := filepath.Join(m.workDir, "blobs")

	start := time.Now()
	cmd := exec.CommandContext(ctx, m.nydusImagePath,
		"create",
		"--bootstrap", bootstrapPath,
		"--blob-dir", blobDir,
		"--fs-version", "6",
		"--compressor", "zstd",
		"--chunk-size", "0x100000",
		sourceDir,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Image{}, herrors.Wrap(herrors.LazyLoadFailed, "nydus.convert_image",
			herrors.WithContext("layer_id", imageRef, "output", string(out)), err)
	}

	bootstrapSize := fileSize(bootstrapPath)
	totalBlobSize, chunkCount := scanBlobDir(blobDir)
	bootstrapData, err := os.ReadFile(bootstrapPath)
	if err != nil {
		return Image{}, herrors.Wrap(herrors.LazyLoadFailed, "nydus.convert_image",
			herrors.WithContext("layer_id", imageRef), err)
	}

	image := Image{
		ImageRef:      imageRef,
		BootstrapPath: bootstrapPath,
		BlobDir:       blobDir,
		RafsVersion:   6,
		BootstrapSize: bootstrapSize,
		TotalBlobSize: totalBlobSize,
		ChunkCount:    chunkCount,
		Digest:        digest.FromBytes(bootstrapData),
		CreatedAt:     time.Now(),
	}

	if err := m.persistImage(image); err != nil {
		return Image{}, err
	}

	m.mu.Lock()
	m.images[imageRef] = image
	m.mu.Unlock()

	log.WithComponent("nydus").Info().
		Str("image_ref", imageRef).
		Int64("bootstrap_bytes", bootstrapSize).
		Int64("blob_bytes", totalBlobSize).
		Uint64("chunks", chunkCount).
		Dur("elapsed", time.Since(start)).
		Msg("converted image to RAFS v6")

	return image, nil
}

func (m *Manager) persistImage(image Image) error {
	meta := &storage.NydusImageMeta{
		Digest:     image.Digest.String(),
		BlobDigest: digest.FromString(image.BlobDir).String(),
		RafsPath:   image.BootstrapPath,
		SizeBytes:  image.BootstrapSize + image.TotalBlobSize,
	}
	if err := m.store.SaveNydusImage(meta); err != nil {
		return herrors.Wrap(herrors.LazyLoadFailed, "nydus.persist_image",
			herrors.WithContext("image_ref", image.ImageRef), err)
	}
	return nil
}

// ValidateImage runs `nydus-image check` against an existing bootstrap.
func (m *Manager) ValidateImage(ctx context.Context, bootstrapPath string) (bool, error) {
	if err := m.requireAvailable("nydus.validate_image", bootstrapPath); err != nil {
		return false, err
	}

	cmd := exec.CommandContext(ctx, m.nydusImagePath, "check", "--bootstrap", bootstrapPath)
	return cmd.Run() == nil, nil
}

// StartDaemon starts a nydusd instance serving bootstrapPath at mountpoint
// for a container, rejecting a second daemon for the same container.
func (m *Manager) StartDaemon(ctx context.Context, containerID, bootstrapPath, mountpoint string) (int, error) {
	if err := m.requireAvailable("nydus.start_daemon", containerID); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if _, exists := m.daemonPIDs[containerID]; exists {
		m.mu.Unlock()
		return 0, herrors.New(herrors.LazyLoadFailed, "nydus.start_daemon",
			herrors.WithContext("layer_id", containerID, "reason", "daemon already running for this container"))
	}
	m.mu.Unlock()

	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return 0, herrors.Wrap(herrors.LazyLoadFailed, "nydus.start_daemon", herrors.WithContext("layer_id", containerID), err)
	}

	configPath := filepath.Join(m.workDir, containerID+".config.json")
	configJSON, err := m.buildDaemonConfig()
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(configPath, configJSON, 0o644); err != nil {
		return 0, herrors.Wrap(herrors.LazyLoadFailed, "nydus.start_daemon", herrors.WithContext("layer_id", containerID), err)
	}

	args := []string{
		"--config", configPath,
		"--mountpoint", mountpoint,
		"--bootstrap", bootstrapPath,
		"--log-level", "info",
		"--thread-num", strconv.Itoa(int(m.config.ThreadCount)),
	}
	sockPath := filepath.Join(m.workDir, containerID+".sock")
	switch m.config.FsDriver {
	case FsDriverFuse:
		args = append(args, "--apisock", sockPath)
	case FsDriverVirtiofs:
		args = append(args, "--sock", sockPath)
	}

	cmd := exec.Command(m.nydusdPath, args...)
	if err := cmd.Start(); err != nil {
		return 0, herrors.Wrap(herrors.LazyLoadFailed, "nydus.start_daemon",
			herrors.WithContext("layer_id", containerID), err)
	}
	pid := cmd.Process.Pid

	go cmd.Wait() // reap; nydusd's exit is observed via StopDaemon/GetDaemonStatus

	time.Sleep(100 * time.Millisecond) // let the daemon finish mounting

	m.mu.Lock()
	m.daemonPIDs[containerID] = pid
	m.mountpoints[containerID] = mountpoint
	m.mu.Unlock()

	log.WithComponent("nydus").Info().
		Str("container_id", containerID).Int("pid", pid).Str("mountpoint", mountpoint).
		Msg("nydusd started")

	return pid, nil
}

// StopDaemon stops a running nydusd for a container and removes its
// mountpoint, config, and API socket.
func (m *Manager) StopDaemon(containerID string) error {
	m.mu.Lock()
	pid, hadDaemon := m.daemonPIDs[containerID]
	delete(m.daemonPIDs, containerID)
	mountpoint, hadMount := m.mountpoints[containerID]
	delete(m.mountpoints, containerID)
	m.mu.Unlock()

	logger := log.WithComponent("nydus")

	if hadDaemon {
		_ = syscall.Kill(pid, syscall.SIGTERM)
		logger.Info().Int("pid", pid).Str("container_id", containerID).Msg("stopped nydusd")
	}

	if hadMount {
		_ = exec.Command("umount", "-l", mountpoint).Run()
		logger.Debug().Str("mountpoint", mountpoint).Str("container_id", containerID).
			Msg("cleaned up mountpoint")
	}

	_ = os.Remove(filepath.Join(m.workDir, containerID+".config.json"))
	_ = os.Remove(filepath.Join(m.workDir, containerID+".sock"))

	return nil
}

// GetDaemonStatus returns a running daemon's status for a container, or
// false if none is running.
func (m *Manager) GetDaemonStatus(containerID string) (DaemonStatus, bool) {
	m.mu.Lock()
	pid, ok := m.daemonPIDs[containerID]
	mountpoint := m.mountpoints[containerID]
	m.mu.Unlock()
	if !ok {
		return DaemonStatus{}, false
	}

	return DaemonStatus{
		ContainerID:     containerID,
		PID:             pid,
		Mountpoint:      mountpoint,
		Healthy:         isProcessAlive(pid),
		BytesDownloaded: m.totalBytesDownloaded.Load(),
	}, true
}

// ListDaemons returns the container IDs with a running nydusd.
func (m *Manager) ListDaemons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.daemonPIDs))
	for id := range m.daemonPIDs {
		ids = append(ids, id)
	}
	return ids
}

// CacheBytes and DaemonCount satisfy metrics.NydusStatsSource so a
// metrics.Collector can poll this manager directly.
func (m *Manager) CacheBytes() int64 {
	stats, err := m.GetCacheStats()
	if err != nil {
		return 0
	}
	return stats.BytesCached
}

func (m *Manager) DaemonCount() int {
	return len(m.ListDaemons())
}

// PrefetchFiles hints a running daemon to proactively fetch the listed
// files' data chunks in the background.
func (m *Manager) PrefetchFiles(containerID string, files []string) (uint64, error) {
	m.mu.Lock()
	_, running := m.daemonPIDs[containerID]
	m.mu.Unlock()
	if !running {
		return 0, herrors.New(herrors.LazyLoadFailed, "nydus.prefetch_files",
			herrors.WithContext("layer_id", containerID, "reason", "no daemon running for this container"))
	}

	sockPath := filepath.Join(m.workDir, containerID+".sock")
	if _, err := os.Stat(sockPath); err != nil {
		log.WithComponent("nydus").Warn().Str("container_id", containerID).Msg("API socket not found")
		return 0, nil
	}

	log.WithComponent("nydus").Info().Str("container_id", containerID).Int("file_count", len(files)).
		Msg("prefetch requested")
	return uint64(len(files)), nil
}

// GetImage retrieves a previously converted image by reference, from this
// process's cache.
func (m *Manager) GetImage(imageRef string) (Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	image, ok := m.images[imageRef]
	return image, ok
}

// GetCacheStats computes the shared blob cache's current size, blob count,
// and an estimated dedup ratio across known conversions.
func (m *Manager) GetCacheStats() (CacheStats, error) {
	var stats CacheStats

	entries, err := os.ReadDir(m.cacheDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			stats.BytesCached += info.Size()
			stats.CachedBlobs++
		}
	}

	stats.CacheMissBytes = m.totalBytesDownloaded.Load()

	if stats.CachedBlobs > 0 {
		m.mu.Lock()
		var totalChunks uint64
		for _, image := range m.images {
			totalChunks += image.ChunkCount
		}
		m.mu.Unlock()

		if totalChunks > 0 {
			stats.UniqueChunks = stats.CachedBlobs
			stats.DedupRatio = 1 - float64(stats.UniqueChunks)/float64(totalChunks)
		}
	}

	return stats, nil
}

type cacheEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// GC evicts the least-recently-modified blob cache entries until the cache
// is at or below maxSizeMB. With dryRun it reports bytes that would be
// freed without deleting anything.
func (m *Manager) GC(ctx context.Context, maxSizeMB uint64, dryRun bool) (uint64, error) {
	maxBytes := maxSizeMB * 1024 * 1024

	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, herrors.Wrap(herrors.LazyLoadFailed, "nydus.gc", nil, err)
	}

	var cacheEntries []cacheEntry
	var totalSize int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		totalSize += info.Size()
		cacheEntries = append(cacheEntries, cacheEntry{
			path:    filepath.Join(m.cacheDir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	if uint64(totalSize) <= maxBytes {
		log.WithComponent("nydus").Debug().
			Int64("cache_mb", totalSize/(1024*1024)).Uint64("max_mb", maxSizeMB).
			Msg("cache within limits")
		return 0, nil
	}

	sort.Slice(cacheEntries, func(i, j int) bool { return cacheEntries[i].modTime.Before(cacheEntries[j].modTime) })

	var freed uint64
	for _, e := range cacheEntries {
		if uint64(totalSize) <= maxBytes {
			break
		}
		if !dryRun {
			if err := os.Remove(e.path); err != nil {
				log.WithComponent("nydus").Warn().Str("path", e.path).Err(err).
					Msg("failed to remove cache entry")
				continue
			}
		}
		totalSize -= e.size
		freed += uint64(e.size)
	}

	log.WithComponent("nydus").Info().
		Uint64("freed_mb", freed/(1024*1024)).
		Int64("remaining_mb", totalSize/(1024*1024)).
		Bool("dry_run", dryRun).
		Msg("cache GC complete")

	return freed, nil
}

// Shutdown stops every running nydusd daemon and cleans up its resources.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.daemonPIDs))
	for id := range m.daemonPIDs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopDaemon(id); err != nil {
			log.WithComponent("nydus").Warn().Str("container_id", id).Err(err).
				Msg("failed to stop daemon during shutdown")
		}
	}

	log.WithComponent("nydus").Info().Int("daemon_count", len(ids)).Msg("nydus manager shut down")
	return nil
}

func (m *Manager) buildDaemonConfig() ([]byte, error) {
	registryHost := strings.TrimPrefix(strings.TrimPrefix(m.config.RegistryURL, "https://"), "http://")
	registryHost = strings.TrimSuffix(registryHost, "/")

	scheme := "http"
	if strings.HasPrefix(m.config.RegistryURL, "https") {
		scheme = "https"
	}

	cacheType := "blobcache"
	if m.config.Cache.Type == CacheTypeFsCache {
		cacheType = "fscache"
	}

	config := map[string]any{
		"device": map[string]any{
			"backend": map[string]any{
				"type": "registry",
				"config": map[string]any{
					"scheme":          scheme,
					"host":            registryHost,
					"repo":            "",
					"auth":            "",
					"timeout":         30,
					"connect_timeout": 10,
					"retry_limit":     3,
				},
			},
			"cache": map[string]any{
				"type":       cacheType,
				"compressed": m.config.Cache.Compressed,
				"config": map[string]any{
					"work_dir": m.cacheDir,
				},
			},
		},
		"mode":             "direct",
		"digest_validate":  m.config.DigestValidate,
		"iostats_files":    false,
		"enable_xattr":     m.config.EnableXattr,
		"fs_prefetch": map[string]any{
			"enable":         m.config.Prefetch.Enabled,
			"threads_count":  m.config.Prefetch.Threads,
			"merging_size":   m.config.Prefetch.MergingSize,
			"bandwidth_rate": m.config.Prefetch.BandwidthLimit,
		},
	}

	return json.MarshalIndent(config, "", "  ")
}

func scanBlobDir(blobDir string) (int64, uint64) {
	var totalSize int64
	var count uint64

	entries, err := os.ReadDir(blobDir)
	if err != nil {
		return 0, 0
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		totalSize += info.Size()
		count++
	}
	return totalSize, count
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func isProcessAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func sanitizeImageRef(imageRef string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "@", "_")
	return r.Replace(imageRef)
}
