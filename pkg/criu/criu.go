package criu

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
)

// MaxCheckpointAge is how long a checkpoint is usable before Restore
// refuses it as stale.
const MaxCheckpointAge = 24 * time.Hour

var criuSearchPaths = []string{
	"/usr/sbin/criu",
	"/usr/bin/criu",
	"/usr/local/sbin/criu",
	"/usr/local/bin/criu",
}

// Options configures a checkpoint or restore operation.
type Options struct {
	LeaveRunning    bool
	TCPEstablished  bool
	FileLocks       bool
	ExternalMounts  [][2]string // [source, destination] pairs
	PreDump         bool
}

// Checkpoint is the metadata HyperBox persists alongside a CRIU dump.
type Checkpoint struct {
	ContainerID        string
	Image              string
	Path               string
	CreatedAt          time.Time
	SizeBytes          uint64
	IncludesTCP        bool
	IncludesFileLocks  bool
}

// Expired reports whether the checkpoint is older than MaxCheckpointAge.
func (c Checkpoint) Expired(now time.Time) bool {
	return now.Sub(c.CreatedAt) > MaxCheckpointAge
}

// PreDumpEntry is a single step in an incremental pre-dump chain.
type PreDumpEntry struct {
	Sequence    uint32
	Path        string
	SizeBytes   uint64
	DirtyPages  uint64
	CreatedAt   time.Time
}

// PreDumpChain tracks successive incremental pre-dumps for a container,
// each capturing only pages dirtied since the previous one.
type PreDumpChain struct {
	ContainerID string
	Dumps       []PreDumpEntry
	TotalSize   uint64
	StartedAt   time.Time
}

// LazyPagesConfig configures the CRIU lazy-pages daemon for demand-paged
// restore.
type LazyPagesConfig struct {
	SocketPath     string
	PagesDir       string
	RemoteAddress  string
	RemotePort     uint16
	PrefetchLimit  uint64
}

// PageServerConfig configures a CRIU page server for network-transparent
// page serving to a remote lazy-pages daemon.
type PageServerConfig struct {
	Address   string
	Port      uint16
	ImagesDir string
}

// RestoreStats reports timing and page-fault counters for a restore.
type RestoreStats struct {
	ContainerID          string
	Mode                 string // "full" or "lazy"
	RestoreTimeMs        uint64
	TimeToRunningMs      uint64
	TotalPages           uint64
	PagesLoadedAtRestore uint64
	PagesLoadedOnDemand  uint64
	PageFaults           uint64
}

// Manager drives the CRIU binary for checkpoint/restore, incremental
// pre-dump chains, and demand-paged (lazy) restore.
type Manager struct {
	checkpointDir string
	criuPath      string // empty until Initialize finds a working binary

	mu              sync.Mutex
	lazyPagesPIDs   map[string]int
	pageServerPIDs  map[string]int
	preDumpChains   map[string]*PreDumpChain
}

// NewManager creates a manager rooted at checkpointDir. Call Initialize
// before using it.
func NewManager(checkpointDir string) *Manager {
	return &Manager{
		checkpointDir:  checkpointDir,
		lazyPagesPIDs:  make(map[string]int),
		pageServerPIDs: make(map[string]int),
		preDumpChains:  make(map[string]*PreDumpChain),
	}
}

// Initialize creates the checkpoint directory, probes for a working CRIU
// binary, and evicts any stale checkpoints left from a previous run.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(m.checkpointDir, 0o755); err != nil {
		return herrors.Wrap(herrors.CriuNotAvailable, "criu.initialize", nil, err)
	}

	logger := log.WithComponent("criu")
	path := findCRIU()
	if path == "" {
		logger.Warn().Msg("criu not found in PATH")
	} else {
		cmd := exec.CommandContext(ctx, path, "check")
		if out, err := cmd.CombinedOutput(); err != nil {
			logger.Warn().Str("output", string(out)).Err(err).Msg("criu check failed")
		} else {
			m.criuPath = path
			logger.Info().Str("path", path).Msg("criu available")
		}
	}

	return m.cleanupStale(ctx)
}

// IsAvailable reports whether a working CRIU binary was found.
func (m *Manager) IsAvailable() bool {
	return m.criuPath != ""
}

func findCRIU() string {
	for _, p := range criuSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if p, err := exec.LookPath("criu"); err == nil {
		return p
	}
	return ""
}

func (m *Manager) requireAvailable(op string) error {
	if !m.IsAvailable() {
		return herrors.New(herrors.CriuNotAvailable, op, herrors.WithContext("reason", "criu not installed or not functional"))
	}
	return nil
}

func applyCommonDumpFlags(cmd *exec.Cmd, opts Options) {
	if opts.LeaveRunning {
		cmd.Args = append(cmd.Args, "--leave-running")
	}
	if opts.TCPEstablished {
		cmd.Args = append(cmd.Args, "--tcp-established")
	}
	if opts.FileLocks {
		cmd.Args = append(cmd.Args, "--file-locks")
	}
	for _, mnt := range opts.ExternalMounts {
		cmd.Args = append(cmd.Args, "--ext-mount-map", mnt[0]+":"+mnt[1])
	}
}

// Checkpoint performs a full dump of pid's process tree to disk.
func (m *Manager) Checkpoint(ctx context.Context, containerID, image string, pid int, opts Options) (Checkpoint, error) {
	if err := m.requireAvailable("criu.checkpoint"); err != nil {
		return Checkpoint{}, err
	}

	checkpointPath := filepath.Join(m.checkpointDir, containerID)
	if err := os.MkdirAll(checkpointPath, 0o755); err != nil {
		return Checkpoint{}, herrors.Wrap(herrors.CheckpointFailed, "criu.checkpoint", herrors.WithContext("container_id", containerID), err)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, m.criuPath, "dump", "-t", strconv.Itoa(pid), "-D", checkpointPath, "-o", "dump.log", "--shell-job")
	applyCommonDumpFlags(cmd, opts)

	if out, err := cmd.CombinedOutput(); err != nil {
		return Checkpoint{}, herrors.Wrap(herrors.CheckpointFailed, "criu.checkpoint",
			herrors.WithContext("container_id", containerID, "output", string(out)), err)
	}

	size, err := dirSize(checkpointPath)
	if err != nil {
		return Checkpoint{}, herrors.Wrap(herrors.CheckpointFailed, "criu.checkpoint", herrors.WithContext("container_id", containerID), err)
	}

	checkpoint := Checkpoint{
		ContainerID:       containerID,
		Image:             image,
		Path:              checkpointPath,
		CreatedAt:         time.Now(),
		SizeBytes:         size,
		IncludesTCP:       opts.TCPEstablished,
		IncludesFileLocks: opts.FileLocks,
	}

	if err := writeCheckpointMetadata(checkpoint); err != nil {
		return Checkpoint{}, err
	}

	log.WithComponent("criu").Info().
		Str("container_id", containerID).
		Uint64("size_bytes", size).
		Dur("elapsed", time.Since(start)).
		Msg("checkpoint created")

	return checkpoint, nil
}

// Restore performs a full restore from a checkpoint and returns the new
// process's PID.
func (m *Manager) Restore(ctx context.Context, checkpoint Checkpoint) (int, error) {
	if err := m.requireAvailable("criu.restore"); err != nil {
		return 0, err
	}
	if _, err := os.Stat(checkpoint.Path); err != nil {
		return 0, herrors.New(herrors.CheckpointNotFound, "criu.restore", herrors.WithContext("container_id", checkpoint.ContainerID, "path", checkpoint.Path))
	}
	if checkpoint.Expired(time.Now()) {
		return 0, herrors.New(herrors.CheckpointExpired, "criu.restore", herrors.WithContext("container_id", checkpoint.ContainerID))
	}

	cmd := exec.CommandContext(ctx, m.criuPath, "restore", "-D", checkpoint.Path, "-o", "restore.log", "--shell-job", "-d")
	if checkpoint.IncludesTCP {
		cmd.Args = append(cmd.Args, "--tcp-established")
	}
	if checkpoint.IncludesFileLocks {
		cmd.Args = append(cmd.Args, "--file-locks")
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return 0, herrors.Wrap(herrors.RestoreFailed, "criu.restore",
			herrors.WithContext("container_id", checkpoint.ContainerID, "output", string(out)), err)
	}

	return m.parseRestoredPID(checkpoint.Path)
}
