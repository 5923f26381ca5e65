package criu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
)

// PreDump captures an incremental pre-dump of a running container's
// memory: only pages dirtied since the previous pre-dump in the chain are
// written, so each successive pre-dump shrinks as the working set
// stabilizes.
func (m *Manager) PreDump(ctx context.Context, containerID string, pid int, opts Options) (PreDumpEntry, error) {
	if err := m.requireAvailable("criu.pre_dump"); err != nil {
		return PreDumpEntry{}, err
	}

	m.mu.Lock()
	chain, ok := m.preDumpChains[containerID]
	if !ok {
		chain = &PreDumpChain{ContainerID: containerID, StartedAt: time.Now()}
		m.preDumpChains[containerID] = chain
	}
	sequence := uint32(len(chain.Dumps))
	var prevPath string
	if len(chain.Dumps) > 0 {
		prevPath = chain.Dumps[len(chain.Dumps)-1].Path
	}
	m.mu.Unlock()

	dumpDir := filepath.Join(m.checkpointDir, containerID, fmt.Sprintf("pre-dump-%04d", sequence))
	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		return PreDumpEntry{}, herrors.Wrap(herrors.CheckpointFailed, "criu.pre_dump", herrors.WithContext("container_id", containerID), err)
	}

	cmd := exec.CommandContext(ctx, m.criuPath, "pre-dump", "-t", strconv.Itoa(pid), "-D", dumpDir, "-o", "pre-dump.log", "--track-mem", "--shell-job")
	if prevPath != "" {
		cmd.Args = append(cmd.Args, "--prev-images-dir", prevPath)
	}
	if opts.TCPEstablished {
		cmd.Args = append(cmd.Args, "--tcp-established")
	}
	if opts.FileLocks {
		cmd.Args = append(cmd.Args, "--file-locks")
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return PreDumpEntry{}, herrors.Wrap(herrors.CheckpointFailed, "criu.pre_dump",
			herrors.WithContext("container_id", containerID, "output", string(out)), err)
	}

	size, err := dirSize(dumpDir)
	if err != nil {
		return PreDumpEntry{}, herrors.Wrap(herrors.CheckpointFailed, "criu.pre_dump", herrors.WithContext("container_id", containerID), err)
	}

	entry := PreDumpEntry{
		Sequence:   sequence,
		Path:       dumpDir,
		SizeBytes:  size,
		DirtyPages: size / 4096,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	chain.TotalSize += size
	chain.Dumps = append(chain.Dumps, entry)
	m.mu.Unlock()

	log.WithComponent("criu").Info().
		Str("container_id", containerID).
		Uint32("sequence", sequence).
		Uint64("size_bytes", size).
		Msg("pre-dump complete")

	return entry, nil
}

// CheckpointIncremental performs the final dump of a pre-dump chain: only
// pages dirtied since the last pre-dump are written, making the final
// checkpoint far smaller and faster than a cold full dump.
func (m *Manager) CheckpointIncremental(ctx context.Context, containerID, image string, pid int, opts Options) (Checkpoint, error) {
	if err := m.requireAvailable("criu.checkpoint_incremental"); err != nil {
		return Checkpoint{}, err
	}

	m.mu.Lock()
	chain := m.preDumpChains[containerID]
	var lastPath string
	if chain != nil && len(chain.Dumps) > 0 {
		lastPath = chain.Dumps[len(chain.Dumps)-1].Path
	}
	m.mu.Unlock()

	checkpointPath := filepath.Join(m.checkpointDir, containerID, "final-dump")
	if err := os.MkdirAll(checkpointPath, 0o755); err != nil {
		return Checkpoint{}, herrors.Wrap(herrors.CheckpointFailed, "criu.checkpoint_incremental", herrors.WithContext("container_id", containerID), err)
	}

	cmd := exec.CommandContext(ctx, m.criuPath, "dump", "-t", strconv.Itoa(pid), "-D", checkpointPath, "-o", "dump.log", "--shell-job", "--track-mem")
	if lastPath != "" {
		cmd.Args = append(cmd.Args, "--prev-images-dir", lastPath)
	}
	applyCommonDumpFlags(cmd, opts)

	if out, err := cmd.CombinedOutput(); err != nil {
		return Checkpoint{}, herrors.Wrap(herrors.CheckpointFailed, "criu.checkpoint_incremental",
			herrors.WithContext("container_id", containerID, "output", string(out)), err)
	}

	size, err := dirSize(checkpointPath)
	if err != nil {
		return Checkpoint{}, herrors.Wrap(herrors.CheckpointFailed, "criu.checkpoint_incremental", herrors.WithContext("container_id", containerID), err)
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
		Msg("incremental checkpoint complete")

	return checkpoint, nil
}

// RestoreLazy restores a container via CRIU's lazy-pages daemon: the
// process starts almost immediately and memory pages are faulted in on
// demand via userfaultfd as the restored process touches them.
func (m *Manager) RestoreLazy(ctx context.Context, checkpoint Checkpoint, config LazyPagesConfig) (int, RestoreStats, error) {
	if err := m.requireAvailable("criu.restore_lazy"); err != nil {
		return 0, RestoreStats{}, err
	}
	if _, err := os.Stat(checkpoint.Path); err != nil {
		return 0, RestoreStats{}, herrors.New(herrors.CheckpointNotFound, "criu.restore_lazy",
			herrors.WithContext("container_id", checkpoint.ContainerID, "path", checkpoint.Path))
	}
	if checkpoint.Expired(time.Now()) {
		return 0, RestoreStats{}, herrors.New(herrors.CheckpointExpired, "criu.restore_lazy", herrors.WithContext("container_id", checkpoint.ContainerID))
	}

	overallStart := time.Now()

	lazyPID, err := m.startLazyPagesDaemon(ctx, checkpoint.ContainerID, checkpoint.Path, config)
	if err != nil {
		return 0, RestoreStats{}, err
	}

	restoreStart := time.Now()
	cmd := exec.CommandContext(ctx, m.criuPath, "restore", "-D", checkpoint.Path, "-o", "restore.log", "--shell-job", "-d", "--lazy-pages")
	if checkpoint.IncludesTCP {
		cmd.Args = append(cmd.Args, "--tcp-established")
	}
	if checkpoint.IncludesFileLocks {
		cmd.Args = append(cmd.Args, "--file-locks")
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		killProcess(lazyPID)
		return 0, RestoreStats{}, herrors.Wrap(herrors.RestoreFailed, "criu.restore_lazy",
			herrors.WithContext("container_id", checkpoint.ContainerID, "output", string(out)), err)
	}

	restoreDuration := time.Since(restoreStart)
	pid, err := m.parseRestoredPID(checkpoint.Path)
	if err != nil {
		killProcess(lazyPID)
		return 0, RestoreStats{}, err
	}
	totalDuration := time.Since(overallStart)

	m.mu.Lock()
	m.lazyPagesPIDs[checkpoint.ContainerID] = lazyPID
	m.mu.Unlock()

	stats := RestoreStats{
		ContainerID:     checkpoint.ContainerID,
		Mode:            "lazy",
		RestoreTimeMs:   uint64(totalDuration.Milliseconds()),
		TimeToRunningMs: uint64(restoreDuration.Milliseconds()),
		TotalPages:      checkpoint.SizeBytes / 4096,
	}

	log.WithComponent("criu").Info().
		Str("container_id", checkpoint.ContainerID).
		Int("pid", pid).
		Dur("total", totalDuration).
		Dur("time_to_running", restoreDuration).
		Msg("lazy restore complete")

	return pid, stats, nil
}

func (m *Manager) startLazyPagesDaemon(ctx context.Context, containerID, checkpointPath string, config LazyPagesConfig) (int, error) {
	if err := os.MkdirAll(config.PagesDir, 0o755); err != nil {
		return 0, herrors.Wrap(herrors.RestoreFailed, "criu.start_lazy_pages_daemon", herrors.WithContext("container_id", containerID), err)
	}

	cmd := exec.CommandContext(ctx, m.criuPath, "lazy-pages", "-D", checkpointPath, "--page-server", "-o", "lazy-pages.log")
	if config.RemoteAddress != "" {
		cmd.Args = append(cmd.Args, "--address", config.RemoteAddress)
	}
	if config.RemotePort != 0 {
		cmd.Args = append(cmd.Args, "--port", strconv.Itoa(int(config.RemotePort)))
	}

	if err := cmd.Start(); err != nil {
		return 0, herrors.Wrap(herrors.RestoreFailed, "criu.start_lazy_pages_daemon", herrors.WithContext("container_id", containerID), err)
	}

	pid := cmd.Process.Pid
	log.WithComponent("criu").Info().Str("container_id", containerID).Int("pid", pid).Msg("lazy-pages daemon started")
	return pid, nil
}

// StartPageServer starts a CRIU page server for network-transparent page
// serving to a remote lazy-pages daemon, enabling distributed restore.
func (m *Manager) StartPageServer(ctx context.Context, containerID string, config PageServerConfig) (int, error) {
	if err := m.requireAvailable("criu.start_page_server"); err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, m.criuPath, "page-server",
		"-D", config.ImagesDir,
		"--address", config.Address,
		"--port", strconv.Itoa(int(config.Port)),
		"-o", "page-server.log")

	if err := cmd.Start(); err != nil {
		return 0, herrors.Wrap(herrors.RestoreFailed, "criu.start_page_server", herrors.WithContext("container_id", containerID), err)
	}

	pid := cmd.Process.Pid
	m.mu.Lock()
	m.pageServerPIDs[containerID] = pid
	m.mu.Unlock()

	log.WithComponent("criu").Info().
		Str("container_id", containerID).
		Int("pid", pid).
		Str("address", config.Address).
		Uint16("port", config.Port).
		Msg("page server started")

	return pid, nil
}

// StopLazyPages stops the lazy-pages daemon for a container, if running.
func (m *Manager) StopLazyPages(containerID string) {
	m.mu.Lock()
	pid, ok := m.lazyPagesPIDs[containerID]
	delete(m.lazyPagesPIDs, containerID)
	m.mu.Unlock()
	if ok {
		killProcess(pid)
		log.WithComponent("criu").Info().Str("container_id", containerID).Int("pid", pid).Msg("stopped lazy-pages daemon")
	}
}

// StopPageServer stops the page server for a container, if running.
func (m *Manager) StopPageServer(containerID string) {
	m.mu.Lock()
	pid, ok := m.pageServerPIDs[containerID]
	delete(m.pageServerPIDs, containerID)
	m.mu.Unlock()
	if ok {
		killProcess(pid)
		log.WithComponent("criu").Info().Str("container_id", containerID).Int("pid", pid).Msg("stopped page server")
	}
}

// CleanupDemandPaged stops any lazy-pages daemon and page server for
// containerID and removes its pre-dump chain from disk.
func (m *Manager) CleanupDemandPaged(containerID string) error {
	m.StopLazyPages(containerID)
	m.StopPageServer(containerID)

	m.mu.Lock()
	chain, ok := m.preDumpChains[containerID]
	delete(m.preDumpChains, containerID)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	logger := log.WithComponent("criu")
	for _, entry := range chain.Dumps {
		if err := os.RemoveAll(entry.Path); err != nil {
			logger.Warn().Str("path", entry.Path).Err(err).Msg("failed to clean up pre-dump")
		}
	}
	logger.Info().Str("container_id", containerID).Int("count", len(chain.Dumps)).Msg("cleaned up pre-dumps")
	return nil
}

// GetPreDumpChain returns the current pre-dump chain for a container.
func (m *Manager) GetPreDumpChain(containerID string) (PreDumpChain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain, ok := m.preDumpChains[containerID]
	if !ok {
		return PreDumpChain{}, false
	}
	return *chain, true
}

func killProcess(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
}
