package criu

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
)

// checkpointRecord is the on-disk shape of checkpoint.json, independent
// of the in-memory Checkpoint type's field ordering.
type checkpointRecord struct {
	ContainerID       string    `json:"container_id"`
	Image             string    `json:"image"`
	Path              string    `json:"path"`
	CreatedAt         time.Time `json:"created_at"`
	SizeBytes         uint64    `json:"size_bytes"`
	IncludesTCP       bool      `json:"includes_tcp"`
	IncludesFileLocks bool      `json:"includes_file_locks"`
}

func toRecord(c Checkpoint) checkpointRecord {
	return checkpointRecord{
		ContainerID:       c.ContainerID,
		Image:             c.Image,
		Path:              c.Path,
		CreatedAt:         c.CreatedAt,
		SizeBytes:         c.SizeBytes,
		IncludesTCP:       c.IncludesTCP,
		IncludesFileLocks: c.IncludesFileLocks,
	}
}

func (r checkpointRecord) toCheckpoint() Checkpoint {
	return Checkpoint{
		ContainerID:       r.ContainerID,
		Image:             r.Image,
		Path:              r.Path,
		CreatedAt:         r.CreatedAt,
		SizeBytes:         r.SizeBytes,
		IncludesTCP:       r.IncludesTCP,
		IncludesFileLocks: r.IncludesFileLocks,
	}
}

func writeCheckpointMetadata(checkpoint Checkpoint) error {
	data, err := json.MarshalIndent(toRecord(checkpoint), "", "  ")
	if err != nil {
		return herrors.Wrap(herrors.CheckpointFailed, "criu.write_metadata", nil, err)
	}
	return os.WriteFile(filepath.Join(checkpoint.Path, "checkpoint.json"), data, 0o644)
}

// GetCheckpoint loads the metadata for a container's checkpoint, if any.
func (m *Manager) GetCheckpoint(containerID string) (Checkpoint, bool, error) {
	metadataPath := filepath.Join(m.checkpointDir, containerID, "checkpoint.json")
	data, err := os.ReadFile(metadataPath)
	if os.IsNotExist(err) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, herrors.Wrap(herrors.CheckpointFailed, "criu.get_checkpoint", nil, err)
	}

	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Checkpoint{}, false, herrors.Wrap(herrors.CheckpointFailed, "criu.get_checkpoint", nil, err)
	}
	return rec.toCheckpoint(), true, nil
}

// ListCheckpoints returns metadata for every checkpoint under the
// manager's checkpoint directory.
func (m *Manager) ListCheckpoints() ([]Checkpoint, error) {
	entries, err := os.ReadDir(m.checkpointDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, herrors.Wrap(herrors.CheckpointFailed, "criu.list_checkpoints", nil, err)
	}

	var checkpoints []Checkpoint
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checkpoint, ok, err := m.GetCheckpoint(entry.Name())
		if err != nil || !ok {
			continue
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	return checkpoints, nil
}

// DeleteCheckpoint removes a container's checkpoint from disk.
func (m *Manager) DeleteCheckpoint(containerID string) error {
	path := filepath.Join(m.checkpointDir, containerID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return herrors.Wrap(herrors.CheckpointFailed, "criu.delete_checkpoint", herrors.WithContext("container_id", containerID), err)
	}
	log.WithComponent("criu").Info().Str("container_id", containerID).Msg("deleted checkpoint")
	return nil
}

// cleanupStale evicts every checkpoint older than MaxCheckpointAge.
func (m *Manager) cleanupStale(_ context.Context) error {
	checkpoints, err := m.ListCheckpoints()
	if err != nil {
		return err
	}

	now := time.Now()
	cleaned := 0
	logger := log.WithComponent("criu")
	for _, c := range checkpoints {
		if !c.Expired(now) {
			continue
		}
		if err := m.DeleteCheckpoint(c.ContainerID); err != nil {
			logger.Warn().Str("container_id", c.ContainerID).Err(err).Msg("failed to clean up stale checkpoint")
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		logger.Info().Int("count", cleaned).Msg("cleaned up stale checkpoints")
	}
	return nil
}

func dirSize(path string) (uint64, error) {
	var size uint64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += uint64(info.Size())
		}
		return nil
	})
	return size, err
}

// parseRestoredPID recovers the PID CRIU assigned on restore, first from
// restore.log's trailing "Restored ... PID <n>" line, falling back to a
// restored.pid file some CRIU versions write.
func (m *Manager) parseRestoredPID(checkpointPath string) (int, error) {
	logPath := filepath.Join(checkpointPath, "restore.log")
	if f, err := os.Open(logPath); err == nil {
		defer f.Close()
		var lines []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		for i := len(lines) - 1; i >= 0; i-- {
			line := lines[i]
			if strings.Contains(line, "Restored") && strings.Contains(line, "PID") {
				fields := strings.Fields(line)
				if len(fields) > 0 {
					if pid, err := strconv.Atoi(fields[len(fields)-1]); err == nil {
						return pid, nil
					}
				}
			}
		}
	}

	pidfilePath := filepath.Join(checkpointPath, "restored.pid")
	if data, err := os.ReadFile(pidfilePath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			return pid, nil
		}
	}

	return 0, herrors.New(herrors.RestoreFailed, "criu.parse_restored_pid", herrors.WithContext("reason", "could not determine restored pid"))
}
