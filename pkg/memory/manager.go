package memory

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
)

// Manager coordinates balloon control, free-page reporting, and KSM across
// every tracked container, keeping host RAM usage proportional to actual
// working sets rather than configured limits.
type Manager struct {
	config Config

	mu         sync.RWMutex
	containers map[string]*ContainerMemoryState

	stats    managerStats
	ksm      *ksmController
	running  atomic.Bool
	cancel   context.CancelFunc
	pageSize uint64
}

// NewManager creates a manager with the given configuration. Call
// StartPolling to begin background sampling, or PollOnce to drive it
// manually.
func NewManager(config Config) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	return &Manager{
		config:     config,
		containers: make(map[string]*ContainerMemoryState),
		ksm:        newKSMController(),
		pageSize:   uint64(os.Getpagesize()),
	}
}

// RegisterContainer begins tracking a container for dynamic memory
// management.
func (m *Manager) RegisterContainer(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[containerID] = newContainerMemoryState(containerID)
	m.stats.containersTracked.Store(uint64(len(m.containers)))

	log.WithComponent("memory").Info().Str("container_id", containerID).
		Msg("registered container for dynamic memory management")
}

// UnregisterContainer stops tracking a container, e.g. after stop/remove.
func (m *Manager) UnregisterContainer(containerID string) {
	m.mu.Lock()
	state, ok := m.containers[containerID]
	if ok {
		delete(m.containers, containerID)
	}
	m.stats.containersTracked.Store(uint64(len(m.containers)))
	m.mu.Unlock()

	if ok {
		log.WithComponent("memory").Info().
			Str("container_id", containerID).
			Uint64("balloon_inflated", state.BalloonInflatedBytes).
			Msg("unregistered container from memory management")
	}
}

// TrackedCount returns the number of containers currently tracked.
func (m *Manager) TrackedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.containers)
}

// cgroupDir is where the security stack places a container's cgroup-v2
// slice (mirrors pkg/security/cgroup.go's cgroupPath).
func (m *Manager) cgroupDir(containerID string) string {
	return filepath.Join(m.config.CgroupRoot, "hyperbox", containerID)
}

// SampleContainer reads one fresh MemorySample from a container's cgroup-v2
// accounting files.
func (m *Manager) SampleContainer(containerID string) (MemorySample, error) {
	return sampleCgroup(m.cgroupDir(containerID))
}

// PollOnce samples every tracked container once, computes balloon
// adjustments, applies the resulting targets to internal state, and returns
// the adjustments for the caller to apply to its virtio-balloon control
// socket.
func (m *Manager) PollOnce() ([]BalloonAdjustment, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.containers))
	for id := range m.containers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var adjustments []BalloonAdjustment

	for _, id := range ids {
		sample, err := m.SampleContainer(id)
		if err != nil {
			log.WithComponent("memory").Debug().Str("container_id", id).Err(err).
				Msg("failed to sample container memory")
			continue
		}

		m.mu.Lock()
		state, ok := m.containers[id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		state.pushSample(sample)
		state.updateIdle(m.config.IdleChangeThreshold)
		adj, hasAdj := m.computeAdjustment(state)
		m.mu.Unlock()

		if hasAdj {
			adjustments = append(adjustments, adj)
		}
	}

	for _, adj := range adjustments {
		m.mu.Lock()
		if state, ok := m.containers[adj.ContainerID]; ok {
			state.BalloonTargetBytes = adj.TargetBytes
			state.BalloonInflatedBytes = adj.TargetBytes
		}
		m.mu.Unlock()

		if adj.DeltaBytes > 0 {
			m.stats.bytesReclaimed.Add(uint64(adj.DeltaBytes))
		} else {
			m.stats.bytesReturned.Add(uint64(-adj.DeltaBytes))
		}
		m.stats.adjustmentsMade.Add(1)

		log.WithComponent("memory").Debug().
			Str("container_id", adj.ContainerID).
			Str("reason", adj.Reason.String()).
			Int64("delta", adj.DeltaBytes).
			Uint64("new_balloon", adj.TargetBytes).
			Msg("balloon adjusted")
	}

	m.stats.pollsCompleted.Add(1)
	return adjustments, nil
}

// computeAdjustment decides whether state needs a balloon change, following
// three rules in priority order: expansion (usage above the high
// watermark), aggressive idle reclaim, and normal reclaim (working set well
// below the effective limit). Must be called with m.mu held.
func (m *Manager) computeAdjustment(state *ContainerMemoryState) (BalloonAdjustment, bool) {
	sample := state.LatestSample
	if sample == nil {
		return BalloonAdjustment{}, false
	}
	limit := sample.LimitBytes
	if limit == 0 || limit == math.MaxUint64 {
		return BalloonAdjustment{}, false
	}

	workingSet := uint64(state.EMAWorkingSet)
	headroom := uint64(float64(workingSet) * 0.25)
	desired := workingSet + headroom
	if desired < m.config.MinMemoryBytes {
		desired = m.config.MinMemoryBytes
	}

	currentBalloon := state.BalloonInflatedBytes
	currentEffective := saturatingSub(limit, currentBalloon)

	// Expansion: usage above the high watermark needs more headroom back.
	if sample.UsageRatio() > m.config.HighWatermark {
		newEffective := desired + headroom
		if newEffective > limit {
			newEffective = limit
		}
		newBalloon := saturatingSub(limit, newEffective)
		if newBalloon < currentBalloon {
			delta := currentBalloon - newBalloon
			if delta >= minBalloonStep {
				return BalloonAdjustment{
					ContainerID: state.ContainerID,
					DeltaBytes:  -int64(delta),
					TargetBytes: newBalloon,
					Reason:      ReasonExpansion,
				}, true
			}
		}
	}

	// Idle reclaim: aggressively shrink effective memory while idle.
	if state.IsIdle && m.config.AggressiveIdleReclaim {
		targetEffective := workingSet + m.config.MinMemoryBytes
		if targetEffective < m.config.MinMemoryBytes {
			targetEffective = m.config.MinMemoryBytes
		}
		newBalloon := saturatingSub(limit, targetEffective)
		if newBalloon > currentBalloon {
			delta := newBalloon - currentBalloon
			if delta >= minBalloonStep {
				return BalloonAdjustment{
					ContainerID: state.ContainerID,
					DeltaBytes:  int64(delta),
					TargetBytes: newBalloon,
					Reason:      ReasonIdleReclaim,
				}, true
			}
		}
	}

	// Normal reclaim: working set sits well below the effective limit.
	if desired < currentEffective && sample.UsageRatio() < m.config.LowWatermark {
		newBalloon := saturatingSub(limit, desired)
		if newBalloon > currentBalloon {
			delta := newBalloon - currentBalloon
			if delta >= minBalloonStep {
				return BalloonAdjustment{
					ContainerID: state.ContainerID,
					DeltaBytes:  int64(delta),
					TargetBytes: newBalloon,
					Reason:      ReasonHighWatermark,
				}, true
			}
		}
	}

	return BalloonAdjustment{}, false
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// StartPolling begins a background goroutine that calls PollOnce at
// config.PollInterval until Stop is called. A second call while already
// running is a no-op.
func (m *Manager) StartPolling(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		log.WithComponent("memory").Debug().Msg("memory manager polling already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go func() {
		logger := log.WithComponent("memory")
		logger.Info().Dur("interval", m.config.PollInterval).
			Msg("dynamic memory manager polling started")

		ticker := time.NewTicker(m.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("dynamic memory manager polling stopped")
				m.running.Store(false)
				return
			case <-ticker.C:
				adjustments, err := m.PollOnce()
				if err != nil {
					logger.Warn().Err(err).Msg("memory poll cycle failed")
					continue
				}
				if len(adjustments) > 0 {
					logger.Info().Int("count", len(adjustments)).Msg("applied balloon adjustments")
				}

				if m.config.KSMEnabled {
					if err := m.RefreshKSMStatus(); err != nil {
						logger.Debug().Err(err).Msg("KSM status refresh failed")
					}
				}
			}
		}
	}()
}

// Stop terminates the background polling loop started by StartPolling.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// IsRunning reports whether the background polling loop is active.
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// EnableKSMForContainer turns on per-process page merging for a container's
// init process. Requires Config.KSMEnabled and kernel 6.4+.
func (m *Manager) EnableKSMForContainer(containerID string, pid int) error {
	if !m.config.KSMEnabled {
		return herrors.New(herrors.PredictionFailed, "memory.enable_ksm",
			herrors.WithContext("reason", "ksm is disabled in configuration"))
	}

	log.WithComponent("memory").Info().Str("container_id", containerID).Int("pid", pid).
		Msg("enabling KSM for container process")
	return m.ksm.enableForPID(pid)
}

// RefreshKSMStatus re-reads host-wide KSM counters from sysfs.
func (m *Manager) RefreshKSMStatus() error {
	if err := m.ksm.refresh(m.pageSize); err != nil {
		return err
	}
	m.stats.ksmSavingsBytes.Store(m.ksm.snapshot().BytesSaved)
	return nil
}

// KSMStatus returns the last-refreshed KSM status.
func (m *Manager) KSMStatus() KSMStatus {
	return m.ksm.snapshot()
}

// ContainerState returns a copy of a tracked container's current state.
func (m *Manager) ContainerState(containerID string) (ContainerMemoryState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.containers[containerID]
	if !ok {
		return ContainerMemoryState{}, false
	}
	return *state, true
}

// Stats returns a snapshot of aggregate manager statistics.
func (m *Manager) Stats() Stats {
	return m.stats.snapshot()
}

// WorkingSets returns every tracked container's latest working-set
// estimate in bytes, satisfying metrics.MemoryStatsSource so a
// metrics.Collector can poll this manager directly.
func (m *Manager) WorkingSets() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sets := make(map[string]int64, len(m.containers))
	for id, state := range m.containers {
		if state.LatestSample == nil {
			continue
		}
		sets[id] = int64(state.LatestSample.WorkingSetBytes())
	}
	return sets
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// TotalReclaimableBytes sums ReclaimableBytes across every tracked
// container's latest sample.
func (m *Manager) TotalReclaimableBytes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, state := range m.containers {
		if state.LatestSample != nil {
			total += state.LatestSample.ReclaimableBytes()
		}
	}
	return total
}

// TotalWorkingSetBytes sums WorkingSetBytes across every tracked
// container's latest sample.
func (m *Manager) TotalWorkingSetBytes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, state := range m.containers {
		if state.LatestSample != nil {
			total += state.LatestSample.WorkingSetBytes()
		}
	}
	return total
}

// ResetAllBalloons deflates every tracked container's balloon to zero.
func (m *Manager) ResetAllBalloons() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, state := range m.containers {
		state.BalloonInflatedBytes = 0
		state.BalloonTargetBytes = 0
	}
	log.WithComponent("memory").Info().Msg("reset all balloon inflation to zero")
}

// SetBalloon manually sets a container's balloon target, bypassing the
// normal decision loop.
func (m *Manager) SetBalloon(containerID string, targetBytes uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.containers[containerID]
	if !ok {
		return herrors.New(herrors.ResourceExhausted, "memory.set_balloon",
			herrors.WithContext("container_id", containerID, "reason", "container not tracked"))
	}

	prev := state.BalloonInflatedBytes
	state.BalloonTargetBytes = targetBytes
	state.BalloonInflatedBytes = targetBytes

	log.WithComponent("memory").Info().
		Str("container_id", containerID).
		Int64("delta", int64(targetBytes)-int64(prev)).
		Uint64("target", targetBytes).
		Msg("manual balloon adjustment")

	return nil
}
