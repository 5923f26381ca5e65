package types

import "time"

// MemorySample is one point-in-time read of a container's cgroup-v2 memory
// controller files.
type MemorySample struct {
	ContainerID ContainerId
	Timestamp   time.Time
	Current     int64 // memory.current
	Max         int64 // memory.max, 0 if "max" (unbounded)
	SwapCurrent int64 // memory.swap.current
	Inactive    int64 // inactive_file + inactive_anon from memory.stat
	Active      int64 // active_file + active_anon from memory.stat
}

// BalloonReason enumerates why the memory manager changed a container's
// balloon target.
type BalloonReason string

const (
	// ReasonExpansion deflates the balloon, returning memory, because usage
	// is above the high watermark fraction of the limit.
	ReasonExpansion BalloonReason = "expansion"
	// ReasonIdleReclaim inflates the balloon to reclaim memory because the
	// container has been idle (working set delta below the idle threshold)
	// for IdleWindow.
	ReasonIdleReclaim BalloonReason = "idle_reclaim"
	// ReasonHighWatermark inflates the balloon (regular reclaim) because
	// usage is below the low watermark and the working set sits well below
	// the current effective limit.
	ReasonHighWatermark BalloonReason = "high_watermark"
)

// BalloonAdjustment records one balloon resize decision.
type BalloonAdjustment struct {
	ContainerID ContainerId
	Timestamp   time.Time
	Reason      BalloonReason
	FromBytes   int64
	ToBytes     int64
}

// ContainerMemoryState is a per-container working-set record. pkg/memory
// tracks its own ContainerMemoryState type under its Manager's mutex and does
// not use this one.
type ContainerMemoryState struct {
	ContainerID       ContainerId
	History           []MemorySample // bounded to MaxHistorySamples
	EWMAWorkingSet    float64        // exponentially weighted moving average, alpha=0.3
	BalloonBytes      int64          // current balloon target
	LastActivityDelta float64        // |current working set - EWMA| at last sample
	IdleSince         time.Time      // zero if not currently idle
}

// IsIdle reports whether the container has been idle for at least window,
// defined as LastActivityDelta staying below threshold (fraction of
// EWMAWorkingSet) since IdleSince.
func (s ContainerMemoryState) IsIdle(now time.Time, window time.Duration) bool {
	if s.IdleSince.IsZero() {
		return false
	}
	return now.Sub(s.IdleSince) >= window
}
