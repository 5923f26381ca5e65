package memory

// BalloonReason explains why a balloon adjustment was computed.
type BalloonReason int

const (
	// ReasonHighWatermark is a regular reclaim: usage is below the low
	// watermark and the working set sits well below the current effective
	// limit.
	ReasonHighWatermark BalloonReason = iota
	// ReasonIdleReclaim is an aggressive reclaim triggered by sustained
	// idle.
	ReasonIdleReclaim
	// ReasonExpansion returns balloon memory because usage is growing and
	// needs more headroom.
	ReasonExpansion
	// ReasonKSMSavings marks an adjustment attributed to KSM page merging.
	ReasonKSMSavings
	// ReasonManual marks an operator-issued balloon set or reset.
	ReasonManual
)

func (r BalloonReason) String() string {
	switch r {
	case ReasonHighWatermark:
		return "high-watermark"
	case ReasonIdleReclaim:
		return "idle-reclaim"
	case ReasonExpansion:
		return "expansion"
	case ReasonKSMSavings:
		return "ksm-savings"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// BalloonAdjustment is a computed balloon change the caller should apply
// via its virtio-balloon control socket.
type BalloonAdjustment struct {
	ContainerID string
	DeltaBytes  int64 // positive = inflate (reclaim), negative = deflate (return)
	TargetBytes uint64
	Reason      BalloonReason
}

// ContainerMemoryState is one container's tracked memory history and
// balloon state.
type ContainerMemoryState struct {
	ContainerID         string
	BalloonInflatedBytes uint64
	BalloonTargetBytes  uint64
	LatestSample        *MemorySample
	EMAWorkingSet       float64
	IdleTicks           uint64
	IsIdle              bool
	KSMMergedBytes      uint64
	History             []MemorySample
}

func newContainerMemoryState(containerID string) *ContainerMemoryState {
	return &ContainerMemoryState{
		ContainerID: containerID,
		History:     make([]MemorySample, 0, maxHistorySamples),
	}
}

// pushSample records a new sample, updating the EMA and bounded history.
func (s *ContainerMemoryState) pushSample(sample MemorySample) {
	ws := float64(sample.WorkingSetBytes())
	if s.EMAWorkingSet < 1e-9 {
		s.EMAWorkingSet = ws
	} else {
		s.EMAWorkingSet = emaAlpha*ws + (1-emaAlpha)*s.EMAWorkingSet
	}

	sampleCopy := sample
	s.LatestSample = &sampleCopy

	if len(s.History) >= maxHistorySamples {
		half := maxHistorySamples / 2
		s.History = append(s.History[:0], s.History[half:]...)
	}
	s.History = append(s.History, sample)
}

// updateIdle recomputes IsIdle from the last two samples' relative change.
func (s *ContainerMemoryState) updateIdle(threshold float64) {
	if len(s.History) < 2 {
		s.IsIdle = false
		s.IdleTicks = 0
		return
	}

	latest := s.History[len(s.History)-1]
	prev := s.History[len(s.History)-2]

	var delta float64
	if prev.CurrentBytes > 0 {
		delta = absFloat(float64(latest.CurrentBytes)-float64(prev.CurrentBytes)) / float64(prev.CurrentBytes)
	}

	if delta < threshold {
		s.IdleTicks++
	} else {
		s.IdleTicks = 0
	}

	s.IsIdle = s.IdleTicks >= idleWindowTicks
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
