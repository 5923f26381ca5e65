// Package memory implements dynamic VM memory management: balloon control,
// free-page reporting, and KSM (kernel same-page merging), keeping host RAM
// usage proportional to each container's actual working set instead of its
// configured limit.
package memory

import "time"

const (
	// defaultPollInterval is how often the manager samples cgroup memory
	// accounting when polling is started.
	defaultPollInterval = time.Second
	// minBalloonStep is the smallest balloon adjustment worth applying —
	// 1 MiB. Smaller deltas are noise and not worth a hypervisor round trip.
	minBalloonStep = 1024 * 1024
	// defaultHighWatermark is the usage ratio above which the balloon is
	// deflated to give the container headroom back (expansion).
	defaultHighWatermark = 0.80
	// defaultLowWatermark is the usage ratio below which normal reclaim may
	// inflate the balloon.
	defaultLowWatermark = 0.50
	// idleWindowTicks is the number of consecutive low-change polls before
	// a container is considered idle.
	idleWindowTicks = 30
	// maxHistorySamples bounds the per-container sample history.
	maxHistorySamples = 3600
	// emaAlpha is the exponential-moving-average smoothing factor applied
	// to each container's working-set estimate.
	emaAlpha = 0.3
)

// Config configures a DynamicMemoryManager.
type Config struct {
	BalloonEnabled         bool
	FreePageReporting      bool
	KSMEnabled             bool
	HighWatermark          float64
	LowWatermark           float64
	PollInterval           time.Duration
	MinMemoryBytes         uint64
	MaxTotalMemoryBytes    uint64
	AggressiveIdleReclaim  bool
	IdleChangeThreshold    float64
	CgroupRoot             string
}

// DefaultConfig returns the manager's default configuration: balloon and
// free-page reporting on, KSM opt-in (it has side-channel implications),
// aggressive idle reclaim on.
func DefaultConfig() Config {
	return Config{
		BalloonEnabled:        true,
		FreePageReporting:     true,
		KSMEnabled:            false,
		HighWatermark:         defaultHighWatermark,
		LowWatermark:          defaultLowWatermark,
		PollInterval:          defaultPollInterval,
		MinMemoryBytes:        32 * 1024 * 1024,
		MaxTotalMemoryBytes:   0,
		AggressiveIdleReclaim: true,
		IdleChangeThreshold:   0.05,
		CgroupRoot:            "/sys/fs/cgroup",
	}
}
