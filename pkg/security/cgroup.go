package security

import (
	"fmt"

	"github.com/containerd/cgroups/v3/cgroup2"

	"github.com/cuemby/hyperbox/pkg/types"
)

// cgroupPath is the fixed cgroup-v2 path HyperBox creates per container.
func cgroupPath(containerID string) string {
	return "/hyperbox/" + containerID
}

// applyCgroupLimits creates (or updates) the container's cgroup-v2 group
// and writes its resource limits, translating the millicores/bytes shape
// of types.ResourceLimits into cgroup2.Resources.
func applyCgroupLimits(containerID string, limits types.ResourceLimits) error {
	res := &cgroup2.Resources{}

	if limits.MemoryBytes != nil {
		res.Memory = &cgroup2.Memory{Max: limits.MemoryBytes}
	}
	if limits.MemorySwapBytes != nil {
		if res.Memory == nil {
			res.Memory = &cgroup2.Memory{}
		}
		res.Memory.Swap = limits.MemorySwapBytes
	}
	if limits.CPUMillicores != nil {
		// cgroup-v2 cpu.max is "<quota> <period>" in microseconds; a period
		// of 100ms is the common default, quota scaled from millicores.
		const periodUs = int64(100000)
		quotaUs := (*limits.CPUMillicores) * periodUs / 1000
		res.CPU = &cgroup2.CPU{Max: cgroup2.NewCPUMax(&quotaUs, &periodUs)}
	}
	if limits.PidsLimit != nil {
		res.Pids = &cgroup2.Pids{Max: *limits.PidsLimit}
	}

	mgr, err := cgroup2.NewManager("/sys/fs/cgroup", cgroupPath(containerID), res)
	if err != nil {
		return fmt.Errorf("create cgroup: %w", err)
	}
	if err := mgr.Update(res); err != nil {
		return fmt.Errorf("apply cgroup limits: %w", err)
	}
	return nil
}

// removeCgroup deletes the container's cgroup-v2 group during cleanup.
func removeCgroup(containerID string) error {
	mgr, err := cgroup2.Load(cgroupPath(containerID))
	if err != nil {
		return fmt.Errorf("load cgroup: %w", err)
	}
	return mgr.Delete()
}
