package runtime

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/hyperbox/pkg/types"
)

// cgroupRoot is where the security stack places each container's cgroup-v2
// slice (see pkg/security/cgroup.go's cgroupPath, which this mirrors).
const cgroupRoot = "/sys/fs/cgroup/hyperbox"

// readCgroupStats reads the cgroup-v2 accounting files for id directly,
// the same files the security stack wrote limits into. A missing file
// yields a zeroed field rather than an error, matching crun/youki's own
// behavior for a container that never had a limit applied on that
// controller.
func readCgroupStats(id types.ContainerId) Stats {
	dir := filepath.Join(cgroupRoot, id.String())
	return Stats{
		ContainerID:   id,
		CPUUsageUsec:  readCgroupStatField(filepath.Join(dir, "cpu.stat"), "usage_usec"),
		MemoryCurrent: readCgroupUint(filepath.Join(dir, "memory.current")),
		MemoryMax:     readCgroupUint(filepath.Join(dir, "memory.max")),
		PidsCurrent:   readCgroupUint(filepath.Join(dir, "pids.current")),
		SampledAt:     time.Now(),
	}
}

func readCgroupUint(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func readCgroupStatField(path, field string) uint64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 2 && parts[0] == field {
			v, err := strconv.ParseUint(parts[1], 10, 64)
			if err == nil {
				return v
			}
		}
	}
	return 0
}
