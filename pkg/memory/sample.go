package memory

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
)

// MemorySample is a snapshot of one container's cgroup-v2 memory accounting
// at a single point in time.
type MemorySample struct {
	TakenAt             time.Time
	CurrentBytes        uint64 // memory.current
	LimitBytes          uint64 // memory.max, math.MaxUint64 if unset
	SwapBytes           uint64 // memory.swap.current
	InactiveFileBytes   uint64 // memory.stat: inactive_file
	ActiveFileBytes     uint64 // memory.stat: active_file
	AnonBytes           uint64 // memory.stat: anon
	SlabReclaimableBytes uint64 // memory.stat: slab_reclaimable
}

// WorkingSetBytes estimates memory the container is actually using:
// anonymous pages plus active file cache plus reclaimable slab.
func (s MemorySample) WorkingSetBytes() uint64 {
	return s.AnonBytes + s.ActiveFileBytes + s.SlabReclaimableBytes
}

// UsageRatio is CurrentBytes relative to LimitBytes, or 0 if unlimited.
func (s MemorySample) UsageRatio() float64 {
	if s.LimitBytes == 0 || s.LimitBytes == math.MaxUint64 {
		return 0
	}
	return float64(s.CurrentBytes) / float64(s.LimitBytes)
}

// ReclaimableBytes is memory held but not part of the working set.
func (s MemorySample) ReclaimableBytes() uint64 {
	ws := s.WorkingSetBytes()
	if s.CurrentBytes <= ws {
		return 0
	}
	return s.CurrentBytes - ws
}

// cgroupMemStat holds the fields of memory.stat this package cares about.
type cgroupMemStat struct {
	inactiveFile     uint64
	activeFile       uint64
	anon             uint64
	slabReclaimable  uint64
}

// sampleCgroup reads memory.current, memory.max, memory.swap.current, and
// memory.stat from a container's cgroup-v2 directory.
func sampleCgroup(cgDir string) (MemorySample, error) {
	current, err := readCgroupMemoryField(cgDir, "memory.current")
	if err != nil {
		return MemorySample{}, herrors.Wrap(herrors.PredictionFailed, "memory.sample",
			herrors.WithContext("cgroup", cgDir), err)
	}

	limit, err := readCgroupMemoryField(cgDir, "memory.max")
	if err != nil {
		limit = math.MaxUint64
	}

	swap, err := readCgroupMemoryField(cgDir, "memory.swap.current")
	if err != nil {
		swap = 0
	}

	stat := readCgroupMemStat(cgDir)

	return MemorySample{
		TakenAt:              time.Now(),
		CurrentBytes:         current,
		LimitBytes:           limit,
		SwapBytes:            swap,
		InactiveFileBytes:    stat.inactiveFile,
		ActiveFileBytes:      stat.activeFile,
		AnonBytes:            stat.anon,
		SlabReclaimableBytes: stat.slabReclaimable,
	}, nil
}

func readCgroupMemoryField(cgDir, filename string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(cgDir, filename))
	if err != nil {
		return 0, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "max" {
		return math.MaxUint64, nil
	}
	return strconv.ParseUint(trimmed, 10, 64)
}

func readCgroupMemStat(cgDir string) cgroupMemStat {
	var stat cgroupMemStat

	f, err := os.Open(filepath.Join(cgDir, "memory.stat"))
	if err != nil {
		return stat
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "inactive_file":
			stat.inactiveFile = v
		case "active_file":
			stat.activeFile = v
		case "anon":
			stat.anon = v
		case "slab_reclaimable":
			stat.slabReclaimable = v
		}
	}
	return stat
}

func readSysfsUint64(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
