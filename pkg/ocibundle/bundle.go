// Package ocibundle builds OCI runtime bundles (config.json + rootfs/) from
// a types.ContainerSpec, the input the crun and youki subprocess backends
// pass to `<runtime> create --bundle <dir>`.
package ocibundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/hyperbox/pkg/types"
)

// defaultCapabilities is the fixed non-privileged capability set granted to
// every container regardless of spec; SYS_ADMIN and SYS_PTRACE are never in
// this list (see types.DangerousCapabilities).
var defaultCapabilities = []string{
	"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FSETID", "CAP_FOWNER", "CAP_MKNOD",
	"CAP_NET_RAW", "CAP_SETGID", "CAP_SETUID", "CAP_SETFCAP", "CAP_SETPCAP",
	"CAP_NET_BIND_SERVICE", "CAP_SYS_CHROOT", "CAP_KILL", "CAP_AUDIT_WRITE",
}

var maskedPaths = []string{
	"/proc/asound", "/proc/acpi", "/proc/kcore", "/proc/keys",
	"/proc/latency_stats", "/proc/timer_list", "/proc/timer_stats",
	"/proc/sched_debug", "/proc/scsi", "/sys/firmware", "/sys/devices/virtual/powercap",
}

var readonlyPaths = []string{
	"/proc/bus", "/proc/fs", "/proc/irq", "/proc/sys", "/proc/sysrq-trigger",
}

// Build renders bundleDir/config.json and creates bundleDir/rootfs, and
// returns the resulting bundle path.
func Build(spec *types.ContainerSpec, bundleDir string) (string, error) {
	rootfs := filepath.Join(bundleDir, "rootfs")
	if err := os.MkdirAll(rootfs, 0755); err != nil {
		return "", fmt.Errorf("create rootfs dir: %w", err)
	}

	config := buildConfig(spec)

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal config.json: %w", err)
	}

	configPath := filepath.Join(bundleDir, "config.json")
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("write config.json: %w", err)
	}

	return bundleDir, nil
}

func buildConfig(spec *types.ContainerSpec) *specs.Spec {
	args := append(append([]string{}, spec.Command...), spec.Args...)
	if len(args) == 0 {
		args = []string{"/bin/sh"}
	}

	env := buildEnv(spec.Env)
	uid, gid := parseUser(spec.User)
	hostname := spec.Hostname
	if hostname == "" {
		hostname = "hyperbox"
	}

	caps := spec.FilterCapabilities(defaultCapabilities)

	return &specs.Spec{
		Version: "1.1.0",
		Process: &specs.Process{
			Terminal:        spec.TTY,
			Args:            args,
			Env:             env,
			Cwd:             workingDir(spec.WorkingDir),
			User:            specs.User{UID: uid, GID: gid},
			NoNewPrivileges: !spec.Privileged,
			Capabilities: &specs.LinuxCapabilities{
				Bounding:    caps,
				Effective:   caps,
				Permitted:   caps,
				Inheritable: caps,
				Ambient:     caps,
			},
		},
		Root: &specs.Root{
			Path:     "rootfs",
			Readonly: spec.ReadOnlyRootfs,
		},
		Hostname: hostname,
		Mounts:   buildMounts(spec.Mounts),
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.PIDNamespace},
				{Type: specs.NetworkNamespace},
				{Type: specs.IPCNamespace},
				{Type: specs.UTSNamespace},
				{Type: specs.MountNamespace},
				{Type: specs.CgroupNamespace},
			},
			MaskedPaths:   maskedPaths,
			ReadonlyPaths: readonlyPaths,
			Resources:     buildResources(spec.Resources),
		},
	}
}

func workingDir(dir string) string {
	if dir == "" {
		return "/"
	}
	return dir
}

func buildEnv(env map[string]string) []string {
	hasPath := false
	out := make([]string, 0, len(env)+1)
	for k, v := range env {
		out = append(out, k+"="+v)
		if k == "PATH" {
			hasPath = true
		}
	}
	if !hasPath {
		out = append(out, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}
	return out
}

// parseUser decodes a "uid:gid" string, defaulting to 0:0.
func parseUser(spec string) (uint32, uint32) {
	if spec == "" {
		return 0, 0
	}
	parts := strings.SplitN(spec, ":", 2)
	uid, _ := strconv.ParseUint(parts[0], 10, 32)
	var gid uint64
	if len(parts) == 2 {
		gid, _ = strconv.ParseUint(parts[1], 10, 32)
	}
	return uint32(uid), uint32(gid)
}

func buildMounts(userMounts []types.Mount) []specs.Mount {
	mounts := []specs.Mount{
		{Destination: "/proc", Type: "proc", Source: "proc"},
		{Destination: "/dev", Type: "tmpfs", Source: "tmpfs", Options: []string{"nosuid", "strictatime", "mode=755", "size=65536k"}},
		{Destination: "/dev/pts", Type: "devpts", Source: "devpts", Options: []string{"nosuid", "noexec", "newinstance", "ptmxmode=0666", "mode=0620"}},
		{Destination: "/dev/shm", Type: "tmpfs", Source: "shm", Options: []string{"nosuid", "noexec", "nodev", "mode=1777", "size=65536k"}},
		{Destination: "/sys", Type: "sysfs", Source: "sysfs", Options: []string{"nosuid", "noexec", "nodev", "ro"}},
	}

	for _, m := range userMounts {
		opts := []string{"rbind"}
		if m.ReadOnly {
			opts = append(opts, "ro")
		} else {
			opts = append(opts, "rw")
		}
		mounts = append(mounts, specs.Mount{
			Destination: m.Target,
			Type:        "bind",
			Source:      m.Source,
			Options:     opts,
		})
	}

	return mounts
}

func buildResources(limits types.ResourceLimits) *specs.LinuxResources {
	res := &specs.LinuxResources{}

	if limits.CPUMillicores != nil {
		const period = uint64(100000)
		quota := (*limits.CPUMillicores) * 100
		res.CPU = &specs.LinuxCPU{Quota: &quota, Period: &period}
	}

	if limits.MemoryBytes != nil || limits.MemorySwapBytes != nil {
		res.Memory = &specs.LinuxMemory{}
		if limits.MemoryBytes != nil {
			res.Memory.Limit = limits.MemoryBytes
		}
		if limits.MemorySwapBytes != nil {
			res.Memory.Swap = limits.MemorySwapBytes
		}
	}

	if limits.PidsLimit != nil {
		res.Pids = &specs.LinuxPids{Limit: *limits.PidsLimit}
	}

	if limits.IOReadBps != nil || limits.IOWriteBps != nil {
		weight := uint16(500)
		res.BlockIO = &specs.LinuxBlockIO{Weight: &weight}
	}

	return res
}
