package security

import (
	"os"

	"github.com/moby/sys/mountinfo"
	"github.com/moby/sys/userns"
	libseccomp "github.com/seccomp/libseccomp-golang"

	"github.com/cuemby/hyperbox/pkg/types"
)

// probeResult is one layer's probe outcome; level carries an optional detail
// string, e.g. the cgroup hierarchy mode or the Landlock ABI version.
type probeResult struct {
	available bool
	level     string
	reason    string
}

func ok(level string) probeResult       { return probeResult{available: true, level: level} }
func unavailable(reason string) probeResult { return probeResult{available: false, reason: reason} }

func (p probeResult) status(layer types.SecurityLayer) types.LayerStatus {
	if p.available {
		reason := p.level
		if reason == "" {
			reason = "available"
		}
		return types.LayerStatus{Layer: layer, Outcome: types.OutcomeApplied, Reason: reason}
	}
	return types.LayerStatus{Layer: layer, Outcome: types.OutcomeSkipped, Reason: p.reason}
}

// probeUserNamespaces reports whether the kernel exposes user namespace
// support. A host already running inside a user namespace (userns.RunningInUserNS)
// trivially supports them; otherwise fall back to checking that the kernel
// exposes /proc/self/ns/user at all.
func probeUserNamespaces() probeResult {
	if userns.RunningInUserNS() {
		return ok("rootless")
	}
	if _, err := os.Stat("/proc/self/ns/user"); err != nil {
		return unavailable("/proc/self/ns/user not found - kernel lacks userns support")
	}
	return ok("")
}

// probeLandlock reports the Landlock ABI version available on this kernel,
// obtained via the landlock_create_ruleset(2) probe syscall (attr=nil,
// size=0, flags=LANDLOCK_CREATE_RULESET_VERSION). A negative return means
// the kernel predates 5.13 or lacks Landlock support entirely.
func probeLandlock() probeResult {
	abi, err := landlockABIVersion()
	if err != nil || abi <= 0 {
		return unavailable("Landlock not available - requires kernel 5.13+")
	}
	return ok(abiVersionLabel(abi))
}

// probeSeccomp reports whether the running kernel supports seccomp-bpf
// filtering, using libseccomp's own API-level probe rather than parsing
// /proc/self/status by hand.
func probeSeccomp() probeResult {
	api, err := libseccomp.GetApi()
	if err != nil || api == 0 {
		return unavailable("seccomp not available on this kernel")
	}
	return ok("")
}

// probeCgroups reports whether the cgroup-v2 unified hierarchy is mounted,
// falling back to a hybrid/v1 mount as a lower feature level. Detection
// reads /proc/self/mountinfo rather than assuming a fixed mount point,
// the same signal containerd/cgroups/v3 uses to pick its driver.
func probeCgroups() probeResult {
	unified, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("cgroup2"))
	if err == nil && len(unified) > 0 {
		return ok("v2-unified")
	}
	hybrid, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("cgroup"))
	if err == nil && len(hybrid) > 0 {
		return ok("v1-or-hybrid")
	}
	return unavailable("cgroup filesystem not found")
}
