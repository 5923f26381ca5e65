package security

import "github.com/cuemby/hyperbox/pkg/types"

// recommendations maps an unavailable layer to operator-facing guidance,
// matching the fixed advice table the security stack's audit reports.
var recommendations = map[types.SecurityLayer]string{
	types.LayerUserNamespaces:    "enable user namespaces (sysctl kernel.unprivileged_userns_clone=1)",
	types.LayerLandlock:          "upgrade to kernel 5.13+ for Landlock filesystem sandboxing",
	types.LayerSeccomp:           "ensure /proc is mounted and the seccomp BPF API is available",
	types.LayerCgroups:           "mount the cgroup v2 unified hierarchy",
	types.LayerImageVerification: "image verification will be available in a future release",
	types.LayerVMIsolation:       "VM isolation will be available in a future release",
}

// Audit is a point-in-time snapshot of the host's security posture,
// independent of any particular container.
type Audit struct {
	Layers          []types.LayerStatus
	Score           float64
	Recommendations []string
}

// Audit produces a host-wide posture snapshot from the stack's cached probe
// results, with one recommendation per unavailable layer.
func (s *SecurityStack) Audit() Audit {
	layers := make([]types.LayerStatus, 0, len(types.SecurityLayerOrder))
	available := 0
	var recs []string

	for _, layer := range types.SecurityLayerOrder {
		p := s.status[layer]
		status := p.status(layer)
		layers = append(layers, status)
		if p.available {
			available++
		} else if rec, ok := recommendations[layer]; ok {
			recs = append(recs, rec)
		}
	}

	total := len(layers)
	if total == 0 {
		total = 1
	}

	return Audit{
		Layers:          layers,
		Score:           float64(available) / float64(total),
		Recommendations: recs,
	}
}

// IsAcceptable reports whether the audit score meets the minimum bar
// HyperBox considers usable for unattended operation.
func (a Audit) IsAcceptable() bool {
	return a.Score >= 0.5
}
