package types

// SecurityLayer enumerates the layers the security stack can apply, in
// the fixed application order: namespaces first, then mandatory access
// control, then syscall filtering, then resource limits, then image trust,
// then VM-level isolation.
type SecurityLayer string

const (
	LayerUserNamespaces   SecurityLayer = "user_namespaces"
	LayerLandlock         SecurityLayer = "landlock"
	LayerSeccomp          SecurityLayer = "seccomp"
	LayerCgroups          SecurityLayer = "cgroups"
	LayerImageVerification SecurityLayer = "image_verification"
	LayerVMIsolation      SecurityLayer = "vm_isolation"
)

// SecurityLayerOrder is the fixed order layers are probed and applied in.
var SecurityLayerOrder = []SecurityLayer{
	LayerUserNamespaces,
	LayerLandlock,
	LayerSeccomp,
	LayerCgroups,
	LayerImageVerification,
	LayerVMIsolation,
}

// Posture selects how strictly missing layer capabilities are treated.
type Posture string

const (
	// PostureBestEffort applies whatever layers the host supports and
	// records the rest as Skipped.
	PostureBestEffort Posture = "best_effort"
	// PostureHardened requires every layer in RequiredLayers to apply; a
	// missing capability is a Failed layer and container creation is
	// refused.
	PostureHardened Posture = "hardened"
)

// SeccompDisabled is the sentinel SeccompProfile value that turns the
// seccomp layer off entirely ("disabled by policy"), as distinct from ""
// which selects the default profile.
const SeccompDisabled = "disabled"

// SecurityPolicy is the input to the security stack's Apply operation.
type SecurityPolicy struct {
	Posture Posture
	// NamespaceKinds lists the namespace types to create (e.g. "user",
	// "pid", "net", "mount"); empty disables the user-namespaces layer
	// ("disabled by policy"), mirroring LandlockRulesets below.
	NamespaceKinds   []string
	RequiredLayers   []SecurityLayer // only consulted when Posture is PostureHardened
	SeccompProfile   string          // "" default profile, SeccompDisabled to disable, else a path
	LandlockRulesets []string        // paths permitted read/write under Landlock
	VerifyImageSig   bool
	CgroupLimits     ResourceLimits
}

// Requires reports whether layer appears in RequiredLayers, the condition
// that turns an unavailable capability into a Failed outcome rather than
// Skipped.
func (p *SecurityPolicy) Requires(layer SecurityLayer) bool {
	for _, l := range p.RequiredLayers {
		if l == layer {
			return true
		}
	}
	return false
}

// LayerOutcome enumerates the result of applying a single security layer.
type LayerOutcome string

const (
	OutcomeApplied LayerOutcome = "applied"
	OutcomeSkipped LayerOutcome = "skipped"
	OutcomeFailed  LayerOutcome = "failed"
)

// LayerStatus records the outcome of applying one security layer.
type LayerStatus struct {
	Layer   SecurityLayer
	Outcome LayerOutcome
	Reason  string // populated for Skipped/Failed
}

// EnforcementReport is the result of applying a SecurityPolicy to a
// container, returned to the caller and logged by the security stack.
type EnforcementReport struct {
	ContainerID ContainerId
	Layers      []LayerStatus
}

// AuditScore returns the fraction of layers that were Applied, used for the
// hyperbox_security_audit_score metric.
func (r EnforcementReport) AuditScore() float64 {
	if len(r.Layers) == 0 {
		return 0
	}
	applied := 0
	for _, l := range r.Layers {
		if l.Outcome == OutcomeApplied {
			applied++
		}
	}
	return float64(applied) / float64(len(r.Layers))
}

// AllRequiredApplied reports whether every layer in required was Applied,
// the condition PostureHardened enforces before allowing container start.
func (r EnforcementReport) AllRequiredApplied(required []SecurityLayer) bool {
	applied := make(map[SecurityLayer]bool, len(r.Layers))
	for _, l := range r.Layers {
		if l.Outcome == OutcomeApplied {
			applied[l.Layer] = true
		}
	}
	for _, layer := range required {
		if !applied[layer] {
			return false
		}
	}
	return true
}
