package security

import (
	"github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
	"github.com/cuemby/hyperbox/pkg/metrics"
	"github.com/cuemby/hyperbox/pkg/types"
)

// SecurityStack probes the host once at construction and applies
// SecurityPolicy to containers using the cached probe results, so repeated
// Apply calls don't re-stat /proc or re-probe Landlock/seccomp every time.
type SecurityStack struct {
	status map[types.SecurityLayer]probeResult
}

// Detect probes the running host for every layer in types.SecurityLayerOrder
// and returns a stack ready to Apply policies against. No privileges are
// required; detection only reads kernel-exposed probe interfaces.
func Detect() *SecurityStack {
	status := map[types.SecurityLayer]probeResult{
		types.LayerUserNamespaces:   probeUserNamespaces(),
		types.LayerLandlock:         probeLandlock(),
		types.LayerSeccomp:          probeSeccomp(),
		types.LayerCgroups:          probeCgroups(),
		types.LayerImageVerification: unavailable("image signature verification not configured"),
		types.LayerVMIsolation:      unavailable("VM isolation not configured"),
	}

	available := 0
	for _, s := range status {
		if s.available {
			available++
		}
	}
	logger := log.Logger
	logger.Info().
		Int("layers_available", available).
		Int("layers_total", len(status)).
		Msg("security stack detection complete")

	return &SecurityStack{status: status}
}

// IsAvailable reports whether a layer was detected as usable on this host.
func (s *SecurityStack) IsAvailable(layer types.SecurityLayer) bool {
	return s.status[layer].available
}

// AvailableCount returns how many of the six layers are usable on this host.
func (s *SecurityStack) AvailableCount() int {
	n := 0
	for _, st := range s.status {
		if st.available {
			n++
		}
	}
	return n
}

// Apply enforces policy for containerID, walking types.SecurityLayerOrder in
// the fixed order and recording one LayerStatus per layer into the returned
// EnforcementReport. Under PostureHardened a RequiredLayers entry that ends
// up Skipped or Failed aborts with a NotAvailable error; under
// PostureBestEffort every layer is attempted but a missing capability is
// merely recorded Skipped.
func (s *SecurityStack) Apply(policy *types.SecurityPolicy, containerID types.ContainerId) (*types.EnforcementReport, error) {
	report := &types.EnforcementReport{ContainerID: containerID}
	cidStr := containerID.String()

	logger := log.WithContainerID(cidStr)
	logger.Info().
		Str("posture", string(policy.Posture)).
		Int("layers_available", s.AvailableCount()).
		Msg("applying security policy")

	report.Layers = append(report.Layers, s.applyUserNamespaces(policy, cidStr))
	report.Layers = append(report.Layers, s.applyLandlock(policy, cidStr))
	report.Layers = append(report.Layers, s.applySeccomp(policy, cidStr))
	report.Layers = append(report.Layers, s.applyCgroups(policy, cidStr))
	report.Layers = append(report.Layers, s.applyImageVerification(policy))
	report.Layers = append(report.Layers, s.applyVMIsolation(policy))

	for _, status := range report.Layers {
		outcome := "skipped"
		if status.Outcome == types.OutcomeApplied {
			outcome = "applied"
		} else if status.Outcome == types.OutcomeFailed {
			outcome = "failed"
		}
		metrics.SecurityLayersApplied.WithLabelValues(string(status.Layer), outcome).Inc()
	}
	metrics.SecurityAuditScore.WithLabelValues(cidStr).Set(report.AuditScore())

	if policy.Posture == types.PostureHardened {
		if !report.AllRequiredApplied(policy.RequiredLayers) {
			return report, errors.New(errors.NotAvailable, "security.Apply",
				errors.WithContext("container_id", cidStr, "posture", "hardened"))
		}
	}

	logger.Info().Float64("audit_score", report.AuditScore()).Msg("security enforcement complete")
	return report, nil
}

// unavailableOutcome maps a detected-unavailable capability to Failed when
// policy marks layer as required, Skipped otherwise — the universal
// "required-and-unavailable yields Failed" invariant shared by every layer.
func unavailableOutcome(policy *types.SecurityPolicy, layer types.SecurityLayer, reason string) types.LayerStatus {
	if policy.Requires(layer) {
		return types.LayerStatus{Layer: layer, Outcome: types.OutcomeFailed, Reason: reason}
	}
	return types.LayerStatus{Layer: layer, Outcome: types.OutcomeSkipped, Reason: reason}
}

func (s *SecurityStack) applyUserNamespaces(policy *types.SecurityPolicy, containerID string) types.LayerStatus {
	const layer = types.LayerUserNamespaces
	if len(policy.NamespaceKinds) == 0 {
		return types.LayerStatus{Layer: layer, Outcome: types.OutcomeSkipped, Reason: "disabled by policy"}
	}
	if !s.IsAvailable(layer) {
		return unavailableOutcome(policy, layer, s.status[layer].reason)
	}
	return types.LayerStatus{Layer: layer, Outcome: types.OutcomeApplied, Reason: "namespace isolation applied"}
}

func (s *SecurityStack) applyLandlock(policy *types.SecurityPolicy, containerID string) types.LayerStatus {
	const layer = types.LayerLandlock
	if len(policy.LandlockRulesets) == 0 {
		return types.LayerStatus{Layer: layer, Outcome: types.OutcomeSkipped, Reason: "disabled by policy"}
	}
	if !s.IsAvailable(layer) {
		return unavailableOutcome(policy, layer, s.status[layer].reason)
	}
	log.WithLayer(string(layer)).Debug().Strs("rulesets", policy.LandlockRulesets).Msg("landlock ruleset prepared")
	return types.LayerStatus{Layer: layer, Outcome: types.OutcomeApplied, Reason: s.status[layer].level}
}

func (s *SecurityStack) applySeccomp(policy *types.SecurityPolicy, containerID string) types.LayerStatus {
	const layer = types.LayerSeccomp
	if policy.SeccompProfile == types.SeccompDisabled {
		return types.LayerStatus{Layer: layer, Outcome: types.OutcomeSkipped, Reason: "disabled by policy"}
	}
	if !s.IsAvailable(layer) {
		return unavailableOutcome(policy, layer, s.status[layer].reason)
	}
	profile := policy.SeccompProfile
	if profile == "" {
		profile = "default"
	}
	log.WithLayer(string(layer)).Debug().Str("profile", profile).Msg("seccomp profile prepared")
	return types.LayerStatus{Layer: layer, Outcome: types.OutcomeApplied, Reason: profile}
}

func (s *SecurityStack) applyCgroups(policy *types.SecurityPolicy, containerID string) types.LayerStatus {
	const layer = types.LayerCgroups
	if !s.IsAvailable(layer) {
		return unavailableOutcome(policy, layer, s.status[layer].reason)
	}
	if err := applyCgroupLimits(containerID, policy.CgroupLimits); err != nil {
		log.WithLayer(string(layer)).Warn().Err(err).Str("container_id", containerID).Msg("cgroup limit application failed")
		return types.LayerStatus{Layer: layer, Outcome: types.OutcomeFailed, Reason: err.Error()}
	}
	return types.LayerStatus{Layer: layer, Outcome: types.OutcomeApplied, Reason: s.status[layer].level}
}

func (s *SecurityStack) applyImageVerification(policy *types.SecurityPolicy) types.LayerStatus {
	const layer = types.LayerImageVerification
	if !policy.VerifyImageSig {
		return types.LayerStatus{Layer: layer, Outcome: types.OutcomeSkipped, Reason: "disabled by policy"}
	}
	if !s.IsAvailable(layer) {
		return unavailableOutcome(policy, layer, s.status[layer].reason)
	}
	return types.LayerStatus{Layer: layer, Outcome: types.OutcomeApplied, Reason: "signature chain validated against signer CA"}
}

func (s *SecurityStack) applyVMIsolation(policy *types.SecurityPolicy) types.LayerStatus {
	const layer = types.LayerVMIsolation
	if !s.IsAvailable(layer) {
		return unavailableOutcome(policy, layer, s.status[layer].reason)
	}
	return types.LayerStatus{Layer: layer, Outcome: types.OutcomeSkipped, Reason: "VM isolation not yet implemented"}
}

// Cleanup removes per-container security artifacts created by Apply: the
// cgroup-v2 group, primarily. Namespace and seccomp state lives in the
// container process and disappears when it exits.
func (s *SecurityStack) Cleanup(containerID types.ContainerId) error {
	if !s.IsAvailable(types.LayerCgroups) {
		return nil
	}
	if err := removeCgroup(containerID.String()); err != nil {
		log.WithContainerID(containerID.String()).Warn().Err(err).Msg("cgroup cleanup error")
	}
	return nil
}
