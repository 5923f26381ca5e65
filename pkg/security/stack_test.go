package security

import (
	"testing"

	"github.com/cuemby/hyperbox/pkg/types"
)

// stackWithStatus builds a SecurityStack with a fixed, test-controlled
// probe result map instead of calling Detect(), so scenarios don't depend
// on the host actually having (or lacking) a given kernel feature.
func stackWithStatus(status map[types.SecurityLayer]probeResult) *SecurityStack {
	return &SecurityStack{status: status}
}

func hardenedStatus() map[types.SecurityLayer]probeResult {
	return map[types.SecurityLayer]probeResult{
		types.LayerUserNamespaces:    ok("rootless"),
		types.LayerLandlock:          unavailable("Landlock not available - requires kernel 5.13+"),
		types.LayerSeccomp:           ok(""),
		types.LayerCgroups:           ok("v2-unified"),
		types.LayerImageVerification: unavailable("image signature verification not configured"),
		types.LayerVMIsolation:       unavailable("VM isolation not configured"),
	}
}

// TestApplyHardenedNoLandlock is spec scenario 5: a hardened posture that
// requires UserNamespaces and Seccomp (not Landlock) on a host where only
// Landlock is missing. Landlock is Skipped rather than Failed since it was
// never in RequiredLayers, and the overall Apply call succeeds.
func TestApplyHardenedNoLandlock(t *testing.T) {
	stack := stackWithStatus(hardenedStatus())
	policy := &types.SecurityPolicy{
		Posture:          types.PostureHardened,
		NamespaceKinds:   []string{"user", "pid", "net"},
		LandlockRulesets: []string{"/var/lib/hyperbox"},
		RequiredLayers:   []types.SecurityLayer{types.LayerUserNamespaces, types.LayerSeccomp},
	}

	report, err := stack.Apply(policy, types.NewContainerId())
	if err != nil {
		t.Fatalf("Apply() returned error = %v, want nil", err)
	}

	want := map[types.SecurityLayer]types.LayerOutcome{
		types.LayerUserNamespaces:    types.OutcomeApplied,
		types.LayerLandlock:          types.OutcomeSkipped,
		types.LayerSeccomp:           types.OutcomeApplied,
		types.LayerCgroups:           types.OutcomeApplied,
		types.LayerImageVerification: types.OutcomeSkipped,
		types.LayerVMIsolation:       types.OutcomeSkipped,
	}
	for _, status := range report.Layers {
		if got, wanted := status.Outcome, want[status.Layer]; got != wanted {
			t.Errorf("layer %s outcome = %s, want %s", status.Layer, got, wanted)
		}
	}

	if !report.AllRequiredApplied(policy.RequiredLayers) {
		t.Error("AllRequiredApplied() = false, want true")
	}
}

// TestApplyRequiredAndUnavailableFails covers the universal invariant from
// spec scenario 8: a required layer that's unavailable on the host is
// recorded Failed (not Skipped), and Apply under PostureHardened refuses
// the container with a NotAvailable error.
func TestApplyRequiredAndUnavailableFails(t *testing.T) {
	tests := []struct {
		name   string
		layer  types.SecurityLayer
		policy *types.SecurityPolicy
	}{
		{
			name:  "user namespaces required but unavailable",
			layer: types.LayerUserNamespaces,
			policy: &types.SecurityPolicy{
				Posture:        types.PostureHardened,
				NamespaceKinds: []string{"user"},
				RequiredLayers: []types.SecurityLayer{types.LayerUserNamespaces},
			},
		},
		{
			name:  "landlock required but unavailable",
			layer: types.LayerLandlock,
			policy: &types.SecurityPolicy{
				Posture:          types.PostureHardened,
				LandlockRulesets: []string{"/var/lib/hyperbox"},
				RequiredLayers:   []types.SecurityLayer{types.LayerLandlock},
			},
		},
		{
			name:  "seccomp required but unavailable",
			layer: types.LayerSeccomp,
			policy: &types.SecurityPolicy{
				Posture:        types.PostureHardened,
				SeccompProfile: "",
				RequiredLayers: []types.SecurityLayer{types.LayerSeccomp},
			},
		},
		{
			name:  "cgroups required but unavailable",
			layer: types.LayerCgroups,
			policy: &types.SecurityPolicy{
				Posture:        types.PostureHardened,
				RequiredLayers: []types.SecurityLayer{types.LayerCgroups},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := map[types.SecurityLayer]probeResult{
				types.LayerUserNamespaces:    ok("rootless"),
				types.LayerLandlock:          ok("abi=5"),
				types.LayerSeccomp:           ok(""),
				types.LayerCgroups:           ok("v2-unified"),
				types.LayerImageVerification: unavailable("image signature verification not configured"),
				types.LayerVMIsolation:       unavailable("VM isolation not configured"),
			}
			status[tt.layer] = unavailable("unavailable for test")
			stack := stackWithStatus(status)

			report, err := stack.Apply(tt.policy, types.NewContainerId())
			if err == nil {
				t.Error("Apply() error = nil, want NotAvailable error")
			}

			var found bool
			for _, s := range report.Layers {
				if s.Layer != tt.layer {
					continue
				}
				found = true
				if s.Outcome != types.OutcomeFailed {
					t.Errorf("layer %s outcome = %s, want Failed", s.Layer, s.Outcome)
				}
			}
			if !found {
				t.Fatalf("report has no status for layer %s", tt.layer)
			}
		})
	}
}

// TestApplyDisabledByPolicy covers the layers whose "disabled by policy"
// path depends on policy fields rather than host capability: namespaces
// (empty NamespaceKinds), seccomp (SeccompDisabled sentinel), Landlock
// (empty LandlockRulesets) and image verification (VerifyImageSig false).
func TestApplyDisabledByPolicy(t *testing.T) {
	status := hardenedStatus()
	status[types.LayerLandlock] = ok("abi=5")
	stack := stackWithStatus(status)

	policy := &types.SecurityPolicy{
		Posture:        types.PostureBestEffort,
		SeccompProfile: types.SeccompDisabled,
	}

	report, err := stack.Apply(policy, types.NewContainerId())
	if err != nil {
		t.Fatalf("Apply() returned error = %v, want nil", err)
	}

	want := map[types.SecurityLayer]string{
		types.LayerUserNamespaces:    "disabled by policy",
		types.LayerLandlock:          "disabled by policy",
		types.LayerSeccomp:           "disabled by policy",
		types.LayerImageVerification: "disabled by policy",
	}
	for _, ls := range report.Layers {
		reason, ok := want[ls.Layer]
		if !ok {
			continue
		}
		if ls.Outcome != types.OutcomeSkipped {
			t.Errorf("layer %s outcome = %s, want Skipped", ls.Layer, ls.Outcome)
		}
		if ls.Reason != reason {
			t.Errorf("layer %s reason = %q, want %q", ls.Layer, ls.Reason, reason)
		}
	}
}

func TestAuditScoreAndIsAcceptable(t *testing.T) {
	stack := stackWithStatus(hardenedStatus())
	audit := stack.Audit()

	if len(audit.Layers) != len(types.SecurityLayerOrder) {
		t.Fatalf("Audit() returned %d layers, want %d", len(audit.Layers), len(types.SecurityLayerOrder))
	}
	if len(audit.Recommendations) == 0 {
		t.Error("Audit() returned no recommendations for a host with unavailable layers")
	}
	// 3 of 6 layers available in hardenedStatus (namespaces, seccomp, cgroups).
	if audit.Score < 0.49 || audit.Score > 0.51 {
		t.Errorf("Audit().Score = %v, want ~0.5", audit.Score)
	}
	if !audit.IsAcceptable() {
		t.Error("IsAcceptable() = false, want true at score 0.5")
	}
}
