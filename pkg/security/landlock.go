package security

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// landlockCreateRulesetVersion is LANDLOCK_CREATE_RULESET_VERSION, the flag
// that turns landlock_create_ruleset(2) into a pure ABI-version probe
// instead of an actual ruleset creation call.
const landlockCreateRulesetVersion = 1 << 0

// sysLandlockCreateRuleset is the landlock_create_ruleset syscall number.
// Landlock was added to the generic syscall table, so the number is the
// same across every architecture Go supports.
const sysLandlockCreateRuleset = 444

// landlockABIVersion probes the running kernel's Landlock ABI version by
// calling landlock_create_ruleset(NULL, 0, LANDLOCK_CREATE_RULESET_VERSION).
// A kernel without Landlock support returns ENOSYS.
func landlockABIVersion() (int, error) {
	r, _, errno := unix.Syscall(sysLandlockCreateRuleset, 0, 0, landlockCreateRulesetVersion)
	if errno != 0 {
		return 0, fmt.Errorf("landlock_create_ruleset probe: %w", errno)
	}
	return int(r), nil
}

// abiVersionLabel formats a Landlock ABI version the way the security
// audit reports it, e.g. "V4".
func abiVersionLabel(abi int) string {
	return fmt.Sprintf("V%d", abi)
}
