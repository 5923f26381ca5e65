package memory

import (
	"fmt"
	"os"
	"sync"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
)

const ksmRoot = "/sys/kernel/mm/ksm"

// ksmController tracks per-process KSM enablement and cached host stats.
type ksmController struct {
	mu          sync.RWMutex
	status      KSMStatus
	enabledPIDs map[int]struct{}
}

func newKSMController() *ksmController {
	return &ksmController{enabledPIDs: make(map[int]struct{})}
}

// enableForPID turns on per-process page merging (MMF_VM_MERGE_ANY) via
// /proc/<pid>/ksm_merging. Requires kernel 6.4+.
func (k *ksmController) enableForPID(pid int) error {
	path := fmt.Sprintf("/proc/%d/ksm_merging", pid)
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		return herrors.Wrap(herrors.PredictionFailed, "memory.ksm.enable",
			herrors.WithContext("pid", fmt.Sprintf("%d", pid)), err)
	}

	k.mu.Lock()
	k.enabledPIDs[pid] = struct{}{}
	k.mu.Unlock()
	return nil
}

// refresh re-reads host-wide KSM counters from sysfs.
func (k *ksmController) refresh(pageSize uint64) error {
	pagesSharing, err := readSysfsUint64(ksmRoot + "/pages_sharing")
	if err != nil {
		pagesSharing = 0
	}
	pagesShared, err := readSysfsUint64(ksmRoot + "/pages_shared")
	if err != nil {
		pagesShared = 0
	}

	_, runErr := os.Stat(ksmRoot + "/run")

	k.mu.Lock()
	defer k.mu.Unlock()
	k.status.HostEnabled = runErr == nil
	k.status.PagesSharing = pagesSharing
	k.status.PagesShared = pagesShared
	k.status.BytesSaved = pagesSharing * pageSize
	return nil
}

func (k *ksmController) snapshot() KSMStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()

	status := k.status
	status.EnabledPIDs = make([]int, 0, len(k.enabledPIDs))
	for pid := range k.enabledPIDs {
		status.EnabledPIDs = append(status.EnabledPIDs, pid)
	}
	return status
}
