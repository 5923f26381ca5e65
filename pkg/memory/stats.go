package memory

import "sync/atomic"

// managerStats holds lock-free aggregate counters across all tracked
// containers.
type managerStats struct {
	pollsCompleted     atomic.Uint64
	bytesReclaimed     atomic.Uint64
	bytesReturned      atomic.Uint64
	ksmSavingsBytes    atomic.Uint64
	adjustmentsMade    atomic.Uint64
	containersTracked  atomic.Uint64
}

// Stats is a point-in-time snapshot of managerStats.
type Stats struct {
	PollsCompleted    uint64
	BytesReclaimed    uint64
	BytesReturned     uint64
	KSMSavingsBytes   uint64
	AdjustmentsMade   uint64
	ContainersTracked uint64
}

func (s *managerStats) snapshot() Stats {
	return Stats{
		PollsCompleted:    s.pollsCompleted.Load(),
		BytesReclaimed:    s.bytesReclaimed.Load(),
		BytesReturned:     s.bytesReturned.Load(),
		KSMSavingsBytes:   s.ksmSavingsBytes.Load(),
		AdjustmentsMade:   s.adjustmentsMade.Load(),
		ContainersTracked: s.containersTracked.Load(),
	}
}

// KSMStatus reports the host's kernel same-page merging state.
type KSMStatus struct {
	HostEnabled   bool
	PagesSharing  uint64
	PagesShared   uint64
	BytesSaved    uint64
	EnabledPIDs   []int
}
