/*
Package memory implements dynamic VM memory management: keeping host RAM
usage proportional to each container's actual working set rather than its
configured cgroup limit.

	┌─────────────────────────────────────────────────────────────┐
	│  Manager                                                     │
	│  ┌────────────┐  ┌──────────────┐  ┌────────────────────┐  │
	│  │  Balloon    │  │ Free-page    │  │ KSM (kernel 6.4+)  │  │
	│  │  decisions  │  │ reporting    │  │ per-process merge  │  │
	│  └──────┬─────┘  └──────┬───────┘  └────────┬───────────┘  │
	│         │               │                    │              │
	│  ┌──────▼───────────────▼────────────────────▼──────────┐  │
	│  │         cgroup v2 memory controller                   │  │
	│  │   memory.current · memory.max · memory.stat           │  │
	│  └──────────────────────────────────────────────────────┘  │
	└─────────────────────────────────────────────────────────────┘

RegisterContainer/UnregisterContainer track which containers participate.
PollOnce samples every tracked container's cgroup-v2 accounting, updates an
exponential moving average of its working set, detects sustained idle, and
computes at most one BalloonAdjustment per container per poll by checking
three rules in order: expansion (usage above the high watermark), idle
reclaim (aggressive shrink while idle), and normal reclaim (working set well
below the effective limit). Adjustments smaller than one mebibyte are
dropped as noise. The caller applies the returned deltas to its own
virtio-balloon control socket — this package only decides targets, it does
not drive a hypervisor.

StartPolling runs PollOnce on a ticker in a background goroutine until Stop
is called. EnableKSMForContainer and RefreshKSMStatus expose kernel
same-page merging for hosts running similar containers (e.g. many identical
JVM or Node.js processes) where page-level deduplication recovers memory
the balloon alone cannot.
*/
package memory
