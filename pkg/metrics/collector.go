package metrics

import (
	"time"
)

// DedupStatsSource is satisfied by a dedup engine/store that can report its
// current chunk population and dedup ratio.
type DedupStatsSource interface {
	ChunkCount() int
	DedupRatio() float64
	StoreBytes() int64
}

// MemoryStatsSource is satisfied by a memory manager that can report
// per-container working set estimates.
type MemoryStatsSource interface {
	WorkingSets() map[string]int64 // container id -> bytes
}

// NydusStatsSource is satisfied by a Nydus manager that can report cache
// occupancy and daemon count.
type NydusStatsSource interface {
	CacheBytes() int64
	DaemonCount() int
}

// Collector periodically polls the registered sources and updates the
// corresponding gauges. Sources are optional; a nil source is skipped.
type Collector struct {
	dedup  DedupStatsSource
	memory MemoryStatsSource
	nydus  NydusStatsSource
	stopCh chan struct{}
}

// NewCollector creates a collector polling whichever sources are non-nil.
func NewCollector(dedup DedupStatsSource, memory MemoryStatsSource, nydus NydusStatsSource) *Collector {
	return &Collector{
		dedup:  dedup,
		memory: memory,
		nydus:  nydus,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every interval until Stop is called.
func (c *Collector) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.dedup != nil {
		ChunksTotal.Set(float64(c.dedup.ChunkCount()))
		DedupRatio.Set(c.dedup.DedupRatio())
		ChunkStoreBytes.Set(float64(c.dedup.StoreBytes()))
	}
	if c.memory != nil {
		for containerID, bytes := range c.memory.WorkingSets() {
			WorkingSetBytes.WithLabelValues(containerID).Set(float64(bytes))
		}
	}
	if c.nydus != nil {
		NydusCacheBytes.Set(float64(c.nydus.CacheBytes()))
		NydusDaemonsRunning.Set(float64(c.nydus.DaemonCount()))
	}
}
