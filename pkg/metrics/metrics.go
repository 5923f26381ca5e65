package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Container metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperbox_containers_total",
			Help: "Total number of containers by state",
		},
		[]string{"state"},
	)

	ContainerCreateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperbox_container_create_duration_seconds",
			Help:    "Time taken to create a container, by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	ContainerStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperbox_container_start_duration_seconds",
			Help:    "Time taken to start a container, by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Dedup / chunk store metrics
	ChunksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperbox_dedup_chunks_total",
			Help: "Total number of unique chunks in the chunk store",
		},
	)

	DedupRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperbox_dedup_ratio",
			Help: "Fraction of chunks seen that duplicated an already stored chunk (1 - unique/seen)",
		},
	)

	ChunkStoreBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperbox_dedup_store_bytes",
			Help: "Physical bytes occupied by the chunk store after compression",
		},
	)

	ChunkingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperbox_dedup_chunking_duration_seconds",
			Help:    "Time taken to chunk a layer with FastCDC",
			Buckets: prometheus.DefBuckets,
		},
	)

	BloomFalsePositives = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyperbox_dedup_bloom_false_positives_total",
			Help: "Count of bloom filter positives that were not confirmed present",
		},
	)

	// Security stack metrics
	SecurityLayersApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperbox_security_layers_applied_total",
			Help: "Count of security layer applications by layer and outcome",
		},
		[]string{"layer", "outcome"},
	)

	SecurityAuditScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperbox_security_audit_score",
			Help: "Fraction of requested security layers that were applied, per container",
		},
		[]string{"container_id"},
	)

	// CRIU checkpoint/restore metrics
	CheckpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperbox_criu_checkpoint_duration_seconds",
			Help:    "Time taken for a CRIU dump, by kind (full, pre-dump, incremental)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RestoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hyperbox_criu_restore_duration_seconds",
			Help:    "Time taken for a CRIU restore, by kind (full, lazy)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CheckpointsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperbox_criu_checkpoints_total",
			Help: "Total number of retained checkpoints",
		},
	)

	LazyPageFaultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyperbox_criu_lazy_page_faults_total",
			Help: "Total number of userfaultfd page faults served during lazy restore",
		},
	)

	// Memory manager metrics
	BalloonAdjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperbox_memory_balloon_adjustments_total",
			Help: "Count of balloon size adjustments by reason",
		},
		[]string{"reason"},
	)

	WorkingSetBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyperbox_memory_working_set_bytes",
			Help: "Latest sampled working set (anon + active file + reclaimable slab) per container",
		},
		[]string{"container_id"},
	)

	KSMMergedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperbox_memory_ksm_merged_bytes",
			Help: "Bytes reclaimed across containers via KSM page merging",
		},
	)

	// Nydus metrics
	NydusCacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperbox_nydus_cache_bytes",
			Help: "Bytes occupied by the Nydus blob cache",
		},
	)

	NydusCacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyperbox_nydus_cache_evictions_total",
			Help: "Total number of blobs evicted from the Nydus cache by LRU GC",
		},
	)

	NydusDaemonsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperbox_nydus_daemons_running",
			Help: "Number of nydusd daemons currently running",
		},
	)

	// Project orchestrator metrics
	ProjectsUpTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyperbox_project_up_total",
			Help: "Number of currently running projects",
		},
	)

	ProjectUpDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyperbox_project_up_duration_seconds",
			Help:    "Time taken to bring a project's containers up in dependency order",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProjectRollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyperbox_project_rollbacks_total",
			Help: "Count of project orchestration rollbacks by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		ContainersTotal,
		ContainerCreateDuration,
		ContainerStartDuration,
		ChunksTotal,
		DedupRatio,
		ChunkStoreBytes,
		ChunkingDuration,
		BloomFalsePositives,
		SecurityLayersApplied,
		SecurityAuditScore,
		CheckpointDuration,
		RestoreDuration,
		CheckpointsTotal,
		LazyPageFaultsTotal,
		BalloonAdjustmentsTotal,
		WorkingSetBytes,
		KSMMergedBytes,
		NydusCacheBytes,
		NydusCacheEvictionsTotal,
		NydusDaemonsRunning,
		ProjectsUpTotal,
		ProjectUpDuration,
		ProjectRollbacksTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
