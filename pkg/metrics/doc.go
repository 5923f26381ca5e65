/*
Package metrics provides Prometheus metrics collection and exposition for
HyperBox.

Metrics are registered at package init via prometheus.MustRegister and
exposed over HTTP via Handler() for scraping. A Collector polls stat-bearing
managers (dedup, memory, nydus) on an interval and updates their gauges;
the container create and start latency histograms are recorded inline by the
runtime backends using a Timer. The checkpoint, restore, chunking and
project-up histograms are registered but no package observes them.

# Metric Categories

  - Containers: count by state, create/start duration by backend
  - Dedup: chunk count, dedup ratio, store bytes, chunking duration, bloom false positives
  - Security: layer application outcome counts, per-container audit score
  - CRIU: checkpoint/restore duration by kind, retained checkpoint count, lazy page faults
  - Memory: balloon adjustments by reason, per-container working set, KSM merged bytes
  - Nydus: cache bytes, cache evictions, running daemon count
  - Project: projects up, up duration, rollbacks by reason

# Usage

	timer := metrics.NewTimer()
	// ... create container ...
	timer.ObserveDurationVec(metrics.ContainerCreateDuration, backend)

	collector := metrics.NewCollector(dedupEngine, memoryManager, nydusManager)
	collector.Start(15 * time.Second)
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

# Health

This package also exposes a small health/readiness/liveness registry
(HealthChecker, RegisterComponent, HealthHandler, ReadyHandler,
LivenessHandler) independent of Prometheus, used by cmd/hyperbox to back
/health and /ready endpoints when running as a long-lived daemon.

# See Also

  - https://prometheus.io/docs/practices/naming/ for metric naming conventions
*/
package metrics
