package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/hyperbox/pkg/dedup"
	"github.com/cuemby/hyperbox/pkg/log"
	"github.com/cuemby/hyperbox/pkg/memory"
	"github.com/cuemby/hyperbox/pkg/metrics"
	"github.com/cuemby/hyperbox/pkg/nydus"
	"github.com/cuemby/hyperbox/pkg/runtime"
	"github.com/cuemby/hyperbox/pkg/storage"
	"github.com/cuemby/hyperbox/pkg/types"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the metrics collector and container-state poller as a background service",
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics on")
	daemonCmd.Flags().Duration("poll-interval", 5*time.Second, "Interval between metrics collection passes")
	daemonCmd.Flags().String("work-dir", "/var/lib/hyperbox/nydus", "Nydus working directory")
	daemonCmd.Flags().String("store-dir", "/var/lib/hyperbox", "HyperBox storage directory")
}

// runDaemon wires a dedup/memory/nydus-backed metrics.Collector to the
// registered Prometheus gauges and polls the selected runtime backend for
// per-state container counts, mirroring the teacher's manager-process
// bootstrap: background collector, HTTP metrics endpoint, then block on
// SIGINT/SIGTERM for an orderly shutdown.
func runDaemon(cmd *cobra.Command, args []string) error {
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
	workDir, _ := cmd.Flags().GetString("work-dir")
	storeDir, _ := cmd.Flags().GetString("store-dir")

	store, err := storage.NewBoltStore(storeDir)
	if err != nil {
		return err
	}

	dedupMgr, err := dedup.NewDedupManager()
	if err != nil {
		return err
	}
	memMgr := memory.NewManager(memory.DefaultConfig())
	nydusMgr := nydus.NewManager(workDir, nydus.DefaultDaemonConfig(), store)
	if err := nydusMgr.Initialize(context.Background()); err != nil {
		return err
	}

	collector := metrics.NewCollector(dedupMgr, memMgr, nydusMgr)
	collector.Start(pollInterval)
	log.Info("metrics collector started")

	rt, err := resolveBackend(cmd)
	if err != nil {
		return err
	}

	stopPoll := make(chan struct{})
	go pollContainerStates(rt, pollInterval, stopPoll)

	errCh := make(chan error, 1)
	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			errCh <- err
		}
	}()
	fmt.Printf("metrics endpoint: http://%s/metrics\n", metricsAddr)
	fmt.Println("daemon running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nshutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nmetrics server error: %v\n", err)
	}

	close(stopPoll)
	collector.Stop()
	return nil
}

// pollContainerStates refreshes the hyperbox_containers_total gauge by
// state every interval until stop is closed. A List/State error just skips
// that pass; it does not stop the poller, since a transient backend hiccup
// shouldn't take metrics collection down with it.
func pollContainerStates(rt runtime.Runtime, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	collect := func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()

		ids, err := rt.List(ctx)
		if err != nil {
			log.Errorf("daemon: list containers for metrics", err)
			return
		}

		counts := make(map[types.ContainerState]int)
		for _, id := range ids {
			st, err := rt.State(ctx, id)
			if err != nil {
				continue
			}
			counts[st.State]++
		}
		for state, n := range counts {
			metrics.ContainersTotal.WithLabelValues(string(state)).Set(float64(n))
		}
	}

	collect()
	for {
		select {
		case <-ticker.C:
			collect()
		case <-stop:
			return
		}
	}
}
