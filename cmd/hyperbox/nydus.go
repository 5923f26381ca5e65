package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/hyperbox/pkg/nydus"
	"github.com/cuemby/hyperbox/pkg/storage"
)

var nydusCmd = &cobra.Command{
	Use:   "nydus",
	Short: "Convert and serve images via Nydus RAFS acceleration",
}

func init() {
	nydusCmd.PersistentFlags().String("work-dir", "/var/lib/hyperbox/nydus", "Nydus working directory")
	nydusCmd.PersistentFlags().String("store-dir", "/var/lib/hyperbox", "HyperBox storage directory")

	nydusCmd.AddCommand(nydusConvertCmd)
	nydusCmd.AddCommand(nydusGCCmd)
	nydusCmd.AddCommand(nydusCacheStatsCmd)

	nydusGCCmd.Flags().Uint64("max-size-mb", 10240, "Maximum cache size in MiB before eviction")
	nydusGCCmd.Flags().Bool("dry-run", false, "Report what would be evicted without deleting")
}

func nydusManager(cmd *cobra.Command) (*nydus.Manager, error) {
	workDir, _ := cmd.Flags().GetString("work-dir")
	storeDir, _ := cmd.Flags().GetString("store-dir")

	store, err := storage.NewBoltStore(storeDir)
	if err != nil {
		return nil, err
	}

	mgr := nydus.NewManager(workDir, nydus.DefaultDaemonConfig(), store)
	if err := mgr.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return mgr, nil
}

var nydusConvertCmd = &cobra.Command{
	Use:   "convert IMAGE_REF SOURCE_DIR",
	Short: "Convert an unpacked OCI layer directory to a RAFS v6 bootstrap",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := nydusManager(cmd)
		if err != nil {
			return err
		}
		img, err := mgr.ConvertImage(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("bootstrap: %s (%d bytes, %d chunks)\n", img.BootstrapPath, img.BootstrapSize, img.ChunkCount)
		return nil
	},
}

var nydusGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Evict least-recently-used blob cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := nydusManager(cmd)
		if err != nil {
			return err
		}
		maxSizeMB, _ := cmd.Flags().GetUint64("max-size-mb")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		freed, err := mgr.GC(context.Background(), maxSizeMB, dryRun)
		if err != nil {
			return err
		}
		if dryRun {
			fmt.Printf("would free %d bytes\n", freed)
		} else {
			fmt.Printf("freed %d bytes\n", freed)
		}
		return nil
	},
}

var nydusCacheStatsCmd = &cobra.Command{
	Use:   "cache-stats",
	Short: "Report shared blob cache size and dedup ratio",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := nydusManager(cmd)
		if err != nil {
			return err
		}
		stats, err := mgr.GetCacheStats()
		if err != nil {
			return err
		}
		fmt.Printf("cached: %d bytes across %d blobs (dedup ratio %.2f)\n", stats.BytesCached, stats.CachedBlobs, stats.DedupRatio)
		return nil
	},
}
