package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/hyperbox/pkg/dedup"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Content-defined chunking, deduplication, and layer diffing",
}

func init() {
	dedupCmd.AddCommand(dedupProcessCmd)
	dedupCmd.AddCommand(dedupDiffCmd)
}

var dedupProcessCmd = &cobra.Command{
	Use:   "process LAYER_ID FILE",
	Short: "Chunk a layer file with FastCDC and report the dedup ratio",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}

		mgr, err := dedup.NewDedupManager()
		if err != nil {
			return err
		}

		result, err := mgr.ProcessImageLayer(args[0], data)
		if err != nil {
			return err
		}

		fmt.Printf("layer %s: %d chunks (%d new, %d duplicate)\n",
			args[0], result.TotalChunks, result.NewChunks, result.DuplicateChunks)
		fmt.Printf("original=%d bytes stored=%d bytes ratio=%.2f\n",
			result.OriginalSize, result.StoredSize, result.DedupRatio)

		if tree, ok := mgr.GetTree(args[0]); ok {
			if root, ok := tree.RootHash(); ok {
				fmt.Printf("merkle root: %x\n", root)
			}
		}
		return nil
	},
}

var dedupDiffCmd = &cobra.Command{
	Use:   "diff LAYER_A LAYER_B FILE_A FILE_B",
	Short: "Process two layer versions and report their Merkle diff",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataA, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		dataB, err := os.ReadFile(args[3])
		if err != nil {
			return err
		}

		mgr, err := dedup.NewDedupManager()
		if err != nil {
			return err
		}
		if _, err := mgr.ProcessImageLayer(args[0], dataA); err != nil {
			return err
		}
		if _, err := mgr.ProcessImageLayer(args[1], dataB); err != nil {
			return err
		}

		diff, ok := mgr.DiffLayers(args[0], args[1])
		if !ok {
			fmt.Println("no diff available for one or both layers")
			return nil
		}

		fmt.Printf("changed chunks: %d/%d (%.2f%% change)\n",
			len(diff.ChangedLeafIndices), diff.TotalLeavesNew, diff.ChangeRatio()*100)
		return nil
	},
}
