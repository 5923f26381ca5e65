package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/hyperbox/pkg/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Sample and adjust dynamic container memory (balloon, KSM)",
}

func init() {
	memoryCmd.AddCommand(memoryStatusCmd)
	memoryCmd.AddCommand(memoryKSMCmd)
	memoryKSMCmd.Flags().Int("pid", 0, "Process PID to enable KSM for")
}

// memoryManagerForIDs builds a Manager under its default config and
// registers every container id given on the command line. It runs only
// PollOnce, not StartPolling: the CLI is a one-shot inspection tool, the
// background loop is the daemon's job.
func memoryManagerForIDs(ids []string) *memory.Manager {
	m := memory.NewManager(memory.DefaultConfig())
	for _, id := range ids {
		m.RegisterContainer(id)
	}
	return m
}

var memoryStatusCmd = &cobra.Command{
	Use:   "status CONTAINER_ID [CONTAINER_ID...]",
	Short: "Sample tracked containers once and report balloon adjustments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := memoryManagerForIDs(args)
		adjustments, err := m.PollOnce()
		if err != nil {
			return err
		}

		for _, id := range args {
			state, ok := m.ContainerState(id)
			if !ok || state.LatestSample == nil {
				fmt.Printf("%s\tno sample available\n", id)
				continue
			}
			s := state.LatestSample
			fmt.Printf("%s\tworking-set=%d bytes\tusage=%.2f%%\treclaimable=%d bytes\n",
				id, s.WorkingSetBytes(), s.UsageRatio()*100, s.ReclaimableBytes())
		}

		for _, adj := range adjustments {
			fmt.Printf("  balloon %s -> %d bytes (%s)\n", adj.ContainerID, adj.TargetBytes, adj.Reason)
		}

		stats := m.Stats()
		fmt.Printf("polls=%d adjustments=%d reclaimed=%d returned=%d\n",
			stats.PollsCompleted, stats.AdjustmentsMade, stats.BytesReclaimed, stats.BytesReturned)
		return nil
	},
}

var memoryKSMCmd = &cobra.Command{
	Use:   "ksm-enable CONTAINER_ID",
	Short: "Enable kernel same-page merging for a container's process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, _ := cmd.Flags().GetInt("pid")
		m := memoryManagerForIDs(args)
		if err := m.EnableKSMForContainer(args[0], pid); err != nil {
			return err
		}
		status := m.KSMStatus()
		fmt.Printf("ksm enabled: host_enabled=%t pages_sharing=%d\n", status.HostEnabled, status.PagesSharing)
		return nil
	},
}
