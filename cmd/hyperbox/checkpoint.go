package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/criu"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Checkpoint and restore containers via CRIU",
}

func init() {
	checkpointCmd.PersistentFlags().String("checkpoint-dir", "/var/lib/hyperbox/checkpoints", "Checkpoint storage root")
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRmCmd)

	checkpointCreateCmd.Flags().Bool("leave-running", false, "Leave the container running after the dump")
	checkpointCreateCmd.Flags().Bool("tcp-established", false, "Checkpoint established TCP connections")
}

func criuManager(cmd *cobra.Command) (*criu.Manager, error) {
	dir, _ := cmd.Flags().GetString("checkpoint-dir")
	m := criu.NewManager(dir)
	if err := m.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create CONTAINER PID",
	Short: "Checkpoint a running container's process tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := criuManager(cmd)
		if err != nil {
			return err
		}
		var pid int
		if _, err := fmt.Sscanf(args[1], "%d", &pid); err != nil {
			return herrors.New(herrors.InvalidSpec, "cli.checkpoint.create", herrors.WithContext("pid", args[1]))
		}

		leaveRunning, _ := cmd.Flags().GetBool("leave-running")
		tcpEstablished, _ := cmd.Flags().GetBool("tcp-established")

		cp, err := m.Checkpoint(context.Background(), args[0], args[0], pid, criu.Options{
			LeaveRunning:   leaveRunning,
			TCPEstablished: tcpEstablished,
		})
		if err != nil {
			return err
		}
		fmt.Printf("checkpoint created: %s (%d bytes)\n", cp.Path, cp.SizeBytes)
		return nil
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore CONTAINER",
	Short: "Restore a container from its most recent checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := criuManager(cmd)
		if err != nil {
			return err
		}
		cp, ok, err := m.GetCheckpoint(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return herrors.New(herrors.CheckpointNotFound, "cli.checkpoint.restore", herrors.WithContext("container", args[0]))
		}
		pid, err := m.Restore(context.Background(), cp)
		if err != nil {
			return err
		}
		fmt.Printf("restored as pid %d\n", pid)
		return nil
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := criuManager(cmd)
		if err != nil {
			return err
		}
		checkpoints, err := m.ListCheckpoints()
		if err != nil {
			return err
		}
		for _, cp := range checkpoints {
			fmt.Printf("%s\t%s\t%d bytes\t%s\n", cp.ContainerID, cp.Image, cp.SizeBytes, cp.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	},
}

var checkpointRmCmd = &cobra.Command{
	Use:   "rm CONTAINER",
	Short: "Delete a stored checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := criuManager(cmd)
		if err != nil {
			return err
		}
		return m.DeleteCheckpoint(args[0])
	},
}
