package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
	"github.com/cuemby/hyperbox/pkg/runtime"
	"github.com/cuemby/hyperbox/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hyperbox",
	Short: "HyperBox - a polymorphic container runtime with image acceleration",
	Long: `HyperBox runs containers across multiple backends (crun, youki, Docker,
wasmtime) behind one lifecycle contract, with checkpoint/restore, content
deduplication, Nydus on-demand image pulling, dynamic VM memory ballooning,
and multi-container project orchestration.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hyperbox version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("backend", "crun", "Runtime backend (crun, youki, docker, wasm)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(nydusCmd)
	rootCmd.AddCommand(securityCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(daemonCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// resolveBackend builds the runtime.Runtime named by --backend. Docker is
// constructed non-experimental, so checkpoint/restore on it always returns
// NotSupported.
func resolveBackend(cmd *cobra.Command) (runtime.Runtime, error) {
	name, _ := cmd.Flags().GetString("backend")
	switch strings.ToLower(name) {
	case "crun":
		return runtime.NewCrunRuntime(), nil
	case "youki":
		return runtime.NewYoukiRuntime(), nil
	case "docker":
		return runtime.NewDockerRuntime(false)
	case "wasm":
		return runtime.NewWASMRuntime(), nil
	default:
		return nil, herrors.New(herrors.InvalidSpec, "cli.resolveBackend", herrors.WithContext("backend", name))
	}
}

// parseContainerID decodes the CLI's 32-char hex container id argument.
func parseContainerID(s string) (types.ContainerId, error) {
	var id types.ContainerId
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, herrors.New(herrors.InvalidSpec, "cli.parseContainerID", herrors.WithContext("id", s))
	}
	copy(id[:], b)
	return id, nil
}

var runCmd = &cobra.Command{
	Use:   "run [flags] IMAGE [COMMAND...]",
	Short: "Create and start a container",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := resolveBackend(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		env, _ := cmd.Flags().GetStringToString("env")

		spec := &types.ContainerSpec{
			Name:    name,
			Image:   parseImageArg(args[0]),
			Command: args[1:],
			Env:     env,
		}

		ctx := context.Background()
		id, err := rt.Create(ctx, spec)
		if err != nil {
			return err
		}
		if err := rt.Start(ctx, id); err != nil {
			return err
		}
		fmt.Println(id.String())
		return nil
	},
}

func init() {
	runCmd.Flags().String("name", "", "Container name")
	runCmd.Flags().StringToString("env", nil, "Environment variables (KEY=VALUE)")
}

// parseImageArg splits "registry/repo:tag" without validating against a
// registry, matching the orchestrator's own lenient reference parsing.
func parseImageArg(ref string) types.ImageRef {
	repo := ref
	tag := ""
	dgst := ""
	if at := strings.Index(repo, "@"); at >= 0 {
		dgst = repo[at+1:]
		repo = repo[:at]
	} else if colon := strings.LastIndex(repo, ":"); colon >= 0 && !strings.Contains(repo[colon:], "/") {
		tag = repo[colon+1:]
		repo = repo[:colon]
	}
	registry := ""
	if slash := strings.Index(repo, "/"); slash >= 0 && strings.ContainsAny(repo[:slash], ".:") {
		registry = repo[:slash]
		repo = repo[slash+1:]
	}
	return types.ImageRef{Registry: registry, Repository: repo, Tag: tag, Digest: dgst}
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := resolveBackend(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		ids, err := rt.List(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			state, err := rt.State(ctx, id)
			if err != nil {
				fmt.Printf("%s\t<error: %v>\n", id.ShortID(), err)
				continue
			}
			fmt.Printf("%s\t%s\n", id.ShortID(), state.State)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop CONTAINER",
	Short: "Stop a running container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := resolveBackend(cmd)
		if err != nil {
			return err
		}
		id, err := parseContainerID(args[0])
		if err != nil {
			return err
		}
		timeoutSec, _ := cmd.Flags().GetInt("timeout")
		return rt.Stop(context.Background(), id, time.Duration(timeoutSec)*time.Second)
	},
}

func init() {
	stopCmd.Flags().Int("timeout", 10, "Seconds to wait before killing")
}

var rmCmd = &cobra.Command{
	Use:   "rm CONTAINER",
	Short: "Remove a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := resolveBackend(cmd)
		if err != nil {
			return err
		}
		id, err := parseContainerID(args[0])
		if err != nil {
			return err
		}
		return rt.Remove(context.Background(), id)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec CONTAINER COMMAND [ARGS...]",
	Short: "Run a command inside a running container",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := resolveBackend(cmd)
		if err != nil {
			return err
		}
		id, err := parseContainerID(args[0])
		if err != nil {
			return err
		}
		res, err := rt.Exec(context.Background(), id, runtime.ExecRequest{Command: args[1:]})
		if err != nil {
			return err
		}
		os.Stdout.Write(res.Stdout)
		os.Stderr.Write(res.Stderr)
		if res.ExitCode != 0 {
			os.Exit(res.ExitCode)
		}
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs CONTAINER",
	Short: "Fetch container logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := resolveBackend(cmd)
		if err != nil {
			return err
		}
		id, err := parseContainerID(args[0])
		if err != nil {
			return err
		}
		follow, _ := cmd.Flags().GetBool("follow")
		r, err := rt.Logs(context.Background(), id, follow)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(os.Stdout, r)
		return err
	},
}

func init() {
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
}
