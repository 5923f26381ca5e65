package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/google/uuid"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/project"
	"github.com/cuemby/hyperbox/pkg/types"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Bring up and tear down multi-container projects",
}

func init() {
	projectCmd.AddCommand(projectUpCmd)
	projectCmd.AddCommand(projectDownCmd)

	projectUpCmd.Flags().String("file", "docker-compose.yaml", "Compose file path (ignored with --devcontainer)")
	projectUpCmd.Flags().Bool("devcontainer", false, "Load a .devcontainer/devcontainer.json instead of a Compose file")
	projectUpCmd.Flags().String("name", "", "Project name override")
}

// loadProjectConfig resolves a ProjectConfig from either a devcontainer.json
// (search order handled by pkg/project) or an explicit Compose file path.
func loadProjectConfig(cmd *cobra.Command, root string) (types.ProjectConfig, error) {
	name, _ := cmd.Flags().GetString("name")
	useDevContainer, _ := cmd.Flags().GetBool("devcontainer")

	if useDevContainer {
		cfg, err := project.LoadDevContainerConfig(root)
		if err != nil {
			return types.ProjectConfig{}, err
		}
		pc := project.DevContainerToProjectConfig(cfg, root)
		if name != "" {
			pc.Name = name
		}
		return pc, nil
	}

	file, _ := cmd.Flags().GetString("file")
	if !filepath.IsAbs(file) {
		file = filepath.Join(root, file)
	}
	return project.ParseComposeFile(file, name)
}

var projectUpCmd = &cobra.Command{
	Use:   "up [ROOT]",
	Short: "Start every container in a project in dependency order",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return err
		}

		cfg, err := loadProjectConfig(cmd, absRoot)
		if err != nil {
			return err
		}

		rt, err := resolveBackend(cmd)
		if err != nil {
			return err
		}

		proj := &types.Project{
			ID:     uuid.New().String(),
			Name:   cfg.Name,
			Root:   absRoot,
			Config: cfg,
			State:  types.ProjectStateDown,
		}

		orch := project.NewOrchestrator(rt)
		ids, err := orch.StartProject(context.Background(), proj)
		if err != nil {
			return err
		}

		proj.State = types.ProjectStateUp
		proj.Containers = make(map[string]types.ContainerId, len(ids))
		for i, def := range cfg.Containers {
			if i < len(ids) {
				proj.Containers[def.Name] = ids[i]
			}
		}

		fmt.Printf("project %s up: %d containers\n", proj.Name, len(ids))
		for name, id := range proj.Containers {
			fmt.Printf("  %s\t%s\n", name, id.ShortID())
		}
		return nil
	},
}

var projectDownCmd = &cobra.Command{
	Use:   "down CONTAINER_ID [CONTAINER_ID...]",
	Short: "Stop and remove a project's containers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := resolveBackend(cmd)
		if err != nil {
			return err
		}

		ids := make([]types.ContainerId, 0, len(args))
		for _, a := range args {
			id, err := parseContainerID(a)
			if err != nil {
				return herrors.Wrap(herrors.InvalidSpec, "cli.project.down", herrors.WithContext("id", a), err)
			}
			ids = append(ids, id)
		}

		orch := project.NewOrchestrator(rt)
		orch.StopProject(context.Background(), ids)
		orch.RemoveContainers(context.Background(), ids)
		fmt.Printf("project down: %d containers removed\n", len(ids))
		return nil
	},
}
