// Package project turns a ProjectConfig — parsed from a DevContainer or
// Compose file — into running containers: it resolves each ContainerDef
// into a runtime.Runtime-ready ContainerSpec, brings the project up in
// dependency order, and rolls back on any failure.
package project

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
	"github.com/cuemby/hyperbox/pkg/runtime"
	"github.com/cuemby/hyperbox/pkg/types"
	"github.com/cuemby/hyperbox/pkg/volume"
)

const stopTimeout = 10 * time.Second

// defaultPidsLimit matches the teacher's per-project-container ceiling; it
// applies whenever a ContainerDef carries no explicit pids limit.
const defaultPidsLimit = 4096

// Orchestrator drives a Project's containers through a single runtime
// backend. It does not persist Project state; callers own that.
type Orchestrator struct {
	rt runtime.Runtime
}

// NewOrchestrator builds an Orchestrator bound to rt.
func NewOrchestrator(rt runtime.Runtime) *Orchestrator {
	return &Orchestrator{rt: rt}
}

// StartProject brings up every container in proj.Config in dependency
// order. On any create or start failure it stops everything started so far
// in reverse order, then removes it, and returns the triggering error.
func (o *Orchestrator) StartProject(ctx context.Context, proj *types.Project) ([]types.ContainerId, error) {
	plog := log.WithProject(proj.Name)
	defs := proj.Config.Containers
	if len(defs) == 0 {
		plog.Info().Msg("project has no containers to start")
		return nil, nil
	}

	order, err := topologicalSort(defs)
	if err != nil {
		return nil, err
	}
	plog.Info().Strs("order", order).Msg("starting project containers")

	if err := ensureVolumes(defs, proj.Root); err != nil {
		return nil, err
	}

	byName := make(map[string]types.ContainerDef, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}

	started := make([]types.ContainerId, 0, len(defs))
	for _, name := range order {
		def, ok := byName[name]
		if !ok {
			o.rollback(ctx, started)
			return nil, herrors.New(herrors.ContainerNotFound, "project.StartProject",
				herrors.WithContext("container", name))
		}

		spec, err := o.containerDefToSpec(def, proj)
		if err != nil {
			o.rollback(ctx, started)
			return nil, err
		}

		id, err := o.rt.Create(ctx, spec)
		if err != nil {
			plog.Error().Err(err).Str("container", name).Msg("failed to create container")
			o.rollback(ctx, started)
			return nil, herrors.Wrap(herrors.ContainerCreate, "project.StartProject",
				herrors.WithContext("container", name), err)
		}

		if err := o.rt.Start(ctx, id); err != nil {
			plog.Error().Err(err).Str("container", name).Msg("failed to start container")
			started = append(started, id)
			o.rollback(ctx, started)
			return nil, herrors.Wrap(herrors.ContainerStart, "project.StartProject",
				herrors.WithContext("container", name), err)
		}

		plog.Info().Str("container", name).Str("id", id.ShortID()).Msg("container started")
		started = append(started, id)
	}

	return started, nil
}

// StopProject stops ids in reverse order, tolerating individual failures so
// one stuck container does not block the rest from stopping.
func (o *Orchestrator) StopProject(ctx context.Context, ids []types.ContainerId) {
	o.stopAll(ctx, ids)
}

// RemoveContainers removes ids, logging but not failing on individual
// errors, matching the teacher's best-effort teardown.
func (o *Orchestrator) RemoveContainers(ctx context.Context, ids []types.ContainerId) {
	for _, id := range ids {
		if err := o.rt.Remove(ctx, id); err != nil {
			log.Logger.Warn().Err(err).Str("id", id.ShortID()).Msg("failed to remove container")
		}
	}
}

// rollback stops every container started so far in reverse order, then
// removes them, implementing the orchestrator's all-or-nothing start guarantee.
func (o *Orchestrator) rollback(ctx context.Context, started []types.ContainerId) {
	o.stopAll(ctx, started)
	o.RemoveContainers(ctx, started)
}

func (o *Orchestrator) stopAll(ctx context.Context, ids []types.ContainerId) {
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if err := o.rt.Stop(ctx, id, stopTimeout); err != nil {
			log.Logger.Warn().Err(err).Str("id", id.ShortID()).Msg("failed to stop container")
		}
	}
}

// containerDefToSpec resolves one ContainerDef, in the context of proj, into
// a runtime-ready ContainerSpec.
func (o *Orchestrator) containerDefToSpec(def types.ContainerDef, proj *types.Project) (*types.ContainerSpec, error) {
	name := fmt.Sprintf("%s-%s", proj.Name, def.Name)

	ports := make([]types.PortMapping, 0, len(def.Ports))
	for _, p := range def.Ports {
		mapping, err := parsePortMapping(p)
		if err != nil {
			return nil, herrors.Wrap(herrors.InvalidSpec, "project.containerDefToSpec",
				herrors.WithContext("container", def.Name, "port", p), err)
		}
		ports = append(ports, mapping)
	}

	mounts, err := parseVolumeMounts(def.Volumes, proj.Root)
	if err != nil {
		return nil, herrors.Wrap(herrors.InvalidSpec, "project.containerDefToSpec",
			herrors.WithContext("container", def.Name), err)
	}

	labels := make(map[string]string, len(def.Labels)+3)
	for k, v := range def.Labels {
		labels[k] = v
	}
	labels["hyperbox.project"] = proj.Name
	labels["hyperbox.project.id"] = proj.ID
	labels["hyperbox.service"] = def.Name

	return &types.ContainerSpec{
		Name:          name,
		Image:         parseImageRef(def.Image),
		Command:       def.Command,
		Env:           def.Env,
		Mounts:        mounts,
		Ports:         ports,
		Resources:     resolveResources(def.Resources),
		Labels:        labels,
		RestartPolicy: types.RestartPolicyNever,
	}, nil
}

// parseImageRef splits an unresolved image reference into its registry,
// repository, and tag-or-digest components. It does not validate against a
// registry; that happens at pull time.
func parseImageRef(ref string) types.ImageRef {
	repo := ref
	digest := ""
	tag := ""

	if at := strings.Index(repo, "@"); at >= 0 {
		digest = repo[at+1:]
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

	return types.ImageRef{Registry: registry, Repository: repo, Tag: tag, Digest: digest}
}

// parsePortMapping parses a compose-style "host:container[/proto]" or bare
// "container[/proto]" port string.
func parsePortMapping(s string) (types.PortMapping, error) {
	proto := types.ProtocolTCP
	spec := s
	if slash := strings.LastIndex(spec, "/"); slash >= 0 {
		switch strings.ToLower(spec[slash+1:]) {
		case "udp":
			proto = types.ProtocolUDP
		case "tcp", "":
		default:
			return types.PortMapping{}, herrors.New(herrors.InvalidSpec, "project.parsePortMapping",
				herrors.WithContext("port", s))
		}
		spec = spec[:slash]
	}

	parts := strings.SplitN(spec, ":", 2)
	if len(parts) == 2 {
		host, err := strconv.Atoi(parts[0])
		if err != nil {
			return types.PortMapping{}, herrors.Wrap(herrors.InvalidSpec, "project.parsePortMapping",
				herrors.WithContext("port", s), err)
		}
		container, err := strconv.Atoi(parts[1])
		if err != nil {
			return types.PortMapping{}, herrors.Wrap(herrors.InvalidSpec, "project.parsePortMapping",
				herrors.WithContext("port", s), err)
		}
		return types.PortMapping{HostPort: host, ContainerPort: container, Protocol: proto}, nil
	}

	container, err := strconv.Atoi(parts[0])
	if err != nil {
		return types.PortMapping{}, herrors.Wrap(herrors.InvalidSpec, "project.parsePortMapping",
			herrors.WithContext("port", s), err)
	}
	return types.PortMapping{ContainerPort: container, Protocol: proto}, nil
}

// parseVolumeMounts parses "src:tgt[:ro]" volume strings. A source starting
// with ".", "/", or "~" is a bind mount (relative paths resolve against
// projectRoot); anything else is a named volume rooted under
// "<projectRoot>/.hyperbox/volumes/<name>".
func parseVolumeMounts(volumes []string, projectRoot string) ([]types.Mount, error) {
	mounts := make([]types.Mount, 0, len(volumes))
	for _, v := range volumes {
		parts := strings.Split(v, ":")
		if len(parts) < 2 {
			continue
		}
		source := parts[0]
		target := parts[1]
		readOnly := len(parts) >= 3 && parts[2] == "ro"

		var resolved string
		var mountType types.MountType
		switch {
		case strings.HasPrefix(source, ".") || strings.HasPrefix(source, "/") || strings.HasPrefix(source, "~"):
			mountType = types.MountBind
			if strings.HasPrefix(source, ".") {
				resolved = joinPath(projectRoot, source)
			} else {
				resolved = source
			}
		default:
			mountType = types.MountVolume
			resolved = joinPath(projectRoot, ".hyperbox", "volumes", source)
		}

		mounts = append(mounts, types.Mount{
			Source:    resolved,
			Target:    target,
			ReadOnly:  readOnly,
			MountType: mountType,
		})
	}
	return mounts, nil
}

func joinPath(elems ...string) string {
	return strings.Join(elems, "/")
}

// ensureVolumes materializes the on-disk directory for every named volume
// referenced across defs, via the local volume driver rooted at
// "<projectRoot>/.hyperbox/volumes". Bind mounts are left untouched; the
// caller (the host filesystem, or the image itself) owns those paths.
func ensureVolumes(defs []types.ContainerDef, projectRoot string) error {
	names := make(map[string]struct{})
	for _, d := range defs {
		for _, v := range d.Volumes {
			parts := strings.Split(v, ":")
			if len(parts) < 2 {
				continue
			}
			source := parts[0]
			if strings.HasPrefix(source, ".") || strings.HasPrefix(source, "/") || strings.HasPrefix(source, "~") {
				continue
			}
			names[source] = struct{}{}
		}
	}
	if len(names) == 0 {
		return nil
	}

	driver, err := volume.NewLocalDriver(joinPath(projectRoot, ".hyperbox", "volumes"))
	if err != nil {
		return herrors.Wrap(herrors.InvalidSpec, "project.ensureVolumes", nil, err)
	}
	for name := range names {
		if err := driver.Create(&volume.Volume{Name: name}); err != nil {
			return herrors.Wrap(herrors.InvalidSpec, "project.ensureVolumes",
				herrors.WithContext("volume", name), err)
		}
	}
	return nil
}

// resolveResources converts a ContainerDef's resource fields to
// runtime-ready ResourceLimits, defaulting PidsLimit the way the teacher
// does for every project-managed container.
func resolveResources(in types.ResourceLimits) types.ResourceLimits {
	out := in
	if out.PidsLimit == nil {
		limit := int64(defaultPidsLimit)
		out.PidsLimit = &limit
	}
	return out
}

// parseMemoryString parses a binary-prefix memory string ("512m", "2g",
// "256M", optionally with a trailing "b") into bytes, via the same
// RAMInBytes parser the Docker CLI uses for --memory.
func parseMemoryString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, herrors.Wrap(herrors.InvalidSpec, "project.parseMemoryString",
			herrors.WithContext("value", s), err)
	}
	return n, nil
}

// parseCPUString parses a floating-point core count ("0.5", "2") into
// millicores.
func parseCPUString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, herrors.Wrap(herrors.InvalidSpec, "project.parseCPUString",
			herrors.WithContext("value", s), err)
	}
	return int64(f * 1000), nil
}
