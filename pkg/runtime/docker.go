package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/checkpoint"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ociname "github.com/google/go-containerregistry/pkg/name"

	"github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
	"github.com/cuemby/hyperbox/pkg/metrics"
	"github.com/cuemby/hyperbox/pkg/types"
)

// namePrefix is prepended to the name of every container HyperBox creates
// through the Docker backend. List does not query the Engine's container
// list: it returns only the containers this DockerRuntime instance created.
const namePrefix = "hb-"

// DockerRuntime speaks the Docker Engine API directly rather than shelling
// out to the docker CLI, mirroring the client.Client usage in
// lazydocker's DockerCommand.
type DockerRuntime struct {
	cli         *client.Client
	experimental bool
	// ids maps a ContainerId to the Engine's own container id, since the
	// Engine API addresses containers by its own opaque hex id.
	ids map[types.ContainerId]string
}

// NewDockerRuntime connects to the Docker Engine using the standard
// DOCKER_HOST / TLS environment variables.
func NewDockerRuntime(experimental bool) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(errors.NotAvailable, "runtime.NewDockerRuntime", nil, err)
	}
	return &DockerRuntime{cli: cli, experimental: experimental, ids: make(map[types.ContainerId]string)}, nil
}

func (r *DockerRuntime) Name() string { return "docker" }

func (r *DockerRuntime) Version(ctx context.Context) (string, error) {
	v, err := r.cli.ServerVersion(ctx)
	if err != nil {
		return "", errors.Wrap(errors.RuntimeExecution, "docker.Version", nil, err)
	}
	return v.Version, nil
}

func (r *DockerRuntime) IsAvailable(ctx context.Context) bool {
	_, err := r.cli.Ping(ctx)
	return err == nil
}

func (r *DockerRuntime) Capabilities() []Capability {
	caps := []Capability{CapLifecycle, CapExec, CapStats, CapLogs, CapAttach, CapImageMgmt}
	if r.experimental {
		caps = append(caps, CapCheckpoint)
	}
	return caps
}

func (r *DockerRuntime) engineID(id types.ContainerId) (string, error) {
	eid, ok := r.ids[id]
	if !ok {
		return "", errors.New(errors.ContainerNotFound, "docker", errors.WithContext("container_id", id.String()))
	}
	return eid, nil
}

func (r *DockerRuntime) Create(ctx context.Context, spec *types.ContainerSpec) (types.ContainerId, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ContainerCreateDuration, r.Name())

	id := types.NewContainerId()
	name := namePrefix + id.ShortID()

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cmd := append(append([]string{}, spec.Command...), spec.Args...)
	caps := spec.FilterCapabilities(nil)
	exposedPorts, portBindings, err := buildDockerPorts(spec.Ports)
	if err != nil {
		return id, errors.Wrap(errors.InvalidSpec, "docker.Create", errors.WithContext("name", name), err)
	}

	if _, err := ociname.ParseReference(spec.Image.FullName(), ociname.WeakValidation); err != nil {
		return id, errors.Wrap(errors.InvalidSpec, "docker.Create",
			errors.WithContext("name", name, "image", spec.Image.FullName()), err)
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image.FullName(),
			Cmd:          cmd,
			Env:          env,
			WorkingDir:   spec.WorkingDir,
			Tty:          spec.TTY,
			OpenStdin:    spec.StdinOpen,
			Hostname:     spec.Hostname,
			Labels:       spec.Labels,
			ExposedPorts: exposedPorts,
		},
		&container.HostConfig{
			Mounts:         mounts,
			Privileged:     spec.Privileged,
			CapAdd:         caps,
			ReadonlyRootfs: spec.ReadOnlyRootfs,
			Resources:      buildDockerResources(spec.Resources),
			PortBindings:   portBindings,
		},
		nil, nil, name)
	if err != nil {
		return id, errors.Wrap(errors.ContainerCreate, "docker.Create", errors.WithContext("name", name), err)
	}

	r.ids[id] = resp.ID
	log.WithContainerID(id.String()).Info().Str("backend", "docker").Str("engine_id", resp.ID).Msg("container created")
	return id, nil
}

// buildDockerPorts converts HyperBox's PortMapping list into the Engine
// API's ExposedPorts set and PortBindings map, keyed by nat.Port
// ("80/tcp"-style strings).
func buildDockerPorts(ports []types.PortMapping) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}

	exposed := make(nat.PortSet, len(ports))
	bindings := make(nat.PortMap, len(ports))

	for _, p := range ports {
		port, err := nat.NewPort(string(p.Protocol), strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, err
		}
		exposed[port] = struct{}{}

		if p.HostPort == 0 {
			continue
		}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   p.HostIP,
			HostPort: strconv.Itoa(p.HostPort),
		})
	}
	return exposed, bindings, nil
}

func buildDockerResources(limits types.ResourceLimits) container.Resources {
	res := container.Resources{}
	if limits.CPUMillicores != nil {
		res.CPUQuota = *limits.CPUMillicores * 100
		res.CPUPeriod = 100000
	}
	if limits.MemoryBytes != nil {
		res.Memory = *limits.MemoryBytes
	}
	if limits.MemorySwapBytes != nil {
		res.MemorySwap = *limits.MemorySwapBytes
	}
	if limits.PidsLimit != nil {
		res.PidsLimit = limits.PidsLimit
	}
	return res
}

func (r *DockerRuntime) Start(ctx context.Context, id types.ContainerId) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ContainerStartDuration, r.Name())

	eid, err := r.engineID(id)
	if err != nil {
		return err
	}
	if err := r.cli.ContainerStart(ctx, eid, container.StartOptions{}); err != nil {
		return errors.Wrap(errors.ContainerStart, "docker.Start", nil, err)
	}
	return nil
}

func (r *DockerRuntime) Stop(ctx context.Context, id types.ContainerId, timeout time.Duration) error {
	eid, err := r.engineID(id)
	if err != nil {
		return err
	}
	secs := int(timeout.Seconds())
	if err := r.cli.ContainerStop(ctx, eid, container.StopOptions{Timeout: &secs}); err != nil {
		return errors.Wrap(errors.RuntimeExecution, "docker.Stop", nil, err)
	}
	return nil
}

func (r *DockerRuntime) Kill(ctx context.Context, id types.ContainerId, signal string) error {
	eid, err := r.engineID(id)
	if err != nil {
		return err
	}
	return r.cli.ContainerKill(ctx, eid, signal)
}

func (r *DockerRuntime) Remove(ctx context.Context, id types.ContainerId) error {
	eid, err := r.engineID(id)
	if err != nil {
		return err
	}
	if err := r.cli.ContainerRemove(ctx, eid, container.RemoveOptions{Force: true}); err != nil {
		return errors.Wrap(errors.RuntimeExecution, "docker.Remove", nil, err)
	}
	delete(r.ids, id)
	return nil
}

func (r *DockerRuntime) Pause(ctx context.Context, id types.ContainerId) error {
	eid, err := r.engineID(id)
	if err != nil {
		return err
	}
	return r.cli.ContainerPause(ctx, eid)
}

func (r *DockerRuntime) Resume(ctx context.Context, id types.ContainerId) error {
	eid, err := r.engineID(id)
	if err != nil {
		return err
	}
	return r.cli.ContainerUnpause(ctx, eid)
}

func (r *DockerRuntime) State(ctx context.Context, id types.ContainerId) (ProcessState, error) {
	eid, err := r.engineID(id)
	if err != nil {
		return ProcessState{}, err
	}
	inspect, err := r.cli.ContainerInspect(ctx, eid)
	if err != nil {
		return ProcessState{}, errors.Wrap(errors.ContainerNotFound, "docker.State", nil, err)
	}

	var state types.ContainerState
	switch {
	case inspect.State.Running && inspect.State.Paused:
		state = types.ContainerStatePaused
	case inspect.State.Running:
		state = types.ContainerStateRunning
	case inspect.State.Status == "created":
		state = types.ContainerStateCreated
	case inspect.State.Status == "exited":
		state = types.ContainerStateExited
	default:
		state = types.ContainerStateUnknown
	}

	return ProcessState{State: state, PID: inspect.State.Pid, ExitCode: inspect.State.ExitCode}, nil
}

func (r *DockerRuntime) List(ctx context.Context) ([]types.ContainerId, error) {
	out := make([]types.ContainerId, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out, nil
}

func (r *DockerRuntime) Wait(ctx context.Context, id types.ContainerId) (int, error) {
	eid, err := r.engineID(id)
	if err != nil {
		return -1, err
	}
	statusCh, errCh := r.cli.ContainerWait(ctx, eid, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, errors.Wrap(errors.RuntimeExecution, "docker.Wait", nil, err)
	case st := <-statusCh:
		return int(st.StatusCode), nil
	}
}

func (r *DockerRuntime) Update(ctx context.Context, id types.ContainerId, opts UpdateOptions) error {
	eid, err := r.engineID(id)
	if err != nil {
		return err
	}
	_, err = r.cli.ContainerUpdate(ctx, eid, container.UpdateConfig{Resources: buildDockerResources(opts.Resources)})
	if err != nil {
		return errors.Wrap(errors.RuntimeExecution, "docker.Update", nil, err)
	}
	return nil
}

func (r *DockerRuntime) Top(ctx context.Context, id types.ContainerId) ([]string, error) {
	eid, err := r.engineID(id)
	if err != nil {
		return nil, err
	}
	top, err := r.cli.ContainerTop(ctx, eid, nil)
	if err != nil {
		return nil, errors.Wrap(errors.RuntimeExecution, "docker.Top", nil, err)
	}
	lines := make([]string, 0, len(top.Processes))
	for _, p := range top.Processes {
		lines = append(lines, strings.Join(p, " "))
	}
	return lines, nil
}

func (r *DockerRuntime) Exec(ctx context.Context, id types.ContainerId, req ExecRequest) (ExecResult, error) {
	eid, err := r.engineID(id)
	if err != nil {
		return ExecResult{}, err
	}

	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	created, err := r.cli.ContainerExecCreate(ctx, eid, container.ExecOptions{
		Cmd: req.Command, Env: env, Tty: req.TTY, AttachStdout: true, AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, errors.Wrap(errors.RuntimeExecution, "docker.Exec", nil, err)
	}

	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, errors.Wrap(errors.RuntimeExecution, "docker.Exec", nil, err)
	}
	defer attach.Close()

	stdout, _ := io.ReadAll(attach.Reader)

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{Stdout: stdout, ExitCode: -1}, nil
	}
	return ExecResult{Stdout: stdout, ExitCode: inspect.ExitCode}, nil
}

func (r *DockerRuntime) Stats(ctx context.Context, id types.ContainerId) (Stats, error) {
	eid, err := r.engineID(id)
	if err != nil {
		return Stats{}, err
	}
	resp, err := r.cli.ContainerStatsOneShot(ctx, eid)
	if err != nil {
		return Stats{}, errors.Wrap(errors.RuntimeExecution, "docker.Stats", nil, err)
	}
	defer resp.Body.Close()

	var raw dockertypes.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Stats{}, errors.Wrap(errors.Internal, "docker.Stats", nil, err)
	}

	return Stats{
		ContainerID:   id,
		CPUUsageUsec:  raw.CPUStats.CPUUsage.TotalUsage / 1000,
		MemoryCurrent: raw.MemoryStats.Usage,
		MemoryMax:     raw.MemoryStats.Limit,
		PidsCurrent:   raw.PidsStats.Current,
		SampledAt:     time.Now(),
	}, nil
}

func (r *DockerRuntime) Logs(ctx context.Context, id types.ContainerId, follow bool) (io.ReadCloser, error) {
	eid, err := r.engineID(id)
	if err != nil {
		return nil, err
	}
	return r.cli.ContainerLogs(ctx, eid, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: follow})
}

func (r *DockerRuntime) Attach(ctx context.Context, id types.ContainerId) (io.ReadWriteCloser, error) {
	eid, err := r.engineID(id)
	if err != nil {
		return nil, err
	}
	resp, err := r.cli.ContainerAttach(ctx, eid, container.AttachOptions{Stream: true, Stdin: true, Stdout: true, Stderr: true})
	if err != nil {
		return nil, errors.Wrap(errors.RuntimeExecution, "docker.Attach", nil, err)
	}
	return resp.Conn, nil
}

func (r *DockerRuntime) Checkpoint(ctx context.Context, id types.ContainerId, opts CheckpointOptions) (CheckpointResult, error) {
	if !r.experimental {
		return CheckpointResult{}, notSupported("docker", "docker.Checkpoint")
	}
	eid, err := r.engineID(id)
	if err != nil {
		return CheckpointResult{}, err
	}
	checkpointID := "hb-checkpoint-" + id.ShortID()
	err = r.cli.CheckpointCreate(ctx, eid, checkpoint.CreateOptions{
		CheckpointID:  checkpointID,
		CheckpointDir: opts.Dir,
		Exit:          !opts.LeaveRunning,
	})
	if err != nil {
		return CheckpointResult{}, errors.Wrap(errors.CheckpointFailed, "docker.Checkpoint", nil, err)
	}
	return CheckpointResult{Path: opts.Dir, CreatedAt: time.Now()}, nil
}

func (r *DockerRuntime) Restore(ctx context.Context, checkpointPath string, spec *types.ContainerSpec) (types.ContainerId, error) {
	if !r.experimental {
		return types.ContainerId{}, notSupported("docker", "docker.Restore")
	}
	id, err := r.Create(ctx, spec)
	if err != nil {
		return id, err
	}
	eid, _ := r.engineID(id)
	err = r.cli.ContainerStart(ctx, eid, container.StartOptions{
		CheckpointID:  "hb-checkpoint-" + id.ShortID(),
		CheckpointDir: checkpointPath,
	})
	if err != nil {
		return id, errors.Wrap(errors.RestoreFailed, "docker.Restore", nil, err)
	}
	return id, nil
}

func (r *DockerRuntime) PullImage(ctx context.Context, ref types.ImageRef) error {
	reader, err := r.cli.ImagePull(ctx, ref.FullName(), image.PullOptions{})
	if err != nil {
		return errors.Wrap(errors.RuntimeExecution, "docker.PullImage", errors.WithContext("ref", ref.FullName()), err)
	}
	defer reader.Close()
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		// drain the pull progress stream; the Engine reports terminal
		// errors as a JSON error field rather than a failed HTTP status.
	}
	return nil
}

func (r *DockerRuntime) ImageExists(ctx context.Context, ref types.ImageRef) (bool, error) {
	_, err := r.cli.ImageInspect(ctx, ref.FullName())
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(errors.RuntimeExecution, "docker.ImageExists", nil, err)
	}
	return true, nil
}

func (r *DockerRuntime) ListImages(ctx context.Context) ([]ImageInfo, error) {
	imgs, err := r.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(errors.RuntimeExecution, "docker.ListImages", nil, err)
	}
	out := make([]ImageInfo, 0, len(imgs))
	for _, img := range imgs {
		var repo, tag string
		if len(img.RepoTags) > 0 {
			parts := strings.SplitN(img.RepoTags[0], ":", 2)
			repo = parts[0]
			if len(parts) == 2 {
				tag = parts[1]
			}
		}
		out = append(out, ImageInfo{
			Ref:       types.ImageRef{Repository: repo, Tag: tag},
			Digest:    img.ID,
			SizeBytes: img.Size,
			PulledAt:  time.Unix(img.Created, 0),
		})
	}
	return out, nil
}

