package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
	"github.com/cuemby/hyperbox/pkg/metrics"
	"github.com/cuemby/hyperbox/pkg/ocibundle"
	"github.com/cuemby/hyperbox/pkg/types"
)

const (
	// DefaultStateDir is the --root passed to crun/youki for their
	// container state (pidfiles, named pipes, status).
	DefaultStateDir = "/var/lib/hyperbox/runtime"
	// DefaultBundleRoot holds one OCI bundle directory per container id.
	DefaultBundleRoot = "/var/lib/hyperbox/bundles"

	stopPollInterval = 100 * time.Millisecond
	defaultOpTimeout = 30 * time.Second
)

// ociRuntime is the subprocess driver shared by the crun and youki
// backends: both speak the same OCI runtime CLI surface
// (create/start/kill/delete/state/list/pause/resume), differing only in
// binary name.
type ociRuntime struct {
	binary     string
	stateDir   string
	bundleRoot string
}

func newOCIRuntime(binary string) *ociRuntime {
	return &ociRuntime{binary: binary, stateDir: DefaultStateDir, bundleRoot: DefaultBundleRoot}
}

func (r *ociRuntime) Name() string { return r.binary }

func (r *ociRuntime) Version(ctx context.Context) (string, error) {
	out, err := r.run(ctx, defaultOpTimeout, "--version")
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(out)), nil
}

func (r *ociRuntime) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}

func (r *ociRuntime) Capabilities() []Capability {
	return []Capability{CapLifecycle, CapExec, CapStats, CapLogs, CapCheckpoint}
}

// run spawns r.binary with args under a wall-clock timeout, returning
// stdout. Non-zero exit surfaces as a RuntimeExecution error carrying
// stderr; whatever stdout was captured is returned alongside that error.
func (r *ociRuntime) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.New(errors.Timeout, r.binary, errors.WithContext("args", fmt.Sprint(args)))
	}
	if err != nil {
		return stdout.Bytes(), errors.Wrap(errors.RuntimeExecution, r.binary,
			errors.WithContext("args", fmt.Sprint(args), "stderr", stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

func (r *ociRuntime) rootArgs(rest ...string) []string {
	return append([]string{"--root=" + r.stateDir}, rest...)
}

func (r *ociRuntime) bundleDir(id types.ContainerId) string {
	return filepath.Join(r.bundleRoot, id.String())
}

func (r *ociRuntime) logPath(id types.ContainerId) string {
	return filepath.Join(r.bundleDir(id), "container.log")
}

func (r *ociRuntime) Create(ctx context.Context, spec *types.ContainerSpec) (types.ContainerId, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ContainerCreateDuration, r.binary)

	id := types.NewContainerId()
	bundle, err := ocibundle.Build(spec, r.bundleDir(id))
	if err != nil {
		return id, errors.Wrap(errors.InvalidSpec, "runtime.Create", errors.WithContext("backend", r.binary), err)
	}

	logFile, err := os.Create(r.logPath(id))
	if err != nil {
		return id, errors.Wrap(errors.RuntimeExecution, "runtime.Create", nil, err)
	}
	defer logFile.Close()

	_, err = r.run(ctx, defaultOpTimeout, r.rootArgs("create", "--bundle", bundle, id.String())...)
	if err != nil {
		return id, err
	}
	log.WithContainerID(id.String()).Info().Str("backend", r.binary).Msg("container created")
	return id, nil
}

func (r *ociRuntime) Start(ctx context.Context, id types.ContainerId) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ContainerStartDuration, r.binary)

	_, err := r.run(ctx, defaultOpTimeout, r.rootArgs("start", id.String())...)
	return err
}

func (r *ociRuntime) Stop(ctx context.Context, id types.ContainerId, timeout time.Duration) error {
	if _, err := r.run(ctx, defaultOpTimeout, r.rootArgs("kill", id.String(), "SIGTERM")...); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, err := r.State(ctx, id)
		if err == nil && (state.State == types.ContainerStateStopped || state.State == types.ContainerStateExited) {
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	_, err := r.run(ctx, defaultOpTimeout, r.rootArgs("kill", id.String(), "SIGKILL")...)
	return err
}

func (r *ociRuntime) Kill(ctx context.Context, id types.ContainerId, signal string) error {
	_, err := r.run(ctx, defaultOpTimeout, r.rootArgs("kill", id.String(), signal)...)
	return err
}

func (r *ociRuntime) Remove(ctx context.Context, id types.ContainerId) error {
	if _, err := r.run(ctx, defaultOpTimeout, r.rootArgs("delete", "--force", id.String())...); err != nil {
		return err
	}
	return os.RemoveAll(r.bundleDir(id))
}

func (r *ociRuntime) Pause(ctx context.Context, id types.ContainerId) error {
	_, err := r.run(ctx, defaultOpTimeout, r.rootArgs("pause", id.String())...)
	return err
}

func (r *ociRuntime) Resume(ctx context.Context, id types.ContainerId) error {
	_, err := r.run(ctx, defaultOpTimeout, r.rootArgs("resume", id.String())...)
	return err
}

type ociState struct {
	Status string `json:"status"`
	Pid    int    `json:"pid"`
}

func (r *ociRuntime) State(ctx context.Context, id types.ContainerId) (ProcessState, error) {
	out, err := r.run(ctx, defaultOpTimeout, r.rootArgs("state", id.String())...)
	if err != nil {
		if errors.Is(err, errors.RuntimeExecution) {
			return ProcessState{}, errors.New(errors.ContainerNotFound, "runtime.State", errors.WithContext("container_id", id.String()))
		}
		return ProcessState{}, err
	}

	var s ociState
	if err := json.Unmarshal(out, &s); err != nil {
		return ProcessState{}, errors.Wrap(errors.Internal, "runtime.State", nil, err)
	}

	return ProcessState{State: mapOCIStatus(s.Status), PID: s.Pid, ExitCode: -1}, nil
}

func mapOCIStatus(status string) types.ContainerState {
	switch status {
	case "creating":
		return types.ContainerStateCreating
	case "created":
		return types.ContainerStateCreated
	case "running":
		return types.ContainerStateRunning
	case "paused":
		return types.ContainerStatePaused
	case "stopped":
		return types.ContainerStateStopped
	default:
		return types.ContainerStateUnknown
	}
}

func (r *ociRuntime) List(ctx context.Context) ([]types.ContainerId, error) {
	out, err := r.run(ctx, defaultOpTimeout, r.rootArgs("list", "-f", "json")...)
	if err != nil {
		return nil, err
	}

	var entries []ociState
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, errors.Wrap(errors.Internal, "runtime.List", nil, err)
	}
	// The list output is decoded only to check that it is well-formed; its
	// entries are not mapped back to ContainerId values, so List always
	// returns an empty result.
	return nil, nil
}

func (r *ociRuntime) Wait(ctx context.Context, id types.ContainerId) (int, error) {
	for {
		state, err := r.State(ctx, id)
		if err != nil {
			return -1, err
		}
		if state.State == types.ContainerStateExited || state.State == types.ContainerStateStopped {
			return state.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, errors.Wrap(errors.Timeout, "runtime.Wait", nil, ctx.Err())
		case <-time.After(stopPollInterval):
		}
	}
}

func (r *ociRuntime) Update(ctx context.Context, id types.ContainerId, opts UpdateOptions) error {
	args := r.rootArgs("update", id.String())
	if opts.Resources.CPUMillicores != nil {
		args = append(args, "--cpu-quota", strconv.FormatInt(*opts.Resources.CPUMillicores*100, 10), "--cpu-period", "100000")
	}
	if opts.Resources.MemoryBytes != nil {
		args = append(args, "--memory", strconv.FormatInt(*opts.Resources.MemoryBytes, 10))
	}
	if opts.Resources.PidsLimit != nil {
		args = append(args, "--pids-limit", strconv.FormatInt(*opts.Resources.PidsLimit, 10))
	}
	_, err := r.run(ctx, defaultOpTimeout, args...)
	return err
}

func (r *ociRuntime) Top(ctx context.Context, id types.ContainerId) ([]string, error) {
	out, err := r.run(ctx, defaultOpTimeout, r.rootArgs("ps", id.String())...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(out []byte) []string {
	var lines []string
	start := 0
	for i, b := range out {
		if b == '\n' {
			if i > start {
				lines = append(lines, string(out[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(out) {
		lines = append(lines, string(out[start:]))
	}
	return lines
}

func (r *ociRuntime) Exec(ctx context.Context, id types.ContainerId, req ExecRequest) (ExecResult, error) {
	args := r.rootArgs("exec")
	for k, v := range req.Env {
		args = append(args, "--env", k+"="+v)
	}
	args = append(args, id.String())
	args = append(args, req.Command...)

	out, err := r.run(ctx, defaultOpTimeout, args...)
	res := ExecResult{Stdout: out, ExitCode: -1}
	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	if e, ok := err.(*errors.Error); ok {
		res.Stderr = []byte(e.Context["stderr"])
		if exitErr, ok := e.Err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
	}
	return res, err
}

func (r *ociRuntime) Stats(ctx context.Context, id types.ContainerId) (Stats, error) {
	return readCgroupStats(id), nil
}

func (r *ociRuntime) Logs(ctx context.Context, id types.ContainerId, follow bool) (io.ReadCloser, error) {
	return os.Open(r.logPath(id))
}

func (r *ociRuntime) Attach(ctx context.Context, id types.ContainerId) (io.ReadWriteCloser, error) {
	return nil, notSupported(r.binary, "runtime.Attach")
}

func (r *ociRuntime) Checkpoint(ctx context.Context, id types.ContainerId, opts CheckpointOptions) (CheckpointResult, error) {
	args := r.rootArgs("checkpoint", id.String(), "--image-path", opts.Dir)
	if opts.LeaveRunning {
		args = append(args, "--leave-running")
	}
	if opts.TCPEstablished {
		args = append(args, "--tcp-established")
	}
	if opts.FileLocks {
		args = append(args, "--file-locks")
	}
	if opts.PreviousImagesDir != "" {
		args = append(args, "--prev-images-dir", opts.PreviousImagesDir)
	}
	for src, dst := range opts.ExtMountMap {
		args = append(args, "--ext-mount-map", src+":"+dst)
	}

	if _, err := r.run(ctx, defaultOpTimeout, args...); err != nil {
		return CheckpointResult{}, errors.Wrap(errors.CheckpointFailed, "runtime.Checkpoint", errors.WithContext("container_id", id.String()), err)
	}

	size := dirSize(opts.Dir)
	return CheckpointResult{Path: opts.Dir, SizeBytes: size, CreatedAt: time.Now()}, nil
}

func (r *ociRuntime) Restore(ctx context.Context, checkpointPath string, spec *types.ContainerSpec) (types.ContainerId, error) {
	id := types.NewContainerId()
	bundle, err := ocibundle.Build(spec, r.bundleDir(id))
	if err != nil {
		return id, errors.Wrap(errors.InvalidSpec, "runtime.Restore", nil, err)
	}

	args := r.rootArgs("restore", "--bundle", bundle, "--image-path", checkpointPath, id.String())
	if _, err := r.run(ctx, defaultOpTimeout, args...); err != nil {
		return id, errors.Wrap(errors.RestoreFailed, "runtime.Restore", errors.WithContext("checkpoint_path", checkpointPath), err)
	}
	return id, nil
}

func (r *ociRuntime) PullImage(ctx context.Context, ref types.ImageRef) error {
	return notSupported(r.binary, "runtime.PullImage")
}

func (r *ociRuntime) ImageExists(ctx context.Context, ref types.ImageRef) (bool, error) {
	return false, notSupported(r.binary, "runtime.ImageExists")
}

func (r *ociRuntime) ListImages(ctx context.Context) ([]ImageInfo, error) {
	return nil, notSupported(r.binary, "runtime.ListImages")
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
