package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/moby/sys/signal"

	"github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/log"
	"github.com/cuemby/hyperbox/pkg/metrics"
	"github.com/cuemby/hyperbox/pkg/types"
)

const (
	// DefaultFuel is the fuel budget a container gets when no CPU limit
	// is set.
	DefaultFuel uint64 = 10_000_000_000
	// MaxFuel caps the linear millicore-to-fuel mapping.
	MaxFuel uint64 = 100_000_000_000

	wasmCacheDir = "/var/lib/hyperbox/wasm-cache"
	wasmLogDir   = "/var/lib/hyperbox/wasm-logs"
)

// wasmInstance tracks one running wasmtime child process. The exit-watcher
// goroutine and foreground callers both touch State/ExitCode, so every
// access goes through the owning WASMRuntime's mutex.
type wasmInstance struct {
	pid       int
	state     types.ContainerState
	exitCode  int
	cmd       *exec.Cmd
	cwasmPath string
	spec      *types.ContainerSpec
}

// WASMRuntime runs .wasm/.wat/.cwasm images as wasmtime subprocesses. It is
// the only backend that AOT-compiles its input. Like crun and youki it has
// no image-management capability of its own; WASM "images" are just files
// on disk.
type WASMRuntime struct {
	mu        sync.Mutex
	instances map[types.ContainerId]*wasmInstance
}

// NewWASMRuntime returns a Runtime backed by the wasmtime binary on PATH.
func NewWASMRuntime() *WASMRuntime {
	return &WASMRuntime{instances: make(map[types.ContainerId]*wasmInstance)}
}

func (r *WASMRuntime) Name() string { return "wasm" }

func (r *WASMRuntime) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "wasmtime", "--version").Output()
	if err != nil {
		return "", errors.Wrap(errors.NotAvailable, "wasm.Version", nil, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *WASMRuntime) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath("wasmtime")
	return err == nil
}

func (r *WASMRuntime) Capabilities() []Capability {
	return []Capability{CapLifecycle, CapStats, CapLogs, CapCheckpoint}
}

// Create AOT-compiles the image (unless it is already .cwasm) into
// wasmCacheDir/<sha256 of source path>.cwasm, reusing a prior compile when
// present.
func (r *WASMRuntime) Create(ctx context.Context, spec *types.ContainerSpec) (types.ContainerId, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ContainerCreateDuration, r.Name())

	id := types.NewContainerId()
	source := spec.Image.Repository
	if !isWASMImage(source) {
		return id, errors.New(errors.InvalidSpec, "wasm.Create", errors.WithContext("image", source))
	}

	cwasmPath, err := r.compiled(ctx, source)
	if err != nil {
		return id, err
	}

	r.mu.Lock()
	r.instances[id] = &wasmInstance{state: types.ContainerStateCreated, exitCode: -1, cwasmPath: cwasmPath, spec: spec}
	r.mu.Unlock()

	return id, nil
}

func isWASMImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".wasm" || ext == ".wat" || ext == ".cwasm"
}

func (r *WASMRuntime) compiled(ctx context.Context, source string) (string, error) {
	if strings.HasSuffix(strings.ToLower(source), ".cwasm") {
		return source, nil
	}

	sum := sha256.Sum256([]byte(source))
	cwasmPath := filepath.Join(wasmCacheDir, hex.EncodeToString(sum[:])+".cwasm")
	if _, err := os.Stat(cwasmPath); err == nil {
		return cwasmPath, nil
	}

	if err := os.MkdirAll(wasmCacheDir, 0755); err != nil {
		return "", errors.Wrap(errors.RuntimeExecution, "wasm.compiled", nil, err)
	}

	cmd := exec.CommandContext(ctx, "wasmtime", "compile", "-o", cwasmPath, source)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", errors.Wrap(errors.RuntimeExecution, "wasm.compiled", errors.WithContext("stderr", string(out)), err)
	}
	return cwasmPath, nil
}

func fuelFor(limits types.ResourceLimits) uint64 {
	if limits.CPUMillicores == nil {
		return DefaultFuel
	}
	fuel := uint64(*limits.CPUMillicores) * DefaultFuel / 1000
	if fuel > MaxFuel {
		return MaxFuel
	}
	return fuel
}

func (r *WASMRuntime) Start(ctx context.Context, id types.ContainerId) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ContainerStartDuration, r.Name())

	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok {
		return errors.New(errors.ContainerNotFound, "wasm.Start", errors.WithContext("container_id", id.String()))
	}

	if err := os.MkdirAll(wasmLogDir, 0755); err != nil {
		return errors.Wrap(errors.RuntimeExecution, "wasm.Start", nil, err)
	}

	stdout, err := os.Create(filepath.Join(wasmLogDir, id.ShortID()+"-stdout.log"))
	if err != nil {
		return errors.Wrap(errors.RuntimeExecution, "wasm.Start", nil, err)
	}
	stderr, err := os.Create(filepath.Join(wasmLogDir, id.ShortID()+"-stderr.log"))
	if err != nil {
		return errors.Wrap(errors.RuntimeExecution, "wasm.Start", nil, err)
	}

	args := []string{"run"}
	args = append(args, "--fuel", strconv.FormatUint(fuelFor(inst.spec.Resources), 10))
	if inst.spec.Resources.MemoryBytes != nil {
		args = append(args, "--max-memory-size", strconv.FormatInt(*inst.spec.Resources.MemoryBytes, 10))
	}
	for _, m := range inst.spec.Mounts {
		args = append(args, "--dir", m.Source+"::"+m.Target)
	}
	args = append(args, inst.cwasmPath)
	args = append(args, inst.spec.Args...)

	cmd := exec.Command("wasmtime", args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrap(errors.RuntimeExecution, "wasm.Start", nil, err)
	}

	log.WithContainerID(id.String()).Info().Str("backend", "wasm").Int("pid", cmd.Process.Pid).Msg("container started")

	r.mu.Lock()
	inst.cmd = cmd
	inst.pid = cmd.Process.Pid
	inst.state = types.ContainerStateRunning
	r.mu.Unlock()

	go r.watchExit(id, inst)
	return nil
}

func (r *WASMRuntime) watchExit(id types.ContainerId, inst *wasmInstance) {
	if inst.cmd == nil {
		return
	}
	err := inst.cmd.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	inst.state = types.ContainerStateExited
	if exitErr, ok := err.(*exec.ExitError); ok {
		inst.exitCode = exitErr.ExitCode()
	} else if err == nil {
		inst.exitCode = 0
	}
}

func (r *WASMRuntime) Stop(ctx context.Context, id types.ContainerId, timeout time.Duration) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok {
		return errors.New(errors.ContainerNotFound, "wasm.Stop", nil)
	}
	if inst.cmd == nil || inst.cmd.Process == nil {
		return nil
	}

	_ = inst.cmd.Process.Signal(syscall.SIGTERM)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		state := inst.state
		r.mu.Unlock()
		if state == types.ContainerStateExited {
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	return inst.cmd.Process.Kill()
}

func (r *WASMRuntime) Kill(ctx context.Context, id types.ContainerId, sig string) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok || inst.cmd == nil || inst.cmd.Process == nil {
		return errors.New(errors.ContainerNotFound, "wasm.Kill", nil)
	}
	parsed, err := signal.ParseSignal(sig)
	if err != nil {
		return errors.Wrap(errors.InvalidSpec, "wasm.Kill", errors.WithContext("signal", sig), err)
	}
	return inst.cmd.Process.Signal(parsed)
}

func (r *WASMRuntime) Remove(ctx context.Context, id types.ContainerId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
	return nil
}

func (r *WASMRuntime) Pause(ctx context.Context, id types.ContainerId) error {
	return r.signalState(id, syscall.SIGSTOP)
}

func (r *WASMRuntime) Resume(ctx context.Context, id types.ContainerId) error {
	return r.signalState(id, syscall.SIGCONT)
}

func (r *WASMRuntime) signalState(id types.ContainerId, sig syscall.Signal) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok || inst.cmd == nil || inst.cmd.Process == nil {
		return errors.New(errors.ContainerNotFound, "wasm.signal", nil)
	}
	return inst.cmd.Process.Signal(sig)
}

func (r *WASMRuntime) State(ctx context.Context, id types.ContainerId) (ProcessState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return ProcessState{}, errors.New(errors.ContainerNotFound, "wasm.State", nil)
	}
	return ProcessState{State: inst.state, PID: inst.pid, ExitCode: inst.exitCode}, nil
}

func (r *WASMRuntime) List(ctx context.Context) ([]types.ContainerId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ContainerId, 0, len(r.instances))
	for id := range r.instances {
		out = append(out, id)
	}
	return out, nil
}

func (r *WASMRuntime) Wait(ctx context.Context, id types.ContainerId) (int, error) {
	for {
		state, err := r.State(ctx, id)
		if err != nil {
			return -1, err
		}
		if state.State == types.ContainerStateExited {
			return state.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, errors.Wrap(errors.Timeout, "wasm.Wait", nil, ctx.Err())
		case <-time.After(stopPollInterval):
		}
	}
}

func (r *WASMRuntime) Update(ctx context.Context, id types.ContainerId, opts UpdateOptions) error {
	return notSupported("wasm", "wasm.Update")
}

func (r *WASMRuntime) Top(ctx context.Context, id types.ContainerId) ([]string, error) {
	return nil, notSupported("wasm", "wasm.Top")
}

func (r *WASMRuntime) Exec(ctx context.Context, id types.ContainerId, req ExecRequest) (ExecResult, error) {
	return ExecResult{}, notSupported("wasm", "wasm.Exec")
}

func (r *WASMRuntime) Stats(ctx context.Context, id types.ContainerId) (Stats, error) {
	return readCgroupStats(id), nil
}

func (r *WASMRuntime) Logs(ctx context.Context, id types.ContainerId, follow bool) (io.ReadCloser, error) {
	return os.Open(filepath.Join(wasmLogDir, id.ShortID()+"-stdout.log"))
}

func (r *WASMRuntime) Attach(ctx context.Context, id types.ContainerId) (io.ReadWriteCloser, error) {
	return nil, notSupported("wasm", "wasm.Attach")
}

// wasmCheckpointMeta is the JSON sidecar written next to the copied
// compiled module.
type wasmCheckpointMeta struct {
	ContainerID string    `json:"container_id"`
	ModulePath  string    `json:"module_path"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *WASMRuntime) Checkpoint(ctx context.Context, id types.ContainerId, opts CheckpointOptions) (CheckpointResult, error) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok {
		return CheckpointResult{}, errors.New(errors.ContainerNotFound, "wasm.Checkpoint", nil)
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return CheckpointResult{}, errors.Wrap(errors.CheckpointFailed, "wasm.Checkpoint", nil, err)
	}

	// Best-effort: copy the cached compiled module referenced by this
	// instance plus a metadata sidecar; there is no process-memory
	// checkpoint for a WASM instance.
	moduleCopy := filepath.Join(opts.Dir, filepath.Base(inst.cwasmPath))
	if err := copyFile(inst.cwasmPath, moduleCopy); err != nil {
		return CheckpointResult{}, errors.Wrap(errors.CheckpointFailed, "wasm.Checkpoint", nil, err)
	}

	meta := wasmCheckpointMeta{ContainerID: id.String(), ModulePath: moduleCopy, CreatedAt: time.Now()}
	data, _ := json.MarshalIndent(meta, "", "  ")
	metaPath := filepath.Join(opts.Dir, "checkpoint.json")
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return CheckpointResult{}, errors.Wrap(errors.CheckpointFailed, "wasm.Checkpoint", nil, err)
	}

	return CheckpointResult{Path: opts.Dir, CreatedAt: meta.CreatedAt}, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func (r *WASMRuntime) Restore(ctx context.Context, checkpointPath string, spec *types.ContainerSpec) (types.ContainerId, error) {
	data, err := os.ReadFile(filepath.Join(checkpointPath, "checkpoint.json"))
	if err != nil {
		return types.ContainerId{}, errors.Wrap(errors.RestoreFailed, "wasm.Restore", nil, err)
	}
	var meta wasmCheckpointMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return types.ContainerId{}, errors.Wrap(errors.RestoreFailed, "wasm.Restore", nil, err)
	}

	id := types.NewContainerId()
	r.mu.Lock()
	r.instances[id] = &wasmInstance{state: types.ContainerStateCreated, exitCode: -1, cwasmPath: meta.ModulePath, spec: spec}
	r.mu.Unlock()
	return id, nil
}

func (r *WASMRuntime) PullImage(ctx context.Context, ref types.ImageRef) error {
	return notSupported("wasm", "wasm.PullImage")
}

func (r *WASMRuntime) ImageExists(ctx context.Context, ref types.ImageRef) (bool, error) {
	_, err := os.Stat(ref.Repository)
	return err == nil, nil
}

func (r *WASMRuntime) ListImages(ctx context.Context) ([]ImageInfo, error) {
	return nil, notSupported("wasm", "wasm.ListImages")
}
