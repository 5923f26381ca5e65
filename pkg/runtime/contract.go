// Package runtime defines the polymorphic container runtime contract and
// its concrete backends (crun, youki, Docker, wasmtime).
//
// Every backend implements Runtime but advertises only the capabilities it
// actually has via Capabilities(); callers that invoke an operation outside
// a backend's capability set get back an errors.NotSupported error rather
// than a panic or a silent no-op.
package runtime

import (
	"context"
	"io"
	"time"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/types"
)

// Capability names one facet of the runtime contract a backend may or may
// not implement.
type Capability string

const (
	CapLifecycle  Capability = "lifecycle"
	CapExec       Capability = "exec"
	CapStats      Capability = "stats"
	CapLogs       Capability = "logs"
	CapAttach     Capability = "attach"
	CapCheckpoint Capability = "checkpoint"
	CapImageMgmt  Capability = "image_mgmt"
)

// Stats is a point-in-time resource snapshot read from the backend's
// accounting source (cgroup-v2 files for crun/youki/wasm, the Engine API
// for Docker).
type Stats struct {
	ContainerID   types.ContainerId
	CPUUsageUsec  uint64
	MemoryCurrent uint64
	MemoryMax     uint64 // 0 means unbounded ("max")
	PidsCurrent   uint64
	SampledAt     time.Time
}

// ExecResult carries the outcome of a one-shot exec. ExitCode is -1 when no
// status could be observed.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ExecRequest describes a command to run inside an already-running
// container.
type ExecRequest struct {
	Command []string
	Env     map[string]string
	TTY     bool
	Stdin   io.Reader
}

// CheckpointOptions configures a checkpoint/restore pair. Docker without
// experimental mode returns errors.NotSupported from Checkpoint/Restore.
// Docker uses only Dir and LeaveRunning, and WASM only Dir; those backends
// ignore the other fields.
type CheckpointOptions struct {
	Dir               string
	LeaveRunning      bool
	TCPEstablished    bool
	FileLocks         bool
	ExtMountMap       map[string]string
	PreviousImagesDir string // set for pre-dump-chained and incremental dumps
}

// CheckpointResult reports what a checkpoint produced.
type CheckpointResult struct {
	Path      string
	SizeBytes int64
	CreatedAt time.Time
}

// ProcessState is the backend's view of a container's lifecycle state plus
// the last known PID and exit code.
type ProcessState struct {
	State    types.ContainerState
	PID      int
	ExitCode int // -1 when not yet exited or unknown; Docker reports the Engine's value (0 before exit)
}

// ImageInfo describes one image a backend knows about.
type ImageInfo struct {
	Ref        types.ImageRef
	Digest     string
	SizeBytes  int64
	PulledAt   time.Time
}

// UpdateOptions carries a resource-limit change applied to a running
// container without recreating it.
type UpdateOptions struct {
	Resources types.ResourceLimits
}

// Runtime is the polymorphic contract every backend implements. Operations
// a backend cannot perform return an *errors.Error with Kind
// errors.NotSupported; Capabilities() lets callers check ahead of time.
type Runtime interface {
	// Name identifies the backend ("crun", "youki", "docker", "wasm").
	Name() string
	// Version reports the underlying engine's version string.
	Version(ctx context.Context) (string, error)
	// IsAvailable reports whether the backend's binary/daemon/API is
	// reachable on this host.
	IsAvailable(ctx context.Context) bool
	// Capabilities reports the capability set this backend implements.
	Capabilities() []Capability

	Create(ctx context.Context, spec *types.ContainerSpec) (types.ContainerId, error)
	Start(ctx context.Context, id types.ContainerId) error
	Stop(ctx context.Context, id types.ContainerId, timeout time.Duration) error
	Kill(ctx context.Context, id types.ContainerId, signal string) error
	Remove(ctx context.Context, id types.ContainerId) error
	Pause(ctx context.Context, id types.ContainerId) error
	Resume(ctx context.Context, id types.ContainerId) error
	State(ctx context.Context, id types.ContainerId) (ProcessState, error)
	List(ctx context.Context) ([]types.ContainerId, error)
	Wait(ctx context.Context, id types.ContainerId) (int, error)
	Update(ctx context.Context, id types.ContainerId, opts UpdateOptions) error
	Top(ctx context.Context, id types.ContainerId) ([]string, error)

	Exec(ctx context.Context, id types.ContainerId, req ExecRequest) (ExecResult, error)
	Stats(ctx context.Context, id types.ContainerId) (Stats, error)
	Logs(ctx context.Context, id types.ContainerId, follow bool) (io.ReadCloser, error)
	Attach(ctx context.Context, id types.ContainerId) (io.ReadWriteCloser, error)

	Checkpoint(ctx context.Context, id types.ContainerId, opts CheckpointOptions) (CheckpointResult, error)
	Restore(ctx context.Context, checkpointPath string, spec *types.ContainerSpec) (types.ContainerId, error)

	PullImage(ctx context.Context, ref types.ImageRef) error
	ImageExists(ctx context.Context, ref types.ImageRef) (bool, error)
	ListImages(ctx context.Context) ([]ImageInfo, error)
}

// hasCapability reports whether caps contains want, the shared guard every
// backend method calls before doing capability-gated work.
func hasCapability(caps []Capability, want Capability) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}

// notSupported builds the uniform error every backend returns for a
// capability it does not implement.
func notSupported(backend, op string) error {
	return herrors.New(herrors.NotSupported, op, herrors.WithContext("backend", backend))
}
