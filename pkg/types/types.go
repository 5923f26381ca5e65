package types

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ContainerId is an opaque 128-bit identifier, immutable once generated and
// unique per daemon lifetime.
type ContainerId [16]byte

// NewContainerId generates a fresh random 128-bit container id.
func NewContainerId() ContainerId {
	var id ContainerId
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

// String renders the full 32-char hex identifier.
func (c ContainerId) String() string {
	return hex.EncodeToString(c[:])
}

// ShortID renders the 12-character display prefix used by logs and the CLI.
func (c ContainerId) ShortID() string {
	s := c.String()
	if len(s) < 12 {
		return s
	}
	return s[:12]
}

// IsZero reports whether the id was never assigned.
func (c ContainerId) IsZero() bool {
	return c == ContainerId{}
}

// ImageRef identifies a container image by (registry, repository, tag-or-digest).
// Equality is by the triple; FullName renders the canonical string form.
type ImageRef struct {
	Registry   string
	Repository string
	// Tag and Digest are mutually preferred; if Digest is set it takes
	// precedence in FullName's rendering ("repo@sha256:...").
	Tag    string
	Digest string
}

// FullName returns the canonical string form of the reference.
func (r ImageRef) FullName() string {
	repo := r.Repository
	if r.Registry != "" {
		repo = r.Registry + "/" + r.Repository
	}
	if r.Digest != "" {
		return fmt.Sprintf("%s@%s", repo, r.Digest)
	}
	tag := r.Tag
	if tag == "" {
		tag = "latest"
	}
	return fmt.Sprintf("%s:%s", repo, tag)
}

// Equal compares two refs by their (registry, repository, tag-or-digest) triple.
func (r ImageRef) Equal(o ImageRef) bool {
	return r.Registry == o.Registry && r.Repository == o.Repository &&
		r.Tag == o.Tag && r.Digest == o.Digest
}

// MountType enumerates the kinds of filesystem mounts a container may have.
type MountType string

const (
	MountBind   MountType = "bind"
	MountVolume MountType = "volume"
	MountTmpfs  MountType = "tmpfs"
)

// Mount describes a single filesystem mount into the container.
type Mount struct {
	Source    string
	Target    string
	ReadOnly  bool
	MountType MountType
}

// Protocol enumerates transport protocols for PortMapping.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// PortMapping describes a published container port.
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      Protocol
	HostIP        string // optional
}

// ResourceLimits holds optional resource ceilings. Pointers distinguish
// "unset" from "zero".
type ResourceLimits struct {
	CPUMillicores   *int64
	MemoryBytes     *int64
	MemorySwapBytes *int64
	PidsLimit       *int64
	IOReadBps       *int64
	IOWriteBps      *int64
}

// RestartPolicy enumerates container restart behavior.
type RestartPolicy string

const (
	RestartPolicyNever     RestartPolicy = "never"
	RestartPolicyOnFailure RestartPolicy = "on-failure"
	RestartPolicyAlways    RestartPolicy = "always"
)

// DangerousCapabilities are the capabilities a privileged container may
// hold that a non-privileged one must never receive (invariant in spec.md
// §3: "if privileged is false, dangerous capabilities are NOT in the
// default capability set").
var DangerousCapabilities = []string{"CAP_SYS_ADMIN", "CAP_SYS_PTRACE"}

// ContainerSpec is the full input to runtime container creation.
type ContainerSpec struct {
	Name           string // optional
	Image          ImageRef
	Command        []string
	Args           []string
	Env            map[string]string
	WorkingDir     string // optional
	User           string // optional, "uid:gid"
	Mounts         []Mount
	Ports          []PortMapping
	Resources      ResourceLimits
	Labels         map[string]string
	RestartPolicy  RestartPolicy
	Hostname       string // optional
	Privileged     bool
	ReadOnlyRootfs bool
	TTY            bool
	StdinOpen      bool
}

// FilterCapabilities drops dangerous capabilities from extra unless the
// spec is Privileged, enforcing the non-privileged invariant at any call
// site that assembles a capability list beyond the OCI bundle builder's
// fixed default set.
func (s *ContainerSpec) FilterCapabilities(extra []string) []string {
	if s.Privileged {
		return extra
	}
	out := make([]string, 0, len(extra))
	for _, c := range extra {
		dangerous := false
		for _, d := range DangerousCapabilities {
			if c == d {
				dangerous = true
				break
			}
		}
		if !dangerous {
			out = append(out, c)
		}
	}
	return out
}

// ContainerState is the container lifecycle state machine.
type ContainerState string

const (
	ContainerStateCreating ContainerState = "creating"
	ContainerStateCreated  ContainerState = "created"
	ContainerStateRunning  ContainerState = "running"
	ContainerStatePaused   ContainerState = "paused"
	ContainerStateStopping ContainerState = "stopping"
	ContainerStateStopped  ContainerState = "stopped"
	ContainerStateExited   ContainerState = "exited"
	ContainerStateUnknown  ContainerState = "unknown"
)

// CanTransition reports whether moving from s to next is a legal state
// machine transition per spec.md §3.
func (s ContainerState) CanTransition(next ContainerState) bool {
	switch s {
	case ContainerStateCreating:
		return next == ContainerStateCreated
	case ContainerStateCreated:
		return next == ContainerStateRunning || next == ContainerStateStopped
	case ContainerStateRunning:
		return next == ContainerStatePaused || next == ContainerStateStopping || next == ContainerStateExited
	case ContainerStatePaused:
		return next == ContainerStateRunning
	case ContainerStateStopping:
		return next == ContainerStateStopped || next == ContainerStateExited
	case ContainerStateStopped:
		return next == ContainerStateCreating || next == ContainerStateRunning
	case ContainerStateExited:
		return next == ContainerStateCreating
	default:
		return false
	}
}

// CanRemove reports whether the state permits Remove.
func (s ContainerState) CanRemove() bool {
	return s == ContainerStateCreated || s == ContainerStateStopped || s == ContainerStateExited
}

// CanPause reports whether the state permits Pause.
func (s ContainerState) CanPause() bool { return s == ContainerStateRunning }

// CanStart reports whether the state permits Start.
func (s ContainerState) CanStart() bool {
	return s == ContainerStateCreated || s == ContainerStateStopped || s == ContainerStateExited
}
