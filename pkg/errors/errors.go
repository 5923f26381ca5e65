// Package errors defines HyperBox's uniform failure taxonomy.
//
// Every layer in the runtime — security, OCI bundling, CRIU, dedup, memory
// management, Nydus, and the project orchestrator — surfaces failures as a
// *Error carrying one of the Kind constants below plus enough context
// (container id, layer kind, path, ...) for a caller to react without
// string-matching. Kinds are checked with Is/As, not with type switches on
// concrete error types, the way the teacher wraps errors with fmt.Errorf
// and %w rather than reaching for a third-party errors package.
package errors

import (
	"errors"
	"fmt"
)

// Kind enumerates the failure taxonomy from the specification. No other
// kind may appear; components that recover locally (optional security
// layer unavailable, missing cgroup stat file, AOT compile fallback) do not
// produce an Error at all.
type Kind string

const (
	// NotAvailable indicates an external binary or kernel feature is missing
	// (CRIU, Nydus, wasmtime, userns, Landlock ABI, cgroup-v2).
	NotAvailable Kind = "not_available"

	// InvalidSpec indicates malformed input (image not WASM, invalid chunker
	// config, unknown signal name).
	InvalidSpec Kind = "invalid_spec"

	// NotSupported indicates a runtime backend lacks a capability the
	// caller requested (e.g. checkpoint on the Docker backend without
	// experimental mode, attach on the WASM backend).
	NotSupported Kind = "not_supported"

	// ContainerNotFound indicates the referenced container id is unknown.
	ContainerNotFound Kind = "container_not_found"
	// NotRunning indicates a state-machine violation: the operation requires
	// a running container.
	NotRunning Kind = "not_running"
	// AlreadyRunning indicates a state-machine violation: the operation
	// requires a container that is not already running.
	AlreadyRunning Kind = "already_running"

	// RuntimeExecution indicates a subprocess exited non-zero or failed to
	// spawn; Stderr carries the subprocess's diagnostic output.
	RuntimeExecution Kind = "runtime_execution"

	// Timeout indicates an operation exceeded its wall-clock budget.
	Timeout Kind = "timeout"

	// CheckpointFailed indicates a CRIU dump failed.
	CheckpointFailed Kind = "checkpoint_failed"
	// RestoreFailed indicates a CRIU restore failed.
	RestoreFailed Kind = "restore_failed"
	// CheckpointNotFound indicates the referenced checkpoint does not exist.
	CheckpointNotFound Kind = "checkpoint_not_found"
	// CheckpointExpired indicates the checkpoint is older than
	// MAX_CHECKPOINT_AGE and restore is refused.
	CheckpointExpired Kind = "checkpoint_expired"
	// CriuNotAvailable indicates the criu binary/kernel support was not
	// found during probing.
	CriuNotAvailable Kind = "criu_not_available"

	// DedupFailed indicates an invalid chunker config, a decompression
	// error, or a chunk missing on fetch.
	DedupFailed Kind = "dedup_failed"

	// LazyLoadFailed indicates an eStargz/Nydus lazy-load failure.
	LazyLoadFailed Kind = "lazy_load_failed"
	// LayerNotFound indicates a referenced image layer is missing.
	LayerNotFound Kind = "layer_not_found"

	// PredictionFailed indicates the pre-warm predictor could not produce a
	// result (external collaborator; kept for taxonomy completeness).
	PredictionFailed Kind = "prediction_failed"
	// InsufficientData indicates a predictor lacked enough history.
	InsufficientData Kind = "insufficient_data"
	// ResourceExhausted indicates a resource limit prevented an operation.
	ResourceExhausted Kind = "resource_exhausted"
	// PrewarmFailed indicates pre-warming a container failed.
	PrewarmFailed Kind = "prewarm_failed"

	// ConfigError indicates a DevContainer/Compose parse failure, with path
	// context.
	ConfigError Kind = "config_error"

	// CyclicDependency indicates the orchestrator's dependency graph has a
	// cycle.
	CyclicDependency Kind = "cyclic_dependency"
	// ContainerCreate indicates the orchestrator failed to create a
	// container for a service definition.
	ContainerCreate Kind = "container_create"
	// ContainerStart indicates the orchestrator failed to start a
	// container for a service definition.
	ContainerStart Kind = "container_start"

	// Internal indicates an invariant violation — a bug, not a usage error.
	Internal Kind = "internal"
)

// Error is the concrete error type carrying a Kind, the failing operation,
// free-form context fields, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Op      string
	Context map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	for k, v := range e.Context {
		msg += fmt.Sprintf(" %s=%s", k, v)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errors.New(errors.CriuNotAvailable, "", nil)) or, more
// commonly, use Kind directly via errors.As + inspecting e.Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error. ctx may be nil.
func New(kind Kind, op string, ctx map[string]string) *Error {
	return &Error{Kind: kind, Op: op, Context: ctx}
}

// Wrap constructs an *Error that wraps cause.
func Wrap(kind Kind, op string, ctx map[string]string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Context: ctx, Err: cause}
}

// WithContext returns a copy of key/value pairs merged into a new context
// map, used for one-line construction: errors.WithContext("container_id", id).
func WithContext(kvs ...string) map[string]string {
	ctx := make(map[string]string, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		ctx[kvs[i]] = kvs[i+1]
	}
	return ctx
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
