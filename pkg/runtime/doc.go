/*
Package runtime defines HyperBox's container runtime contract and its
four backends: crun, youki, Docker, and wasmtime.

# Architecture

All backends implement the same Runtime interface but advertise a subset
of the capability set {Lifecycle, Exec, Stats, Logs, Attach, Checkpoint,
ImageMgmt} via Capabilities(). Callers that invoke an operation outside a
backend's capability set get back an *errors.Error with Kind
errors.NotSupported rather than a panic.

	┌─────────────── Runtime (interface) ───────────────┐
	│  Create Start Stop Kill Remove Pause Resume        │
	│  State List Wait Update Top                        │
	│  Exec Stats Logs Attach                             │
	│  Checkpoint Restore                                 │
	│  PullImage ImageExists ListImages                   │
	└──────┬─────────┬─────────┬─────────┬───────────────┘
	       │         │         │         │
	   CrunRuntime YoukiRuntime DockerRuntime WASMRuntime
	   (subprocess) (subprocess) (Engine API)  (subprocess)

# crun / youki

Both drive an OCI runtime CLI binary (ociruntime.go carries the shared
subprocess logic) with --root=<state dir> and the usual create/start/
kill/delete/state/list verbs, each under a wall-clock timeout. create
first renders an OCI bundle via pkg/ocibundle. stop sends SIGTERM, polls
state every 100ms, and escalates to SIGKILL once the timeout elapses.
stats reads cgroup-v2 files directly; a missing file yields a zero field
rather than an error. checkpoint/restore shell out to the same binary's
checkpoint/restore verbs, which in turn call CRIU. Neither backend
manages images — PullImage/ImageExists/ListImages return NotSupported.

# Docker

Speaks the Engine API via github.com/docker/docker/client. Containers are
named hb-<short-id>. List does not query the Engine's container list; it
returns only the containers created through the same DockerRuntime
instance. stop delegates to the Engine's own timeout.
Checkpoint/restore are refused (NotSupported) unless the backend was
constructed with experimental mode, matching the Engine's own
experimental-only checkpoint support.

# wasmtime

Accepts .wasm/.wat/.cwasm images. create AOT-compiles the module to a
.cwasm cached by sha256 of the source path; start spawns wasmtime with a
fuel budget derived from cpu_millicores, --max-memory-size from the
memory limit, and --dir src::tgt per mount, redirecting stdout/stderr to
per-container log files. A background goroutine (watchExit) observes the
child's exit and updates state without an extra poll loop. Stop/kill use
os/exec signals (SIGTERM, then SIGKILL on timeout; SIGSTOP/SIGCONT for
pause/resume). Neither exec nor attach are meaningful for a single-module
WASM instance. A WASM "image" is just a path on disk: PullImage and
ListImages return NotSupported, and ImageExists checks that the path exists.

# See Also

  - pkg/ocibundle for the bundle builder crun/youki create() calls
  - pkg/security for the cgroup-v2 paths runtime.readCgroupStats reads
  - pkg/errors for the NotSupported/RuntimeExecution/Timeout error kinds
*/
package runtime
