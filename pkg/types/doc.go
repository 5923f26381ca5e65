/*
Package types defines the core data structures shared across HyperBox's
runtime, security, optimization, and orchestration layers.

This package contains the domain model every other package builds on:
container identity and specification, the security policy and enforcement
report exchanged with pkg/security, the checkpoint and pre-dump chain
records produced by pkg/criu, memory sampling records (pkg/memory keeps
its own copies of these), and the project/service definitions consumed by pkg/project.
Keeping these types in one leaf package (no imports back into the rest of
the tree) avoids cyclic dependencies between the managers that own them.

# Architecture

The types package defines:

  - Container identity and specification (ContainerId, ImageRef, ContainerSpec)
  - Mounts, port mappings, and resource limits
  - The container lifecycle state machine (ContainerState)
  - Security policy and enforcement (SecurityPolicy, LayerStatus, EnforcementReport)
  - Checkpoint/restore records (Checkpoint, PreDumpChain, LazyPagesConfig)
  - Memory sampling records (MemorySample, ContainerMemoryState)
  - Project orchestration records (Project, ProjectConfig, ContainerDef)

All types are plain structs with exported fields; enums are string-backed
named types with a const block. Everything here is serializable to JSON
since pkg/storage persists container/checkpoint/project records to BoltDB as
JSON blobs, the way the teacher's storage layer does for its own types.

# Usage

Creating a ContainerSpec:

	spec := &types.ContainerSpec{
		Name:    "web",
		Image:   types.ImageRef{Registry: "docker.io", Repository: "library/nginx", Tag: "latest"},
		Command: []string{"/docker-entrypoint.sh"},
		Env:     map[string]string{"NGINX_PORT": "8080"},
		Mounts: []types.Mount{
			{Source: "/data", Target: "/usr/share/nginx/html", ReadOnly: true, MountType: types.MountBind},
		},
		Resources: types.ResourceLimits{MemoryBytes: ptr(int64(256 << 20))},
	}

# State Machine

ContainerState follows:

	Creating → Created → Running ⇄ Paused
	                        ↓
	                     Stopping → Stopped → (Creating|Running)
	                        ↓
	                     Exited

Remove is permitted only from Created/Stopped/Exited; Pause only from
Running; Start only from Created/Stopped/Exited. CanTransition, CanRemove,
CanPause and CanStart encode these rules; pkg/runtime does not call them.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type ContainerState string
	  const (
	      ContainerStateCreating ContainerState = "creating"
	      ContainerStateRunning  ContainerState = "running"
	  )

Optional Fields:

	Optional configuration uses pointers so "unset" is distinguishable from
	the zero value: *int64 resource limits. WorkingDir is a plain string,
	empty when unset.

# Integration Points

This package integrates with:

  - pkg/errors: the uniform error taxonomy these types' operations return
  - pkg/security: policy application (SecurityPolicy, LayerStatus, EnforcementReport)
  - pkg/ocibundle: ContainerSpec -> OCI config.json
  - pkg/runtime: the polymorphic contract that consumes ContainerSpec
  - pkg/criu: Checkpoint, PreDumpChain, LazyPagesConfig
  - pkg/memory: defines its own MemorySample and ContainerMemoryState
  - pkg/project: Project, ProjectConfig, ContainerDef

# Thread Safety

Types in this package carry no synchronization of their own — they are
plain value objects. Managers that hold live instances of
ContainerMemoryState or EnforcementReport guard them with their own
mutex, documented on the owning type.

# See Also

  - pkg/storage for persistence layer
  - pkg/security for policy enforcement
  - pkg/project for orchestration logic
*/
package types
