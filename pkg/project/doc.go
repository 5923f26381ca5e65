/*
Package project orchestrates multi-container projects described by a
Compose file or a DevContainer configuration.

	┌──────────────┐     ┌──────────────┐
	│ compose.go   │     │devcontainer.go│
	│ YAML → Config│     │ JSONC → Config│
	└──────┬───────┘     └──────┬───────┘
	       └───────────┬────────┘
	                    ▼
	           types.ProjectConfig
	                    │
	                    ▼
	        ┌───────────────────────┐
	        │ graph.go: topological  │
	        │ sort over DependsOn    │
	        └───────────┬────────────┘
	                    ▼
	        ┌───────────────────────┐
	        │ orchestrator.go:       │
	        │ Create+Start in order, │
	        │ rollback on failure    │
	        └───────────────────────┘

ParseComposeFile and LoadDevContainerConfig both produce a
types.ProjectConfig; everything downstream of that point — topological
ordering, rollback, and ContainerSpec construction — is shared between the
two input formats. Orchestrator.StartProject applies the orchestrator's
all-or-nothing guarantee: any create or start failure stops and removes
every container started earlier in the same call, in reverse order.
*/
package project
