/*
Package storage provides BoltDB-backed persistence for HyperBox's local
state: container records, checkpoints, project definitions, Nydus image
metadata, and the image-verification CA material.

# Architecture

HyperBox uses BoltDB (bbolt) for embedded, transactional storage with no
external dependency:

	BoltStore
	  file: <dataDir>/hyperbox.db
	  buckets:
	    containers    (ContainerId hex -> spec + lifecycle state)
	    checkpoints   (Checkpoint.ID -> Checkpoint)
	    projects      (Project.Name -> Project)
	    nydus_images  (image digest -> NydusImageMeta)
	    ca            (fixed key -> image-verification root key material)

# Transaction Model

Reads use db.View() for concurrent, MVCC-consistent snapshots; writes use
db.Update() for serialized, atomic, fsync'd commits. BoltDB allows only one
writer at a time — callers issuing high-frequency state transitions
(container lifecycle, checkpoint bookkeeping) should expect write latency
to include the fsync cost.

# Usage

	store, err := storage.NewBoltStore("/var/lib/hyperbox")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	id := types.NewContainerId()
	store.CreateContainer(spec, id, types.ContainerStateCreating)
	store.UpdateContainerState(id, types.ContainerStateRunning)

	store.SaveCheckpoint(&types.Checkpoint{ID: "cp-1", ContainerID: id, Kind: types.CheckpointFull})
	cps, _ := store.ListCheckpoints(id)

# Design Patterns

Upsert: Create/Save and Update share the same db.Put path, keyed by the
record's natural id — no separate existence check.

Filter-in-memory: ListCheckpoints scans the full bucket and filters by
ContainerID; acceptable at the checkpoint volumes a single host produces.

Error wrapping: storage errors are wrapped with fmt.Errorf("...: %w", err)
at the point they're detected, not re-wrapped by callers.

# Integration Points

  - pkg/nydus: persists RAFS conversion metadata for cache reuse
  - pkg/security: persists the CA keypair

The container, checkpoint and project methods of Store have no callers
elsewhere in the tree.

# Security

The database file is created with mode 0600; the data directory should be
0700. BoltDB performs no encryption at rest — if the host's disk is not
already encrypted, do not store signing keys or sensitive labels in
unencrypted form here.

# See Also

  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
