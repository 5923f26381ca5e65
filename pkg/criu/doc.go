/*
Package criu drives the CRIU (Checkpoint/Restore In Userspace) binary for
warm container starts: full checkpoint/restore, incremental pre-dump
chains, and demand-paged (lazy) restore via userfaultfd.

Manager.Initialize probes common install paths plus $PATH for a working
criu binary and runs `criu check`; IsAvailable reflects whether that probe
succeeded. Every operation that shells out to criu first calls
requireAvailable, returning errors.CriuNotAvailable rather than attempting
a doomed exec.

# Full checkpoint/restore

Checkpoint runs `criu dump -t <pid> -D <path> --shell-job` plus whichever
of --leave-running/--tcp-established/--file-locks/--ext-mount-map the
caller's Options enable, then persists a checkpoint.json alongside the
dump. Restore runs the matching `criu restore` after checking the
checkpoint still exists and hasn't aged past MaxCheckpointAge.

# Incremental pre-dump

PreDump captures successive `criu pre-dump --track-mem` snapshots, each
linked to the previous via --prev-images-dir so only pages dirtied since
the last pre-dump are written. CheckpointIncremental performs the final
`criu dump --track-mem` against the last pre-dump in the chain, producing
a checkpoint far smaller than a cold full dump.

# Demand-paged restore

RestoreLazy starts a `criu lazy-pages --page-server` daemon, then restores
with `criu restore --lazy-pages`: the process starts almost immediately
and pages are faulted in via userfaultfd as they're accessed.
StartPageServer exposes a `criu page-server` for network-transparent page
serving to a remote lazy-pages daemon. CleanupDemandPaged tears down any
running lazy-pages daemon and page server for a container and removes its
pre-dump chain from disk.
*/
package criu
