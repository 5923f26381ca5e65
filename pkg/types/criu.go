package types

import "time"

// CheckpointKind distinguishes the three dump strategies the CRIU manager
// supports.
type CheckpointKind string

const (
	CheckpointFull        CheckpointKind = "full"
	CheckpointPreDump     CheckpointKind = "pre_dump"
	CheckpointIncremental CheckpointKind = "incremental"
)

// Checkpoint records one CRIU dump on disk.
type Checkpoint struct {
	ID          string
	ContainerID ContainerId
	Kind        CheckpointKind
	Path        string // directory holding the image files
	ParentID    string // non-empty for incremental dumps; refers to the prior Checkpoint.ID
	CreatedAt   time.Time
	SizeBytes   int64
	LazyPages   bool // dump was taken with lazy-pages support for later lazy restore
}

// Expired reports whether the checkpoint is older than maxAge and must be
// refused on restore.
func (c Checkpoint) Expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.CreatedAt) > maxAge
}

// PreDumpChain is an ordered sequence of pre-dump checkpoints terminated by
// one full (final) dump, used to minimize the stop-the-world time of the
// last dump in the chain.
type PreDumpChain struct {
	ContainerID ContainerId
	PreDumps    []Checkpoint // Kind == CheckpointPreDump, in chronological order
	Final       *Checkpoint  // Kind == CheckpointFull, parented on the last pre-dump
}

// LazyPagesConfig configures a demand-paged restore via userfaultfd.
type LazyPagesConfig struct {
	CheckpointID string
	PageServerAddr string // host:port of the criu page-server to connect to
	Timeout        time.Duration
}
