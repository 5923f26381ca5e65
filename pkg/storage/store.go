package storage

import (
	"github.com/cuemby/hyperbox/pkg/types"
)

// Store defines the interface for HyperBox's persistent state: container
// records, checkpoints, project definitions, and Nydus image metadata. A
// single BoltDB-backed implementation (BoltStore) is provided; callers that
// need to mock it in tests can satisfy this interface directly.
type Store interface {
	// Containers
	CreateContainer(spec *types.ContainerSpec, id types.ContainerId, state types.ContainerState) error
	GetContainerState(id types.ContainerId) (types.ContainerState, error)
	UpdateContainerState(id types.ContainerId, state types.ContainerState) error
	ListContainers() ([]ContainerRecord, error)
	DeleteContainer(id types.ContainerId) error

	// Checkpoints
	SaveCheckpoint(cp *types.Checkpoint) error
	GetCheckpoint(id string) (*types.Checkpoint, error)
	ListCheckpoints(containerID types.ContainerId) ([]*types.Checkpoint, error)
	DeleteCheckpoint(id string) error

	// Projects
	SaveProject(p *types.Project) error
	GetProject(name string) (*types.Project, error)
	ListProjects() ([]*types.Project, error)
	DeleteProject(name string) error

	// Nydus image metadata
	SaveNydusImage(meta *NydusImageMeta) error
	GetNydusImage(digest string) (*NydusImageMeta, error)
	ListNydusImages() ([]*NydusImageMeta, error)
	DeleteNydusImage(digest string) error

	// Certificate authority material reused for image-verification signing keys
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	Close() error
}

// ContainerRecord is the persisted form of a container: its original spec
// plus current lifecycle state.
type ContainerRecord struct {
	ID    types.ContainerId
	Spec  *types.ContainerSpec
	State types.ContainerState
}

// NydusImageMeta is the persisted record of a RAFS-converted image.
type NydusImageMeta struct {
	Digest     string
	BlobDigest string
	RafsPath   string
	SizeBytes  int64
}
