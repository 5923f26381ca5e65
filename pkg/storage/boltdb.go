package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/hyperbox/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketContainers  = []byte("containers")
	bucketCheckpoints = []byte("checkpoints")
	bucketProjects    = []byte("projects")
	bucketNydusImages = []byte("nydus_images")
	bucketCA          = []byte("ca")
)

// BoltStore implements Store using an embedded BoltDB file, the way the
// teacher persists cluster state: one bucket per record kind, JSON-encoded
// values keyed by the record's natural id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the hyperbox.db file under
// dataDir and ensures all buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hyperbox.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketContainers,
			bucketCheckpoints,
			bucketProjects,
			bucketNydusImages,
			bucketCA,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

type containerRecordJSON struct {
	ID    string                `json:"id"`
	Spec  *types.ContainerSpec  `json:"spec"`
	State types.ContainerState  `json:"state"`
}

// CreateContainer persists a new container record.
func (s *BoltStore) CreateContainer(spec *types.ContainerSpec, id types.ContainerId, state types.ContainerState) error {
	rec := containerRecordJSON{ID: id.String(), Spec: spec, State: state}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// GetContainerState returns the persisted lifecycle state for id.
func (s *BoltStore) GetContainerState(id types.ContainerId) (types.ContainerState, error) {
	var rec containerRecordJSON
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		data := b.Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("container not found: %s", id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// UpdateContainerState overwrites the persisted state for id, leaving the
// stored spec untouched.
func (s *BoltStore) UpdateContainerState(id types.ContainerId, state types.ContainerState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		data := b.Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("container not found: %s", id)
		}
		var rec containerRecordJSON
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.State = state
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), updated)
	})
}

// ListContainers returns every persisted container record.
func (s *BoltStore) ListContainers() ([]ContainerRecord, error) {
	var records []ContainerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		return b.ForEach(func(k, v []byte) error {
			var rec containerRecordJSON
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			var id types.ContainerId
			if decoded, err := decodeContainerID(rec.ID); err == nil {
				id = decoded
			}
			records = append(records, ContainerRecord{ID: id, Spec: rec.Spec, State: rec.State})
			return nil
		})
	})
	return records, err
}

// DeleteContainer removes a container record.
func (s *BoltStore) DeleteContainer(id types.ContainerId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainers)
		return b.Delete([]byte(id.String()))
	})
}

// SaveCheckpoint persists (or overwrites) a checkpoint record.
func (s *BoltStore) SaveCheckpoint(cp *types.Checkpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		data, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return b.Put([]byte(cp.ID), data)
	})
}

// GetCheckpoint retrieves a checkpoint by id.
func (s *BoltStore) GetCheckpoint(id string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("checkpoint not found: %s", id)
		}
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListCheckpoints returns every checkpoint belonging to containerID,
// in no particular order; callers sort by CreatedAt if chain order matters.
func (s *BoltStore) ListCheckpoints(containerID types.ContainerId) ([]*types.Checkpoint, error) {
	var checkpoints []*types.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		return b.ForEach(func(k, v []byte) error {
			var cp types.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				return err
			}
			if cp.ContainerID == containerID {
				checkpoints = append(checkpoints, &cp)
			}
			return nil
		})
	})
	return checkpoints, err
}

// DeleteCheckpoint removes a checkpoint record.
func (s *BoltStore) DeleteCheckpoint(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCheckpoints)
		return b.Delete([]byte(id))
	})
}

// SaveProject persists (or overwrites) a project record.
func (s *BoltStore) SaveProject(p *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.Name), data)
	})
}

// GetProject retrieves a project by name.
func (s *BoltStore) GetProject(name string) (*types.Project, error) {
	var p types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("project not found: %s", name)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns every persisted project.
func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		return b.ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			projects = append(projects, &p)
			return nil
		})
	})
	return projects, err
}

// DeleteProject removes a project record.
func (s *BoltStore) DeleteProject(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		return b.Delete([]byte(name))
	})
}

// SaveNydusImage persists (or overwrites) a RAFS conversion record.
func (s *BoltStore) SaveNydusImage(meta *NydusImageMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNydusImages)
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(meta.Digest), data)
	})
}

// GetNydusImage retrieves a RAFS conversion record by original image digest.
func (s *BoltStore) GetNydusImage(digest string) (*NydusImageMeta, error) {
	var meta NydusImageMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNydusImages)
		data := b.Get([]byte(digest))
		if data == nil {
			return fmt.Errorf("nydus image not found: %s", digest)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListNydusImages returns every persisted RAFS conversion record.
func (s *BoltStore) ListNydusImages() ([]*NydusImageMeta, error) {
	var images []*NydusImageMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNydusImages)
		return b.ForEach(func(k, v []byte) error {
			var meta NydusImageMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			images = append(images, &meta)
			return nil
		})
	})
	return images, err
}

// DeleteNydusImage removes a RAFS conversion record.
func (s *BoltStore) DeleteNydusImage(digest string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNydusImages)
		return b.Delete([]byte(digest))
	})
}

// SaveCA stores the image-verification root key material.
func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("ca"), data)
	})
}

// GetCA retrieves the image-verification root key material.
func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get([]byte("ca"))
		if v == nil {
			return fmt.Errorf("CA not initialized")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

func decodeContainerID(hexStr string) (types.ContainerId, error) {
	var id types.ContainerId
	if len(hexStr) != len(id)*2 {
		return id, fmt.Errorf("invalid container id length: %s", hexStr)
	}
	for i := range id {
		var b byte
		if _, err := fmt.Sscanf(hexStr[i*2:i*2+2], "%02x", &b); err != nil {
			return id, err
		}
		id[i] = b
	}
	return id, nil
}
