package volume

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultVolumesPath is the base directory for named project volumes.
	DefaultVolumesPath = "/var/lib/hyperbox/volumes"
)

// Volume is a named, host-persisted directory backing a MountVolume mount
// in one or more containers of a project.
type Volume struct {
	Name   string
	Driver string
	Labels map[string]string
}

// Driver defines the interface for volume backends. HyperBox ships the
// local directory-backed driver; other drivers (NFS, Ceph) could be added
// behind the same interface without touching the project orchestrator.
type Driver interface {
	// Create creates a new volume.
	Create(v *Volume) error

	// Delete removes a volume.
	Delete(v *Volume) error

	// Mount returns the host path for mounting to a container.
	Mount(v *Volume) (string, error)

	// Unmount performs cleanup after unmounting.
	Unmount(v *Volume) error

	// GetPath returns the host path for a volume.
	GetPath(v *Volume) string
}

// LocalDriver implements a simple directory-backed volume driver.
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a local volume driver rooted at basePath, or
// DefaultVolumesPath when basePath is empty.
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}

	return &LocalDriver{basePath: basePath}, nil
}

// Create creates the volume's directory on disk.
func (d *LocalDriver) Create(v *Volume) error {
	volumePath := d.GetPath(v)
	if err := os.MkdirAll(volumePath, 0755); err != nil {
		return fmt.Errorf("failed to create volume directory: %w", err)
	}
	return nil
}

// Delete removes the volume's directory and all its contents.
func (d *LocalDriver) Delete(v *Volume) error {
	volumePath := d.GetPath(v)
	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(volumePath); err != nil {
		return fmt.Errorf("failed to delete volume directory: %w", err)
	}
	return nil
}

// Mount verifies the volume directory exists and returns its host path for
// bind-mounting into a container.
func (d *LocalDriver) Mount(v *Volume) (string, error) {
	volumePath := d.GetPath(v)
	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		return "", fmt.Errorf("volume directory does not exist: %s", volumePath)
	}
	return volumePath, nil
}

// Unmount is a no-op for the local driver: the directory stays on disk.
func (d *LocalDriver) Unmount(v *Volume) error {
	return nil
}

// GetPath returns the host path for a named volume.
func (d *LocalDriver) GetPath(v *Volume) string {
	return filepath.Join(d.basePath, v.Name)
}

// Manager routes volume operations to the appropriate driver. Every
// project's named volumes default to "local" unless a service definition
// requests otherwise.
type Manager struct {
	drivers map[string]Driver
}

// NewManager creates a volume manager with the local driver registered
// under the "local" name.
func NewManager() (*Manager, error) {
	local, err := NewLocalDriver("")
	if err != nil {
		return nil, fmt.Errorf("failed to create local driver: %w", err)
	}

	return &Manager{
		drivers: map[string]Driver{"local": local},
	}, nil
}

// RegisterDriver adds (or replaces) a named driver.
func (m *Manager) RegisterDriver(name string, d Driver) {
	m.drivers[name] = d
}

func (m *Manager) driverFor(name string) (Driver, error) {
	if name == "" {
		name = "local"
	}
	d, ok := m.drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown volume driver: %s", name)
	}
	return d, nil
}

// Create creates a volume using its driver (defaulting to "local").
func (m *Manager) Create(v *Volume) error {
	d, err := m.driverFor(v.Driver)
	if err != nil {
		return err
	}
	return d.Create(v)
}

// Delete deletes a volume using its driver.
func (m *Manager) Delete(v *Volume) error {
	d, err := m.driverFor(v.Driver)
	if err != nil {
		return err
	}
	return d.Delete(v)
}

// Mount returns the mount path for a volume.
func (m *Manager) Mount(v *Volume) (string, error) {
	d, err := m.driverFor(v.Driver)
	if err != nil {
		return "", err
	}
	return d.Mount(v)
}

// Unmount performs cleanup after unmounting a volume.
func (m *Manager) Unmount(v *Volume) error {
	d, err := m.driverFor(v.Driver)
	if err != nil {
		return err
	}
	return d.Unmount(v)
}
