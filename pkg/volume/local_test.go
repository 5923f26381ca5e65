package volume

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLocalDriver(t *testing.T) {
	tmpDir := t.TempDir()

	driver, err := NewLocalDriver(tmpDir)
	if err != nil {
		t.Fatalf("NewLocalDriver() error = %v", err)
	}

	if driver == nil {
		t.Fatal("NewLocalDriver() returned nil driver")
	}

	if driver.basePath != tmpDir {
		t.Errorf("basePath = %v, want %v", driver.basePath, tmpDir)
	}

	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("Base directory was not created")
	}
}

func TestLocalDriver_Create(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	v := &Volume{Name: "test", Driver: "local"}

	if err := driver.Create(v); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	volumePath := driver.GetPath(v)
	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		t.Errorf("Volume directory was not created at %s", volumePath)
	}
}

func TestLocalDriver_Delete(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	v := &Volume{Name: "test", Driver: "local"}

	if err := driver.Create(v); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	volumePath := driver.GetPath(v)

	testFile := filepath.Join(volumePath, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := driver.Delete(v); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := os.Stat(volumePath); !os.IsNotExist(err) {
		t.Error("Volume directory still exists after delete")
	}
}

func TestLocalDriver_Delete_NonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	v := &Volume{Name: "test", Driver: "local"}

	if err := driver.Delete(v); err != nil {
		t.Errorf("Delete() on non-existent volume error = %v, want nil", err)
	}
}

func TestLocalDriver_Mount(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	v := &Volume{Name: "test", Driver: "local"}

	if err := driver.Create(v); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mountPath, err := driver.Mount(v)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	expectedPath := driver.GetPath(v)
	if mountPath != expectedPath {
		t.Errorf("Mount() path = %v, want %v", mountPath, expectedPath)
	}

	if _, err := os.Stat(mountPath); os.IsNotExist(err) {
		t.Errorf("Mount path does not exist: %s", mountPath)
	}
}

func TestLocalDriver_Mount_NonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	v := &Volume{Name: "nonexistent", Driver: "local"}

	if _, err := driver.Mount(v); err == nil {
		t.Error("Mount() on non-existent volume should return error")
	}
}

func TestLocalDriver_Unmount(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	v := &Volume{Name: "test", Driver: "local"}

	if err := driver.Unmount(v); err != nil {
		t.Errorf("Unmount() error = %v, want nil", err)
	}
}

func TestManager_CreateAndDelete(t *testing.T) {
	tmpDir := t.TempDir()
	localDriver, _ := NewLocalDriver(tmpDir)

	m := &Manager{drivers: map[string]Driver{"local": localDriver}}

	v := &Volume{Name: "test", Driver: "local"}

	if err := m.Create(v); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	volumePath := localDriver.GetPath(v)
	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		t.Error("Volume was not created")
	}

	if err := m.Delete(v); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := os.Stat(volumePath); !os.IsNotExist(err) {
		t.Error("Volume was not deleted")
	}
}

func TestManager_UnknownDriver(t *testing.T) {
	tmpDir := t.TempDir()
	localDriver, _ := NewLocalDriver(tmpDir)

	m := &Manager{drivers: map[string]Driver{"local": localDriver}}

	v := &Volume{Name: "test", Driver: "unknown-driver"}

	if err := m.Create(v); err == nil {
		t.Error("Create() with unknown driver should return error")
	}
}

func TestManager_Mount(t *testing.T) {
	tmpDir := t.TempDir()
	localDriver, _ := NewLocalDriver(tmpDir)

	m := &Manager{drivers: map[string]Driver{"local": localDriver}}

	v := &Volume{Name: "test", Driver: "local"}

	if err := m.Create(v); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mountPath, err := m.Mount(v)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	if mountPath == "" {
		t.Error("Mount() returned empty path")
	}

	if _, err := os.Stat(mountPath); os.IsNotExist(err) {
		t.Errorf("Mount path does not exist: %s", mountPath)
	}

	m.Delete(v)
}
