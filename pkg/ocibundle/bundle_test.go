package ocibundle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hyperbox/pkg/types"
)

func TestBuildDefaultCommand(t *testing.T) {
	dir := t.TempDir()
	spec := &types.ContainerSpec{Image: types.ImageRef{Repository: "alpine", Tag: "latest"}}

	bundleDir, err := Build(spec, dir)
	require.NoError(t, err)

	if _, err := os.Stat(filepath.Join(bundleDir, "rootfs")); err != nil {
		t.Fatalf("rootfs not created: %v", err)
	}

	config := readConfig(t, bundleDir)
	require.Equal(t, []string{"/bin/sh"}, config.Process.Args)
	require.Equal(t, "/", config.Process.Cwd)
	require.True(t, config.Process.NoNewPrivileges)
}

func TestBuildPrivilegedClearsNoNewPrivileges(t *testing.T) {
	dir := t.TempDir()
	spec := &types.ContainerSpec{
		Image:      types.ImageRef{Repository: "alpine"},
		Privileged: true,
	}
	spec2 := &types.ContainerSpec{
		Image: types.ImageRef{Repository: "alpine"},
	}

	privileged := readConfig(t, mustBuild(t, spec, dir))
	nonPrivileged := readConfig(t, mustBuild(t, spec2, t.TempDir()))

	require.False(t, nonPrivileged.Process.NoNewPrivileges == false)
	require.True(t, privileged.Process.NoNewPrivileges == false)
}

func TestBuildHostnameDefault(t *testing.T) {
	dir := t.TempDir()
	spec := &types.ContainerSpec{Image: types.ImageRef{Repository: "alpine"}}

	config := readConfig(t, mustBuild(t, spec, dir))
	require.Equal(t, "hyperbox", config.Hostname)
}

func TestBuildUserMountsAppendDefaults(t *testing.T) {
	dir := t.TempDir()
	spec := &types.ContainerSpec{
		Image: types.ImageRef{Repository: "alpine"},
		Mounts: []types.Mount{
			{Source: "/host/data", Target: "/data", ReadOnly: true, MountType: types.MountBind},
		},
	}

	config := readConfig(t, mustBuild(t, spec, dir))
	require.Greater(t, len(config.Mounts), 5)
	last := config.Mounts[len(config.Mounts)-1]
	require.Equal(t, "/data", last.Destination)
	require.Contains(t, last.Options, "ro")
}

func TestBuildCPUResourceTranslation(t *testing.T) {
	dir := t.TempDir()
	millicores := int64(500)
	spec := &types.ContainerSpec{
		Image:     types.ImageRef{Repository: "alpine"},
		Resources: types.ResourceLimits{CPUMillicores: &millicores},
	}

	config := readConfig(t, mustBuild(t, spec, dir))
	require.NotNil(t, config.Linux.Resources.CPU.Quota)
	require.Equal(t, int64(50000), *config.Linux.Resources.CPU.Quota)
}

func mustBuild(t *testing.T, spec *types.ContainerSpec, dir string) string {
	t.Helper()
	bundleDir, err := Build(spec, dir)
	require.NoError(t, err)
	return bundleDir
}

func readConfig(t *testing.T, bundleDir string) *specs.Spec {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(bundleDir, "config.json"))
	require.NoError(t, err)
	var config specs.Spec
	require.NoError(t, json.Unmarshal(data, &config))
	return &config
}
