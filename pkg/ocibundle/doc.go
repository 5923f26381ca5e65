/*
Package ocibundle renders an OCI runtime bundle (config.json plus an empty
rootfs/ directory) from a types.ContainerSpec, the artifact the crun and
youki subprocess backends in pkg/runtime pass to `<runtime> create --bundle`.

# Fixed Defaults

Every bundle gets the same non-privileged capability set, masked/readonly
path hardening list, and default mount set (/proc, /dev, /dev/pts, /dev/shm,
/sys). User mounts are appended as rbind mounts. SYS_ADMIN and SYS_PTRACE
are never granted unless spec.Privileged is true, enforced by
ContainerSpec.FilterCapabilities rather than duplicated bundle-side logic.

# Usage

	bundleDir := filepath.Join(stateDir, id.String())
	path, err := ocibundle.Build(spec, bundleDir)
	// exec.Command("crun", "create", "--bundle", path, id.String())

# See Also

  - pkg/types for ContainerSpec, Mount, ResourceLimits
  - pkg/runtime for the backends that consume built bundles
*/
package ocibundle
