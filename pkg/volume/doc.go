/*
Package volume manages named volume directories for HyperBox's project
orchestrator: a service definition that mounts a named volume (rather than
a host bind path) gets a directory under <projectRoot>/.hyperbox/volumes,
created once
and reused across container recreates so stateful services (databases,
caches) keep their data through a `hyperbox project up` restart.

# Architecture

	Manager
	  routes Create/Delete/Mount/Unmount to a named Driver
	  "local" -> LocalDriver (default, always registered)

# Local Driver

LocalDriver creates one directory per volume under its base path
(DefaultVolumesPath, /var/lib/hyperbox/volumes, for NewManager). Mount
returns that directory's host path and mounts nothing itself; binding it
into the container is left to the caller. Deleting a volume removes the
directory and its contents; there is no soft-delete.

# Usage

	vm, _ := volume.NewManager()
	v := &volume.Volume{Name: "postgres-data", Driver: "local"}
	vm.Create(v)
	hostPath, _ := vm.Mount(v)
	// bind hostPath into the container's /var/lib/postgresql/data

# Integration Points

  - pkg/project: creates a volume for each named volume that a
    ContainerDef's volume strings reference (ProjectConfig.Volumes is not
    consulted)

# See Also

  - pkg/project for the orchestrator that owns volume lifecycle
  - pkg/types for Mount and MountType
*/
package volume
