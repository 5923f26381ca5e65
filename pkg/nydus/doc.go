/*
Package nydus integrates the Nydus image acceleration framework for
on-demand container image pulling.

	┌─────────────────────────────────────────────────────────┐
	│  Manager                                                 │
	│  ┌──────────┐  ┌──────────┐  ┌──────────────────────┐  │
	│  │nydus-     │  │ nydusd   │  │ Blob Cache           │  │
	│  │image      │  │ daemons  │  │ (content-addressed)  │  │
	│  │converter  │  │ per-ctr  │  │ shared across images │  │
	│  └──────────┘  └──────────┘  └──────────────────────┘  │
	└─────────────────────────────────────────────────────────┘

ConvertImage runs `nydus-image create` against an unpacked OCI layer
directory, producing a RAFS v6 bootstrap (the metadata tree) and
content-addressed 1 MiB data blobs, then persists the conversion's metadata
through a storage.Store so garbage collection and inventory listing survive
a process restart. StartDaemon launches a nydusd instance per container,
mounting the RAFS tree via FUSE or virtiofs and serving file data on first
access straight from the registry, with local blob caching. GC evicts the
least-recently-modified cache entries (LRU by mtime) once the shared cache
exceeds its configured size, with a dry-run mode that reports what would be
freed without deleting anything.
*/
package nydus
