// Package nydus integrates the Nydus image acceleration framework: OCI
// layers are converted to the RAFS v6 format (a compact metadata bootstrap
// plus content-addressed data blobs) so a container can start from the
// bootstrap alone and fault in file data on first access via a nydusd
// FUSE/virtiofs daemon, instead of waiting for a full layer pull.
package nydus

// FsDriver selects the filesystem interface nydusd exposes a mount through.
type FsDriver int

const (
	// FsDriverFuse serves the RAFS filesystem via Linux FUSE.
	FsDriverFuse FsDriver = iota
	// FsDriverVirtiofs serves it via virtiofs, for VM-isolated backends.
	FsDriverVirtiofs
)

// CacheType selects the nydusd blob cache backend.
type CacheType int

const (
	// CacheTypeBlobCache is the user-space cache (compressed or not).
	CacheTypeBlobCache CacheType = iota
	// CacheTypeFsCache uses Linux fscache (kernel 5.19+).
	CacheTypeFsCache
)

// CacheConfig configures the nydusd blob cache.
type CacheConfig struct {
	Type       CacheType
	Compressed bool
	MaxSizeMB  uint64
}

// PrefetchConfig configures nydusd's background prefetch worker pool.
type PrefetchConfig struct {
	Enabled        bool
	Threads        uint32
	MergingSize    uint32
	BandwidthLimit uint64 // bytes/sec, 0 = unlimited
}

// DaemonConfig is the template used to generate each container's nydusd
// configuration file.
type DaemonConfig struct {
	RegistryURL    string
	FsDriver       FsDriver
	Cache          CacheConfig
	ThreadCount    uint32
	Prefetch       PrefetchConfig
	EnableXattr    bool
	DigestValidate bool
}

// DefaultDaemonConfig mirrors the upstream nydusd defaults: Docker Hub
// registry, FUSE driver, uncompressed blob cache capped at 10 GiB,
// prefetch on with a 128 KiB merge window.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		RegistryURL: "https://registry-1.docker.io",
		FsDriver:    FsDriverFuse,
		Cache: CacheConfig{
			Type:       CacheTypeBlobCache,
			Compressed: false,
			MaxSizeMB:  10240,
		},
		ThreadCount: 4,
		Prefetch: PrefetchConfig{
			Enabled:        true,
			Threads:        4,
			MergingSize:    131072,
			BandwidthLimit: 0,
		},
		EnableXattr:    true,
		DigestValidate: false,
	}
}
