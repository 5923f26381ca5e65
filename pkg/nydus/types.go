package nydus

import (
	"time"

	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// bootstrapMediaType identifies a Nydus RAFS v6 bootstrap in OCI descriptor
// form, alongside the standard image-spec media types.
const bootstrapMediaType = "application/vnd.oci.image.layer.v1.nydus.bootstrap"

// Image is a converted RAFS v6 image: a bootstrap (metadata tree) plus a
// directory of content-addressed data blobs.
type Image struct {
	ImageRef      string
	BootstrapPath string
	BlobDir       string
	RafsVersion   uint32
	BootstrapSize int64
	TotalBlobSize int64
	ChunkCount    uint64
	// Digest content-addresses the bootstrap file, letting callers dedup
	// conversions of the same source across repeated builds.
	Digest    digest.Digest
	CreatedAt time.Time
}

// Manifest returns an OCI descriptor for the image's bootstrap, suitable
// for embedding in a registry manifest alongside its original layers.
func (i Image) Manifest() ispec.Descriptor {
	return ispec.Descriptor{
		MediaType: bootstrapMediaType,
		Digest:    i.Digest,
		Size:      i.BootstrapSize,
	}
}

// DaemonStatus reports a running nydusd instance's health and throughput.
type DaemonStatus struct {
	ContainerID     string
	PID             int
	Mountpoint      string
	Healthy         bool
	UptimeSeconds   uint64
	FilesServed     uint64
	BytesDownloaded uint64
}

// CacheStats summarizes the shared blob cache: its size, blob count, bytes
// downloaded on misses, and an estimated dedup ratio. GetCacheStats does not
// track cache hits, so CacheHitBytes stays zero.
type CacheStats struct {
	BytesCached    int64
	CacheHitBytes  uint64
	CacheMissBytes uint64
	CachedBlobs    uint64
	UniqueChunks   uint64
	DedupRatio     float64
}
