package runtime

// CrunRuntime drives the crun OCI runtime binary as a subprocess. All
// operations are implemented by the shared ociRuntime driver; crun-specific
// behavior is limited to the binary name passed to exec.Command.
type CrunRuntime struct {
	*ociRuntime
}

// NewCrunRuntime returns a Runtime backed by the crun binary on PATH.
func NewCrunRuntime() *CrunRuntime {
	return &CrunRuntime{ociRuntime: newOCIRuntime("crun")}
}
