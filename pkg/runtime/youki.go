package runtime

// YoukiRuntime drives the youki OCI runtime binary (a Rust reimplementation
// of the OCI runtime CLI surface) as a subprocess. It shares the full
// ociRuntime driver with CrunRuntime; youki accepts the same create/
// start/kill/delete/state/list verbs and --root flag.
type YoukiRuntime struct {
	*ociRuntime
}

// NewYoukiRuntime returns a Runtime backed by the youki binary on PATH.
func NewYoukiRuntime() *YoukiRuntime {
	return &YoukiRuntime{ociRuntime: newOCIRuntime("youki")}
}
