package types

// ContainerDef is one service entry of a project, parsed from a
// docker-compose.yaml or devcontainer.json and resolved into a
// ContainerSpec by the orchestrator.
type ContainerDef struct {
	Name      string
	Image     string // unresolved reference string, e.g. "nginx:latest"
	Build     string // optional build context path; mutually exclusive-ish with Image
	Command   []string
	Env       map[string]string
	Ports     []string // "host:container[/proto]" compose-style strings, parsed by the orchestrator
	Volumes   []string // "source:target[:ro]" compose-style strings
	DependsOn []string // names of other ContainerDef entries in the same project
	Resources ResourceLimits
	Labels    map[string]string
}

// ProjectConfig is the parsed, pre-resolution form of a project file.
type ProjectConfig struct {
	Name       string
	Containers []ContainerDef
	Volumes    []string // named volumes declared at the top level
}

// ProjectState enumerates the lifecycle of a project as a whole.
type ProjectState string

const (
	ProjectStateUp       ProjectState = "up"
	ProjectStateDown     ProjectState = "down"
	ProjectStatePartial  ProjectState = "partial" // some containers up, some failed
	ProjectStateRollback ProjectState = "rollback"
)

// Project is a resolved, running (or formerly running) project: a named
// group of containers brought up together in dependency order.
type Project struct {
	ID         string // uuid, stamped into the hyperbox.project.id label
	Name       string
	Root       string // directory holding the compose/devcontainer file and .hyperbox/volumes
	Config     ProjectConfig
	State      ProjectState
	Containers map[string]ContainerId // ContainerDef.Name -> running container id
}
