package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/types"
)

// devContainerConfig is the subset of the containers.dev devcontainer.json
// schema the orchestrator understands. Unknown fields are ignored rather
// than captured, since HyperBox only needs enough to build a ProjectConfig.
type devContainerConfig struct {
	Name string `json:"name"`

	Image string             `json:"image"`
	Build *devContainerBuild `json:"build"`

	Features map[string]json.RawMessage `json:"features"`

	ForwardPorts []portOrString    `json:"forwardPorts"`
	ContainerEnv map[string]string `json:"containerEnv"`
	RemoteEnv    map[string]string `json:"remoteEnv"`
	RemoteUser   string            `json:"remoteUser"`

	Mounts  []mountOrString `json:"mounts"`
	RunArgs []string        `json:"runArgs"`

	OnCreateCommand   json.RawMessage `json:"onCreateCommand"`
	PostCreateCommand json.RawMessage `json:"postCreateCommand"`
	OverrideCommand   *bool           `json:"overrideCommand"`
	WorkspaceFolder   string          `json:"workspaceFolder"`
	Privileged        bool            `json:"privileged"`
}

type devContainerBuild struct {
	Dockerfile string            `json:"dockerfile"`
	Context    string            `json:"context"`
	Args       map[string]string `json:"args"`
	Target     string            `json:"target"`
}

// portOrString unmarshals a forwardPorts entry, which is either a bare
// number or a "host:container"/"label:port" style string.
type portOrString struct {
	raw json.RawMessage
}

func (p *portOrString) UnmarshalJSON(data []byte) error {
	p.raw = append([]byte(nil), data...)
	return nil
}

// mountOrString unmarshals a mounts entry, which is either a Docker-style
// mount string or a structured {type, source, target} object.
type mountOrString struct {
	asString string
	asStruct *mountDef
}

type mountDef struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func (m *mountOrString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.asString = s
		return nil
	}
	var d mountDef
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	m.asStruct = &d
	return nil
}

func (m mountOrString) asVolumeString() string {
	if m.asStruct != nil {
		return fmt.Sprintf("type=%s,source=%s,target=%s", m.asStruct.Type, m.asStruct.Source, m.asStruct.Target)
	}
	return m.asString
}

// FeatureRef is a resolved Dev Container Feature reference.
type FeatureRef struct {
	Reference string
	ID        string
	Version   string
	Options   map[string]any
}

// devContainerSearchCandidates lists the first two (fixed-path) steps of the
// search order; findDevContainerConfig adds the per-folder third step.
func devContainerSearchCandidates(projectRoot string) []string {
	return []string{
		filepath.Join(projectRoot, ".devcontainer", "devcontainer.json"),
		filepath.Join(projectRoot, ".devcontainer.json"),
	}
}

// findDevContainerConfig locates a devcontainer.json under projectRoot,
// checking .devcontainer/devcontainer.json, then .devcontainer.json, then
// the first .devcontainer/<folder>/devcontainer.json it finds.
func findDevContainerConfig(projectRoot string) (string, error) {
	for _, candidate := range devContainerSearchCandidates(projectRoot) {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	devDir := filepath.Join(projectRoot, ".devcontainer")
	entries, err := os.ReadDir(devDir)
	if err == nil {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			child := filepath.Join(devDir, e.Name(), "devcontainer.json")
			if _, err := os.Stat(child); err == nil {
				return child, nil
			}
		}
	}

	return "", herrors.New(herrors.ConfigError, "project.findDevContainerConfig",
		herrors.WithContext("path", projectRoot))
}

// HasDevContainerConfig reports whether projectRoot has a devcontainer
// configuration HyperBox can load.
func HasDevContainerConfig(projectRoot string) bool {
	_, err := findDevContainerConfig(projectRoot)
	return err == nil
}

// LoadDevContainerConfig locates, strips JSONC comments from, and parses
// the devcontainer.json under projectRoot.
func LoadDevContainerConfig(projectRoot string) (devContainerConfig, error) {
	path, err := findDevContainerConfig(projectRoot)
	if err != nil {
		return devContainerConfig{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return devContainerConfig{}, herrors.Wrap(herrors.ConfigError, "project.LoadDevContainerConfig",
			herrors.WithContext("path", path), err)
	}

	cleaned := stripJSONComments(raw)

	var cfg devContainerConfig
	if err := json.Unmarshal(cleaned, &cfg); err != nil {
		return devContainerConfig{}, herrors.Wrap(herrors.ConfigError, "project.LoadDevContainerConfig",
			herrors.WithContext("path", path), err)
	}
	return cfg, nil
}

// DevContainerToProjectConfig converts a loaded devcontainer config to a
// ProjectConfig with a single ContainerDef, merging containerEnv and
// remoteEnv (containerEnv wins on conflict) and translating forwardPorts
// and mounts.
func DevContainerToProjectConfig(cfg devContainerConfig, projectRoot string) types.ProjectConfig {
	name := cfg.Name
	if name == "" {
		name = filepath.Base(projectRoot)
	}

	image := cfg.Image
	if image == "" && cfg.Build != nil {
		image = name + ":devcontainer"
	}
	if image == "" {
		image = "mcr.microsoft.com/devcontainers/base:ubuntu"
	}

	env := make(map[string]string, len(cfg.ContainerEnv)+len(cfg.RemoteEnv))
	for k, v := range cfg.RemoteEnv {
		env[k] = v
	}
	for k, v := range cfg.ContainerEnv {
		env[k] = v
	}

	var command []string
	if len(cfg.OnCreateCommand) > 0 {
		command = lifecycleCommandToShell(cfg.OnCreateCommand)
	} else if cfg.OverrideCommand != nil && *cfg.OverrideCommand {
		command = []string{"sleep", "infinity"}
	}

	ports := make([]string, 0, len(cfg.ForwardPorts))
	for _, p := range cfg.ForwardPorts {
		if s, ok := forwardPortToString(p); ok {
			ports = append(ports, s)
		}
	}

	volumes := make([]string, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		volumes = append(volumes, m.asVolumeString())
	}

	build := ""
	if cfg.Build != nil {
		build = cfg.Build.Context
	}

	def := types.ContainerDef{
		Name:    name,
		Image:   image,
		Build:   build,
		Command: command,
		Env:     env,
		Ports:   ports,
		Volumes: volumes,
	}

	return types.ProjectConfig{
		Name:       name,
		Containers: []types.ContainerDef{def},
	}
}

// forwardPortToString renders a forwardPorts entry (bare number, "8080:80",
// or "label:8080") as a ContainerDef.Ports-compatible "host:container" or
// "container" string.
func forwardPortToString(p portOrString) (string, bool) {
	var n int
	if err := json.Unmarshal(p.raw, &n); err == nil {
		return strconv.Itoa(n), true
	}

	var s string
	if err := json.Unmarshal(p.raw, &s); err != nil {
		return "", false
	}

	colon := strings.Index(s, ":")
	if colon < 0 {
		if _, err := strconv.Atoi(s); err != nil {
			return "", false
		}
		return s, true
	}

	left, right := s[:colon], s[colon+1:]
	if _, err := strconv.Atoi(right); err != nil {
		return "", false
	}
	if _, err := strconv.Atoi(left); err == nil {
		return s, true
	}
	// "label:port" form — the label isn't a host port, keep only the
	// container port.
	return right, true
}

// lifecycleCommandToShell flattens a lifecycle command field (string,
// array, or object of named commands) to a single shell invocation.
func lifecycleCommandToShell(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{"sh", "-c", s}
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		names := make([]string, 0, len(obj))
		for k := range obj {
			names = append(names, k)
		}
		sort.Strings(names)
		var cmds []string
		for _, k := range names {
			if s, ok := decodeStringOrList(obj[k]); ok {
				cmds = append(cmds, s)
			}
		}
		return []string{"sh", "-c", strings.Join(cmds, " && ")}
	}

	return nil
}

func decodeStringOrList(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return strings.Join(arr, " "), true
	}
	return "", false
}

// ResolveFeatures extracts the OCI Feature references declared in cfg.
func ResolveFeatures(cfg devContainerConfig) []FeatureRef {
	refs := make([]FeatureRef, 0, len(cfg.Features))
	names := make([]string, 0, len(cfg.Features))
	for ref := range cfg.Features {
		names = append(names, ref)
	}
	sort.Strings(names)

	for _, ref := range names {
		id, version := parseFeatureReference(ref)
		var options map[string]any
		_ = json.Unmarshal(cfg.Features[ref], &options)
		refs = append(refs, FeatureRef{Reference: ref, ID: id, Version: version, Options: options})
	}
	return refs
}

// parseFeatureReference splits a Feature reference into (id, version).
// Supports "ghcr.io/devcontainers/features/node:1", "name@1.2.3", and bare
// or relative-path references.
func parseFeatureReference(reference string) (string, string) {
	if slash := strings.LastIndex(reference, "/"); slash >= 0 {
		nameVer := reference[slash+1:]
		if colon := strings.LastIndex(nameVer, ":"); colon >= 0 {
			return nameVer[:colon], nameVer[colon+1:]
		}
		return nameVer, ""
	}

	if at := strings.LastIndex(reference, "@"); at >= 0 {
		return reference[:at], reference[at+1:]
	}

	name := strings.TrimPrefix(strings.TrimPrefix(reference, "./"), "../")
	return name, ""
}

// FeatureInstallInstructions renders Dockerfile RUN directives that install
// each resolved feature via its upstream install.sh, with option overrides
// exposed as leading environment assignments.
func FeatureInstallInstructions(features []FeatureRef) []string {
	if len(features) == 0 {
		return nil
	}

	instructions := []string{"# Dev Container Features"}
	for _, f := range features {
		var envArgs []string
		keys := make([]string, 0, len(f.Options))
		for k := range f.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := f.Options[k].(type) {
			case string:
				envArgs = append(envArgs, fmt.Sprintf("%s=%s", k, v))
			case bool:
				envArgs = append(envArgs, fmt.Sprintf("%s=%t", k, v))
			case float64:
				envArgs = append(envArgs, fmt.Sprintf("%s=%v", k, v))
			}
		}

		envPrefix := ""
		if len(envArgs) > 0 {
			envPrefix = strings.Join(envArgs, " ") + " "
		}

		version := f.Version
		if version == "" {
			version = "latest"
		}
		instructions = append(instructions,
			fmt.Sprintf("# Feature: %s (%s)", f.ID, version),
			fmt.Sprintf("RUN %sbash -c \"$(curl -fsSL https://raw.githubusercontent.com/devcontainers/features/main/src/%s/install.sh)\"", envPrefix, f.ID),
		)
	}
	return instructions
}

// stripJSONComments removes "//" line comments and "/* */" block comments
// from JSONC input while preserving string literals, so a "//" inside a
// quoted string survives untouched.
func stripJSONComments(input []byte) []byte {
	out := make([]byte, 0, len(input))
	i, n := 0, len(input)

	for i < n {
		switch {
		case input[i] == '"':
			out = append(out, '"')
			i++
			for i < n {
				if input[i] == '\\' && i+1 < n {
					out = append(out, input[i], input[i+1])
					i += 2
					continue
				}
				if input[i] == '"' {
					out = append(out, '"')
					i++
					break
				}
				out = append(out, input[i])
				i++
			}
		case i+1 < n && input[i] == '/' && input[i+1] == '/':
			for i < n && input[i] != '\n' {
				i++
			}
		case i+1 < n && input[i] == '/' && input[i+1] == '*':
			i += 2
			for i+1 < n && !(input[i] == '*' && input[i+1] == '/') {
				i++
			}
			if i+1 < n {
				i += 2
			}
		default:
			out = append(out, input[i])
			i++
		}
	}
	return out
}
