package project

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	herrors "github.com/cuemby/hyperbox/pkg/errors"
	"github.com/cuemby/hyperbox/pkg/types"
)

// composeFile is the subset of the docker-compose schema the orchestrator
// understands: services, their resource/volume/port declarations, and
// top-level named volumes.
type composeFile struct {
	Version  string                    `yaml:"version"`
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]any            `yaml:"volumes"`
}

type composeService struct {
	Image       string            `yaml:"image"`
	Build       composeBuild      `yaml:"build"`
	Command     composeStringList `yaml:"command"`
	Environment composeStringMap  `yaml:"environment"`
	Ports       []string          `yaml:"ports"`
	Volumes     []string          `yaml:"volumes"`
	DependsOn   composeStringList `yaml:"depends_on"`
	Labels      composeStringMap  `yaml:"labels"`
	Deploy      composeDeploy     `yaml:"deploy"`
}

type composeDeploy struct {
	Resources struct {
		Limits struct {
			CPUs   string `yaml:"cpus"`
			Memory string `yaml:"memory"`
		} `yaml:"limits"`
	} `yaml:"resources"`
}

// composeBuild accepts either a bare context-path string ("./web") or the
// structured `{context, dockerfile}` form.
type composeBuild struct {
	Context string
}

func (b *composeBuild) UnmarshalYAML(data []byte) error {
	var s string
	if err := yaml.Unmarshal(data, &s); err == nil {
		b.Context = s
		return nil
	}
	var obj struct {
		Context string `yaml:"context"`
	}
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return err
	}
	b.Context = obj.Context
	return nil
}

// composeStringList accepts either a single string or a YAML sequence of
// strings, the same flexibility compose grants `command` and `depends_on`.
type composeStringList []string

func (l *composeStringList) UnmarshalYAML(data []byte) error {
	var s string
	if err := yaml.Unmarshal(data, &s); err == nil {
		*l = composeStringList{s}
		return nil
	}
	var v []string
	if err := yaml.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = v
	return nil
}

// composeStringMap accepts either a YAML mapping or a list of "KEY=VALUE"
// strings, the same flexibility compose grants `environment` and `labels`.
type composeStringMap map[string]string

func (m *composeStringMap) UnmarshalYAML(data []byte) error {
	var asMap map[string]string
	if err := yaml.Unmarshal(data, &asMap); err == nil {
		*m = asMap
		return nil
	}
	var asList []string
	if err := yaml.Unmarshal(data, &asList); err != nil {
		return err
	}
	out := make(map[string]string, len(asList))
	for _, kv := range asList {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	*m = out
	return nil
}

// ParseComposeFile reads and parses a docker-compose YAML file into a
// ProjectConfig. projectName overrides the config name when non-empty;
// otherwise the compose file's containing directory name is used.
func ParseComposeFile(path string, projectName string) (types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ProjectConfig{}, herrors.Wrap(herrors.ConfigError, "project.ParseComposeFile",
			herrors.WithContext("path", path), err)
	}

	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return types.ProjectConfig{}, herrors.Wrap(herrors.ConfigError, "project.ParseComposeFile",
			herrors.WithContext("path", path), err)
	}

	if projectName == "" {
		projectName = filepath.Base(filepath.Dir(path))
	}

	return composeToProjectConfig(cf, projectName)
}

func composeToProjectConfig(cf composeFile, projectName string) (types.ProjectConfig, error) {
	defs := make([]types.ContainerDef, 0, len(cf.Services))
	for name, svc := range cf.Services {
		def, err := composeServiceToDef(name, svc)
		if err != nil {
			return types.ProjectConfig{}, err
		}
		defs = append(defs, def)
	}

	volumes := make([]string, 0, len(cf.Volumes))
	for name := range cf.Volumes {
		volumes = append(volumes, name)
	}

	return types.ProjectConfig{
		Name:       projectName,
		Containers: defs,
		Volumes:    volumes,
	}, nil
}

func composeServiceToDef(name string, svc composeService) (types.ContainerDef, error) {
	resources, err := composeResourceLimits(svc.Deploy)
	if err != nil {
		return types.ContainerDef{}, herrors.Wrap(herrors.ConfigError, "project.composeServiceToDef",
			herrors.WithContext("service", name), err)
	}

	image := svc.Image
	if image == "" && svc.Build.Context != "" {
		image = name + ":compose-build"
	}

	return types.ContainerDef{
		Name:      name,
		Image:     image,
		Build:     svc.Build.Context,
		Command:   svc.Command,
		Env:       svc.Environment,
		Ports:     svc.Ports,
		Volumes:   svc.Volumes,
		DependsOn: svc.DependsOn,
		Resources: resources,
		Labels:    svc.Labels,
	}, nil
}

func composeResourceLimits(deploy composeDeploy) (types.ResourceLimits, error) {
	var out types.ResourceLimits

	if cpus := deploy.Resources.Limits.CPUs; cpus != "" {
		millicores, err := parseCPUString(cpus)
		if err != nil {
			return out, err
		}
		out.CPUMillicores = &millicores
	}

	if mem := deploy.Resources.Limits.Memory; mem != "" {
		bytes, err := parseMemoryString(mem)
		if err != nil {
			return out, err
		}
		out.MemoryBytes = &bytes
	}

	return out, nil
}
