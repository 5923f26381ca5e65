package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDevContainerJSON = `{
	// This is a JSONC comment
	"name": "Rust Development",
	"image": "mcr.microsoft.com/devcontainers/rust:1",
	"features": {
		"ghcr.io/devcontainers/features/node:1": {
			"version": "20"
		},
		"ghcr.io/devcontainers/features/docker-in-docker:2": {}
	},
	"forwardPorts": [8080, "3000:3000", "admin:9000"],
	"containerEnv": {
		"CARGO_HOME": "/usr/local/cargo"
	},
	"remoteEnv": {
		"CARGO_HOME": "/should/be/overridden",
		"RUST_LOG": "debug"
	},
	/* block comment */
	"remoteUser": "vscode",
	"postCreateCommand": "cargo build"
}`

func writeDevContainerJSON(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, ".devcontainer")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devcontainer.json"), []byte(content), 0o644))
	return root
}

func TestStripJSONComments(t *testing.T) {
	in := []byte(`{"a": "http://x", // comment
"b": 1 /* block */, "c": "keep // this"}`)
	out := stripJSONComments(in)
	require.Contains(t, string(out), `"a": "http://x"`)
	require.Contains(t, string(out), `"c": "keep // this"`)
	require.NotContains(t, string(out), "// comment")
	require.NotContains(t, string(out), "/* block */")
}

func TestHasDevContainerConfig(t *testing.T) {
	root := writeDevContainerJSON(t, sampleDevContainerJSON)
	require.True(t, HasDevContainerConfig(root))
	require.False(t, HasDevContainerConfig(t.TempDir()))
}

func TestLoadDevContainerConfig(t *testing.T) {
	root := writeDevContainerJSON(t, sampleDevContainerJSON)
	cfg, err := LoadDevContainerConfig(root)
	require.NoError(t, err)
	require.Equal(t, "Rust Development", cfg.Name)
	require.Equal(t, "mcr.microsoft.com/devcontainers/rust:1", cfg.Image)
	require.Len(t, cfg.Features, 2)
	require.Equal(t, "vscode", cfg.RemoteUser)
}

func TestDevContainerToProjectConfigMergesEnvAndPorts(t *testing.T) {
	root := writeDevContainerJSON(t, sampleDevContainerJSON)
	cfg, err := LoadDevContainerConfig(root)
	require.NoError(t, err)

	pc := DevContainerToProjectConfig(cfg, root)
	require.Len(t, pc.Containers, 1)
	def := pc.Containers[0]

	// containerEnv wins over remoteEnv on conflict.
	require.Equal(t, "/usr/local/cargo", def.Env["CARGO_HOME"])
	require.Equal(t, "debug", def.Env["RUST_LOG"])

	require.Contains(t, def.Ports, "8080")
	require.Contains(t, def.Ports, "3000:3000")
	require.Contains(t, def.Ports, "9000")
}

func TestResolveFeatures(t *testing.T) {
	root := writeDevContainerJSON(t, sampleDevContainerJSON)
	cfg, err := LoadDevContainerConfig(root)
	require.NoError(t, err)

	features := ResolveFeatures(cfg)
	require.Len(t, features, 2)

	byID := map[string]FeatureRef{}
	for _, f := range features {
		byID[f.ID] = f
	}
	require.Equal(t, "1", byID["node"].Version)
	require.Equal(t, "2", byID["docker-in-docker"].Version)
}

func TestParseFeatureReferenceVariants(t *testing.T) {
	id, version := parseFeatureReference("ghcr.io/devcontainers/features/node:1")
	require.Equal(t, "node", id)
	require.Equal(t, "1", version)

	id, version = parseFeatureReference("my-feature@1.2.3")
	require.Equal(t, "my-feature", id)
	require.Equal(t, "1.2.3", version)

	id, version = parseFeatureReference("./local-feature")
	require.Equal(t, "local-feature", id)
	require.Equal(t, "", version)
}

func TestFeatureInstallInstructions(t *testing.T) {
	features := []FeatureRef{
		{ID: "node", Version: "20", Options: map[string]any{"nodeGypDependencies": true}},
	}
	instructions := FeatureInstallInstructions(features)
	require.NotEmpty(t, instructions)
	require.Contains(t, instructions[0], "Dev Container Features")

	joined := ""
	for _, l := range instructions {
		joined += l + "\n"
	}
	require.Contains(t, joined, "node")
	require.Contains(t, joined, "install.sh")
}

func TestFeatureInstallInstructionsEmpty(t *testing.T) {
	require.Empty(t, FeatureInstallInstructions(nil))
}

func TestFindDevContainerConfigSubfolder(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".devcontainer", "rust")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devcontainer.json"), []byte(`{"name":"sub"}`), 0o644))

	path, err := findDevContainerConfig(root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "devcontainer.json"), path)
}

func TestFindDevContainerConfigRootLevel(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".devcontainer.json"), []byte(`{"name":"root"}`), 0o644))

	path, err := findDevContainerConfig(root)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, ".devcontainer.json"), path)
}
