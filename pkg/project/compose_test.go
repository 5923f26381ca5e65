package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleCompose = `
version: "3.9"
services:
  db:
    image: postgres:16
    environment:
      POSTGRES_PASSWORD: secret
    volumes:
      - "dbdata:/var/lib/postgresql/data"
  web:
    image: nginx:latest
    depends_on:
      - db
    ports:
      - "8080:80"
    volumes:
      - "./site:/usr/share/nginx/html:ro"
    deploy:
      resources:
        limits:
          cpus: "0.5"
          memory: "256m"
    labels:
      tier: frontend
volumes:
  dbdata:
`

func writeComposeFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseComposeFileBasic(t *testing.T) {
	path := writeComposeFile(t, sampleCompose)
	cfg, err := ParseComposeFile(path, "myproj")
	require.NoError(t, err)
	require.Equal(t, "myproj", cfg.Name)
	require.Len(t, cfg.Containers, 2)
	require.Contains(t, cfg.Volumes, "dbdata")

	byName := map[string]int{}
	for i, c := range cfg.Containers {
		byName[c.Name] = i
	}

	webDef := cfg.Containers[byName["web"]]
	require.Equal(t, "nginx:latest", webDef.Image)
	require.Equal(t, []string{"db"}, webDef.DependsOn)
	require.Equal(t, []string{"8080:80"}, webDef.Ports)
	require.NotNil(t, webDef.Resources.CPUMillicores)
	require.EqualValues(t, 500, *webDef.Resources.CPUMillicores)
	require.NotNil(t, webDef.Resources.MemoryBytes)
	require.EqualValues(t, 256*1024*1024, *webDef.Resources.MemoryBytes)
	require.Equal(t, "frontend", webDef.Labels["tier"])

	dbDef := cfg.Containers[byName["db"]]
	require.Equal(t, "secret", dbDef.Env["POSTGRES_PASSWORD"])
}

func TestParseComposeFileDefaultsNameFromDir(t *testing.T) {
	path := writeComposeFile(t, "services:\n  one:\n    image: alpine\n")
	cfg, err := ParseComposeFile(path, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Base(filepath.Dir(path)), cfg.Name)
}

func TestParseComposeFileMissing(t *testing.T) {
	_, err := ParseComposeFile("/does/not/exist.yaml", "x")
	require.Error(t, err)
}

func TestParseComposeFileBuildContext(t *testing.T) {
	path := writeComposeFile(t, `
services:
  app:
    build: ./app
`)
	cfg, err := ParseComposeFile(path, "x")
	require.NoError(t, err)
	require.Len(t, cfg.Containers, 1)
	require.Equal(t, "./app", cfg.Containers[0].Build)
	require.Equal(t, "app:compose-build", cfg.Containers[0].Image)
}

func TestParseComposeFileCommandAsList(t *testing.T) {
	path := writeComposeFile(t, `
services:
  app:
    image: alpine
    command: ["echo", "hi"]
`)
	cfg, err := ParseComposeFile(path, "x")
	require.NoError(t, err)
	require.Equal(t, []string{"echo", "hi"}, cfg.Containers[0].Command)
}

func TestParseComposeFileEnvironmentAsList(t *testing.T) {
	path := writeComposeFile(t, `
services:
  app:
    image: alpine
    environment:
      - "FOO=bar"
      - "BAZ=qux"
`)
	cfg, err := ParseComposeFile(path, "x")
	require.NoError(t, err)
	require.Equal(t, "bar", cfg.Containers[0].Env["FOO"])
	require.Equal(t, "qux", cfg.Containers[0].Env["BAZ"])
}
