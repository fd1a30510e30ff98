package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hezky/lab-heartbeat/internal/registry"
)

func TestBuildArgvPython(t *testing.T) {
	cfg := &registry.ProcessConfig{
		Name:    "app",
		Command: "/srv/app/main.py",
		Type:    registry.TypePython,
		Workdir: "/srv/app",
	}

	argv, err := BuildArgv(cfg)
	require.NoError(t, err)
	// Only the basename is passed; the child runs from workdir.
	assert.Equal(t, []string{"python3", "-u", "main.py"}, argv)

	cfg.Interpreter = "/opt/venv/bin/python"
	argv, err = BuildArgv(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/venv/bin/python", "-u", "main.py"}, argv)
}

func TestBuildArgvNodeJS(t *testing.T) {
	cfg := &registry.ProcessConfig{
		Name:    "web",
		Command: "server.js",
		Type:    registry.TypeNodeJS,
	}

	argv, err := BuildArgv(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"node", "server.js"}, argv)
}

func TestBuildArgvShell(t *testing.T) {
	cfg := &registry.ProcessConfig{
		Name:    "job",
		Command: "echo hello && sleep 1",
		Type:    registry.TypeShell,
	}

	argv, err := BuildArgv(cfg)
	require.NoError(t, err)
	// The command string is handed to the shell verbatim.
	assert.Equal(t, []string{"sh", "-c", "echo hello && sleep 1"}, argv)
}

func TestBuildArgvDocker(t *testing.T) {
	cfg := &registry.ProcessConfig{
		Name:    "svc",
		Command: "-p 8080:80 nginx:latest",
		Type:    registry.TypeDocker,
	}

	argv, err := BuildArgv(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"docker", "run", "-p", "8080:80", "nginx:latest"}, argv)
}

func TestBuildArgvCustom(t *testing.T) {
	cfg := &registry.ProcessConfig{
		Name:    "bin",
		Command: "/usr/local/bin/worker --queue main",
		Type:    registry.TypeCustom,
	}

	argv, err := BuildArgv(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/local/bin/worker", "--queue", "main"}, argv)

	cfg.Command = "   "
	_, err = BuildArgv(cfg)
	assert.Error(t, err, "blank custom command has no argv")
}

func TestBuildEnv(t *testing.T) {
	cfg := &registry.ProcessConfig{
		Name:  "envy",
		Env:   map[string]string{"MODE": "prod", "HOME": "/srv/envy"},
		Ports: []int{9000, 9001},
	}

	env := buildEnv([]string{"PATH=/usr/bin", "HOME=/root", "PORT=1"}, cfg)

	assert.Contains(t, env, "PATH=/usr/bin", "parent env is inherited")
	assert.Contains(t, env, "MODE=prod")
	assert.Contains(t, env, "HOME=/srv/envy", "config env overrides parent")
	assert.NotContains(t, env, "HOME=/root")
	assert.Contains(t, env, "PORT=9000", "primary port is exported")
	assert.NotContains(t, env, "PORT=1")
}

func TestBuildEnvNoPorts(t *testing.T) {
	cfg := &registry.ProcessConfig{Name: "plain"}

	env := buildEnv([]string{"PATH=/usr/bin"}, cfg)
	require.Equal(t, []string{"PATH=/usr/bin"}, env)
}
