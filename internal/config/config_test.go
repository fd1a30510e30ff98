package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir, cfg.Supervisor.GetDataDir())
	assert.Equal(t, filepath.Join(DefaultDataDir, DBFileName), cfg.Supervisor.DBPath())
	assert.Equal(t, ":8080", cfg.Supervisor.GetListenAddr())

	assert.Equal(t, 10*time.Second, cfg.Controller.GracefulTimeout())
	assert.Equal(t, 2*time.Second, cfg.Controller.PollInterval())
	backoff := cfg.Controller.RestartBackoff()
	require.Len(t, backoff, 7)
	assert.Equal(t, time.Second, backoff[0])
	assert.Equal(t, time.Minute, backoff[6])

	assert.Equal(t, 10*time.Second, cfg.Monitor.CheckInterval())
	assert.Equal(t, 5*time.Second, cfg.Monitor.HealthCheckTimeout())
	assert.Equal(t, 180*time.Second, cfg.Monitor.StaleTimeout())

	assert.Equal(t, 5*time.Second, cfg.Heartbeat.CheckInterval())
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.WarnThreshold())
	assert.Equal(t, 60*time.Second, cfg.Heartbeat.CrashThreshold())
}

func TestLoadParsesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[supervisor]
data_dir = "/var/lib/procman"
listen_addr = "127.0.0.1:9090"

[controller]
graceful_timeout_seconds = 5
poll_seconds = 1
restart_backoff_seconds = [1, 5, 25]

[monitor]
check_interval_seconds = 30

[heartbeat]
warn_threshold_seconds = 20
crash_threshold_seconds = 40
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/procman", cfg.Supervisor.GetDataDir())
	assert.Equal(t, "127.0.0.1:9090", cfg.Supervisor.GetListenAddr())
	assert.Equal(t, 5*time.Second, cfg.Controller.GracefulTimeout())
	assert.Equal(t, time.Second, cfg.Controller.PollInterval())
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 25 * time.Second},
		cfg.Controller.RestartBackoff())
	assert.Equal(t, 30*time.Second, cfg.Monitor.CheckInterval())
	assert.Equal(t, 20*time.Second, cfg.Heartbeat.WarnThreshold())
	assert.Equal(t, 40*time.Second, cfg.Heartbeat.CrashThreshold())
}

func TestLoadRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[supervisor\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	seconds := 42
	orig := &Config{}
	orig.Supervisor.DataDir = "/data"
	orig.Controller.GracefulTimeoutSeconds = &seconds
	orig.Controller.RestartBackoffSeconds = []int{2, 4}

	require.NoError(t, orig.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", loaded.Supervisor.GetDataDir())
	assert.Equal(t, 42*time.Second, loaded.Controller.GracefulTimeout())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second},
		loaded.Controller.RestartBackoff())
}
