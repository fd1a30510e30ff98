// Package config loads the supervisor configuration from a TOML file and
// carries the defaults used when no file is present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultDataDir is where the store and log file live when not configured
// otherwise. Captured child output is held in memory, not written here.
const DefaultDataDir = "process_manager/data"

// DBFileName is the name of the registry store inside the data directory.
const DBFileName = "process_manager.db"

// Config is the supervisor configuration stored in config.toml.
type Config struct {
	Supervisor SupervisorConfig `toml:"supervisor"`
	Controller ControllerConfig `toml:"controller"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Heartbeat  HeartbeatConfig  `toml:"heartbeat"`
}

// SupervisorConfig contains paths and the API binding.
type SupervisorConfig struct {
	// DataDir holds the registry store and logs.
	// Defaults to "process_manager/data".
	DataDir string `toml:"data_dir"`

	// ListenAddr is the bind address of the heartbeat/status API.
	// Defaults to ":8080".
	ListenAddr string `toml:"listen_addr"`
}

// GetDataDir returns the configured data directory or the default.
func (s *SupervisorConfig) GetDataDir() string {
	if s.DataDir == "" {
		return DefaultDataDir
	}
	return s.DataDir
}

// DBPath returns the path of the registry store.
func (s *SupervisorConfig) DBPath() string {
	return filepath.Join(s.GetDataDir(), DBFileName)
}

// GetListenAddr returns the API bind address or the default.
func (s *SupervisorConfig) GetListenAddr() string {
	if s.ListenAddr == "" {
		return ":8080"
	}
	return s.ListenAddr
}

// ControllerConfig contains child lifecycle timing.
type ControllerConfig struct {
	// GracefulTimeoutSeconds is how long a graceful stop waits before
	// escalating to a kill. Defaults to 10 seconds.
	GracefulTimeoutSeconds *int `toml:"graceful_timeout_seconds"`

	// PollSeconds is the supervision loop poll cadence. Defaults to 2.
	PollSeconds *int `toml:"poll_seconds"`

	// RestartBackoffSeconds is the restart backoff schedule; attempts past
	// the end reuse the last entry. Defaults to [1,2,4,8,16,30,60].
	RestartBackoffSeconds []int `toml:"restart_backoff_seconds"`
}

// GracefulTimeout returns the graceful stop timeout.
func (c *ControllerConfig) GracefulTimeout() time.Duration {
	if c.GracefulTimeoutSeconds != nil && *c.GracefulTimeoutSeconds > 0 {
		return time.Duration(*c.GracefulTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// PollInterval returns the supervision loop poll cadence.
func (c *ControllerConfig) PollInterval() time.Duration {
	if c.PollSeconds != nil && *c.PollSeconds > 0 {
		return time.Duration(*c.PollSeconds) * time.Second
	}
	return 2 * time.Second
}

// RestartBackoff returns the backoff schedule.
func (c *ControllerConfig) RestartBackoff() []time.Duration {
	seconds := c.RestartBackoffSeconds
	if len(seconds) == 0 {
		seconds = []int{1, 2, 4, 8, 16, 30, 60}
	}
	backoff := make([]time.Duration, len(seconds))
	for i, s := range seconds {
		backoff[i] = time.Duration(s) * time.Second
	}
	return backoff
}

// MonitorConfig contains the monitor loop timing.
type MonitorConfig struct {
	// CheckIntervalSeconds is the monitor cadence. Defaults to 10.
	CheckIntervalSeconds *int `toml:"check_interval_seconds"`

	// HealthCheckTimeoutSeconds bounds each HTTP probe. Defaults to 5.
	HealthCheckTimeoutSeconds *int `toml:"health_check_timeout_seconds"`

	// StaleTimeoutSeconds is the heartbeat age beyond which the monitor's
	// cleanup pass marks a running process crashed. Defaults to 180.
	StaleTimeoutSeconds *int `toml:"stale_timeout_seconds"`
}

// CheckInterval returns the monitor cadence.
func (m *MonitorConfig) CheckInterval() time.Duration {
	if m.CheckIntervalSeconds != nil && *m.CheckIntervalSeconds > 0 {
		return time.Duration(*m.CheckIntervalSeconds) * time.Second
	}
	return 10 * time.Second
}

// HealthCheckTimeout returns the probe timeout.
func (m *MonitorConfig) HealthCheckTimeout() time.Duration {
	if m.HealthCheckTimeoutSeconds != nil && *m.HealthCheckTimeoutSeconds > 0 {
		return time.Duration(*m.HealthCheckTimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}

// StaleTimeout returns the cleanup staleness threshold.
func (m *MonitorConfig) StaleTimeout() time.Duration {
	if m.StaleTimeoutSeconds != nil && *m.StaleTimeoutSeconds > 0 {
		return time.Duration(*m.StaleTimeoutSeconds) * time.Second
	}
	return 180 * time.Second
}

// HeartbeatConfig contains the heartbeat reaper timing.
type HeartbeatConfig struct {
	// CheckIntervalSeconds is the reaper cadence. Defaults to 5.
	CheckIntervalSeconds *int `toml:"check_interval_seconds"`

	// WarnThresholdSeconds is the heartbeat age that triggers a warning.
	// Defaults to 30.
	WarnThresholdSeconds *int `toml:"warn_threshold_seconds"`

	// CrashThresholdSeconds is the heartbeat age beyond which a running
	// process is marked crashed. Defaults to 60.
	CrashThresholdSeconds *int `toml:"crash_threshold_seconds"`
}

// CheckInterval returns the reaper cadence.
func (h *HeartbeatConfig) CheckInterval() time.Duration {
	if h.CheckIntervalSeconds != nil && *h.CheckIntervalSeconds > 0 {
		return time.Duration(*h.CheckIntervalSeconds) * time.Second
	}
	return 5 * time.Second
}

// WarnThreshold returns the warning threshold.
func (h *HeartbeatConfig) WarnThreshold() time.Duration {
	if h.WarnThresholdSeconds != nil && *h.WarnThresholdSeconds > 0 {
		return time.Duration(*h.WarnThresholdSeconds) * time.Second
	}
	return 30 * time.Second
}

// CrashThreshold returns the crash threshold.
func (h *HeartbeatConfig) CrashThreshold() time.Duration {
	if h.CrashThresholdSeconds != nil && *h.CrashThresholdSeconds > 0 {
		return time.Duration(*h.CrashThresholdSeconds) * time.Second
	}
	return 60 * time.Second
}

// Load reads and parses a config.toml file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to the specified path.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
