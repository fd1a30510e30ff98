// Package monitor runs the system-wide observation loop: OS-level liveness
// checks by pid, resource metrics collection, and HTTP health probes. It
// never controls children; it only observes and demotes records whose
// process is gone.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/hezky/lab-heartbeat/internal/logging"
	"github.com/hezky/lab-heartbeat/internal/registry"
)

// ProcessMetrics is a point-in-time resource snapshot of one child.
type ProcessMetrics struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	MemoryPercent  float64 `json:"memory_percent"`
	NumThreads     int     `json:"num_threads"`
	NumConnections int     `json:"num_connections"`
	IOReadBytes    uint64  `json:"io_read_bytes"`
	IOWriteBytes   uint64  `json:"io_write_bytes"`
	UptimeSeconds  int     `json:"uptime_seconds"`
}

// HealthResult is the outcome of one HTTP health probe. Probe failures are
// not supervisor errors and never change process state.
type HealthResult struct {
	IsHealthy      bool    `json:"is_healthy"`
	ResponseTimeMS float64 `json:"response_time_ms,omitempty"`
	StatusCode     int     `json:"status_code,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// HealthCallback receives failed probe results for a process.
type HealthCallback func(info *registry.ProcessInfo, result HealthResult)

// metricsTTL bounds how long cached metrics outlive the process they
// describe.
const metricsTTL = 5 * time.Minute

// Monitor is the single global observation loop.
type Monitor struct {
	registry     *registry.Registry
	interval     time.Duration
	probeTimeout time.Duration
	staleTimeout time.Duration

	httpClient *http.Client
	metrics    *gocache.Cache

	cbMu      sync.Mutex
	callbacks map[string]HealthCallback

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// Option tweaks monitor timing.
type Option func(*Monitor)

// WithInterval overrides the tick cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithProbeTimeout overrides the health probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.probeTimeout = d
		m.httpClient = &http.Client{Timeout: d}
	}
}

// WithStaleTimeout overrides the heartbeat staleness threshold passed to the
// registry's cleanup pass.
func WithStaleTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.staleTimeout = d }
}

// New creates a monitor reading and demoting through the given registry.
func New(reg *registry.Registry, opts ...Option) *Monitor {
	m := &Monitor{
		registry:     reg,
		interval:     10 * time.Second,
		probeTimeout: 5 * time.Second,
		staleTimeout: 180 * time.Second,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		metrics:      gocache.New(metricsTTL, 2*metricsTTL),
		callbacks:    make(map[string]HealthCallback),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the monitoring loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})

	go m.loop()
	logging.Info("process monitor started", "interval", m.interval.String())
	return nil
}

// Stop terminates the loop and waits for it to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	<-m.stoppedCh
	logging.Info("process monitor stopped")
}

func (m *Monitor) loop() {
	defer close(m.stoppedCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.CheckNow(context.Background())

		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// CheckNow runs one monitoring pass synchronously: liveness and metrics for
// every running record, health probes where configured, then the stale
// heartbeat cleanup. A failing pass is logged and does not halt supervision.
func (m *Monitor) CheckNow(ctx context.Context) {
	infos, err := m.registry.List(ctx, "")
	if err != nil {
		logging.Error("monitor failed to list processes", "error", err)
		return
	}

	for _, info := range infos {
		switch info.State {
		case registry.StateRunning:
			m.checkProcess(ctx, info)
		case registry.StateStopping, registry.StateStopped:
			// In-flight terminations must not be overwritten.
			continue
		}
	}

	if _, err := m.registry.CleanupStale(ctx, m.staleTimeout); err != nil {
		logging.Error("monitor failed to cleanup stale processes", "error", err)
	}
}

// checkProcess verifies one running record against the OS and probes its
// health endpoint.
func (m *Monitor) checkProcess(ctx context.Context, info *registry.ProcessInfo) {
	if info.PID != nil {
		if !pidAlive(int32(*info.PID)) {
			// Re-read: the record may have entered STOPPING between the
			// list and this check.
			current, err := m.registry.Get(ctx, info.ID)
			if err != nil {
				logging.Warn("monitor failed to re-read process", "id", info.ID, "error", err)
				return
			}
			if current.State == registry.StateRunning {
				logging.Warn("process disappeared", "id", info.ID, "pid", *info.PID)
				if err := m.registry.UpdateState(ctx, info.ID, registry.StateCrashed, nil, "process not found"); err != nil {
					logging.Warn("monitor failed to mark process crashed", "id", info.ID, "error", err)
				}
			}
			return
		}

		if metrics := collectMetrics(int32(*info.PID), info.StartedAt); metrics != nil {
			m.metrics.Set(info.ID, *metrics, gocache.DefaultExpiration)
		}
	}

	if info.Config.HealthCheckEndpoint != "" && info.Config.PrimaryPort() != 0 {
		result := m.probe(info.Config.PrimaryPort(), info.Config.HealthCheckEndpoint)
		if !result.IsHealthy {
			logging.Warn("health check failed",
				"id", info.ID, "name", info.Config.Name,
				"status", result.StatusCode, "error", result.Error)
			m.cbMu.Lock()
			cb := m.callbacks[info.ID]
			m.cbMu.Unlock()
			if cb != nil {
				cb(info, result)
			}
		}
	}
}

// probe issues one HTTP GET against the process's health endpoint. Any
// transport error or non-2xx status is unhealthy.
func (m *Monitor) probe(port int, endpoint string) HealthResult {
	url := fmt.Sprintf("http://localhost:%d%s", port, endpoint)

	start := time.Now()
	resp, err := m.httpClient.Get(url)
	if err != nil {
		return HealthResult{IsHealthy: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	return HealthResult{
		IsHealthy:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		ResponseTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		StatusCode:     resp.StatusCode,
	}
}

// Metrics returns the latest cached metrics for a process.
func (m *Monitor) Metrics(id string) (ProcessMetrics, bool) {
	v, ok := m.metrics.Get(id)
	if !ok {
		return ProcessMetrics{}, false
	}
	return v.(ProcessMetrics), true
}

// AllMetrics returns a copy of every cached metrics entry keyed by id.
func (m *Monitor) AllMetrics() map[string]ProcessMetrics {
	items := m.metrics.Items()
	out := make(map[string]ProcessMetrics, len(items))
	for id, item := range items {
		out[id] = item.Object.(ProcessMetrics)
	}
	return out
}

// RegisterHealthCallback installs a callback invoked on failed probes for
// the process.
func (m *Monitor) RegisterHealthCallback(id string, cb HealthCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks[id] = cb
}

// UnregisterHealthCallback removes the callback for the process.
func (m *Monitor) UnregisterHealthCallback(id string) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	delete(m.callbacks, id)
}
