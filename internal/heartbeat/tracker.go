// Package heartbeat tracks liveness pings pushed by children and ages out
// processes that have gone silent. It never controls children; a stale
// heartbeat only demotes the record to crashed.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hezky/lab-heartbeat/internal/logging"
	"github.com/hezky/lab-heartbeat/internal/registry"
)

// ProcessStatus is the per-record heartbeat view returned by Status.
type ProcessStatus struct {
	Name                  string     `json:"name"`
	State                 string     `json:"state"`
	LastHeartbeat         *time.Time `json:"last_heartbeat,omitempty"`
	SecondsSinceHeartbeat *float64   `json:"seconds_since_heartbeat,omitempty"`
	IsHealthy             bool       `json:"is_healthy"`
}

// Tracker is the single global heartbeat loop.
type Tracker struct {
	registry       *registry.Registry
	checkInterval  time.Duration
	warnThreshold  time.Duration
	crashThreshold time.Duration
	nowFunc        func() time.Time // For testing; defaults to time.Now

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// Option tweaks tracker timing.
type Option func(*Tracker)

// WithCheckInterval overrides the reaper cadence.
func WithCheckInterval(d time.Duration) Option {
	return func(t *Tracker) { t.checkInterval = d }
}

// WithThresholds overrides the warning and crash heartbeat ages.
func WithThresholds(warn, crash time.Duration) Option {
	return func(t *Tracker) {
		t.warnThreshold = warn
		t.crashThreshold = crash
	}
}

// New creates a tracker reading and demoting through the given registry.
func New(reg *registry.Registry, opts ...Option) *Tracker {
	t := &Tracker{
		registry:       reg,
		checkInterval:  5 * time.Second,
		warnThreshold:  30 * time.Second,
		crashThreshold: 60 * time.Second,
		nowFunc:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetNowFunc sets the time source used for heartbeat age computation.
// This is primarily for testing purposes.
func (t *Tracker) SetNowFunc(f func() time.Time) {
	t.nowFunc = f
}

// Start launches the reaper loop.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("heartbeat tracker already running")
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.stoppedCh = make(chan struct{})

	go t.loop()
	logging.Info("heartbeat tracker started", "interval", t.checkInterval.String())
	return nil
}

// Stop terminates the loop and waits for it to finish.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	<-t.stoppedCh
	logging.Info("heartbeat tracker stopped")
}

func (t *Tracker) loop() {
	defer close(t.stoppedCh)

	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.CheckNow(context.Background())
		}
	}
}

// RegisterHeartbeat records a liveness ping from a child. Unknown ids are
// rejected. A heartbeat from a starting process is taken as proof that it
// finished its own startup and promotes it to running.
func (t *Tracker) RegisterHeartbeat(ctx context.Context, id string) error {
	info, err := t.registry.Get(ctx, id)
	if err != nil {
		logging.Warn("heartbeat from unknown process", "id", id)
		return err
	}

	if err := t.registry.UpdateHeartbeat(ctx, id); err != nil {
		return err
	}

	if info.State == registry.StateStarting {
		if err := t.registry.UpdateState(ctx, id, registry.StateRunning, nil, ""); err != nil {
			logging.Warn("failed to promote starting process", "id", id, "error", err)
		}
	}

	return nil
}

// CheckNow runs one reaper pass synchronously. A failing pass is logged and
// does not halt the loop.
func (t *Tracker) CheckNow(ctx context.Context) {
	infos, err := t.registry.List(ctx, registry.StateRunning)
	if err != nil {
		logging.Error("heartbeat tracker failed to list processes", "error", err)
		return
	}

	now := t.nowFunc()
	for _, info := range infos {
		if info.LastHeartbeat == nil {
			continue
		}
		age := now.Sub(*info.LastHeartbeat)

		switch {
		case age > t.crashThreshold:
			logging.Error("heartbeat timeout, marking crashed",
				"id", info.ID, "name", info.Config.Name, "age", age.String())
			errMsg := fmt.Sprintf("heartbeat timeout after %.0f seconds", age.Seconds())
			if err := t.registry.UpdateState(ctx, info.ID, registry.StateCrashed, nil, errMsg); err != nil {
				logging.Warn("failed to mark process crashed", "id", info.ID, "error", err)
			}

		case age > t.warnThreshold:
			logging.Warn("heartbeat delayed",
				"id", info.ID, "name", info.Config.Name, "age", age.String())
		}
	}
}

// Status returns the heartbeat view of every record, keyed by id.
func (t *Tracker) Status(ctx context.Context) (map[string]ProcessStatus, error) {
	infos, err := t.registry.List(ctx, "")
	if err != nil {
		return nil, err
	}

	now := t.nowFunc()
	status := make(map[string]ProcessStatus, len(infos))
	for _, info := range infos {
		s := ProcessStatus{
			Name:  info.Config.Name,
			State: string(info.State),
		}
		if info.LastHeartbeat != nil {
			age := now.Sub(*info.LastHeartbeat).Seconds()
			s.LastHeartbeat = info.LastHeartbeat
			s.SecondsSinceHeartbeat = &age
			s.IsHealthy = info.State == registry.StateRunning && age < t.warnThreshold.Seconds()
		}
		status[info.ID] = s
	}
	return status, nil
}

// IsHealthy reports whether a process is running and heartbeating within
// the warning threshold.
func (t *Tracker) IsHealthy(ctx context.Context, id string) bool {
	info, err := t.registry.Get(ctx, id)
	if err != nil {
		return false
	}
	if info.State != registry.StateRunning || info.LastHeartbeat == nil {
		return false
	}
	return t.nowFunc().Sub(*info.LastHeartbeat) < t.warnThreshold
}
