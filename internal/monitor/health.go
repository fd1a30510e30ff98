package monitor

import (
	"context"

	"github.com/hezky/lab-heartbeat/internal/registry"
)

// HealthSnapshot is an on-demand health view of one process, combining the
// registry record, freshly collected metrics and a fresh probe.
type HealthSnapshot struct {
	ID          string          `json:"process_id"`
	Name        string          `json:"name"`
	State       string          `json:"state"`
	PID         *int            `json:"pid,omitempty"`
	Metrics     *ProcessMetrics `json:"metrics,omitempty"`
	HealthCheck *HealthResult   `json:"health_check,omitempty"`
}

// CheckHealth inspects one process right now, outside the periodic loop.
func (m *Monitor) CheckHealth(ctx context.Context, id string) (*HealthSnapshot, error) {
	info, err := m.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := &HealthSnapshot{
		ID:    info.ID,
		Name:  info.Config.Name,
		State: string(info.State),
		PID:   info.PID,
	}

	if info.PID == nil || info.State != registry.StateRunning {
		return snap, nil
	}

	if !pidAlive(int32(*info.PID)) {
		snap.State = string(registry.StateCrashed)
		return snap, nil
	}

	if metrics := collectMetrics(int32(*info.PID), info.StartedAt); metrics != nil {
		snap.Metrics = metrics
	}

	if info.Config.HealthCheckEndpoint != "" && info.Config.PrimaryPort() != 0 {
		result := m.probe(info.Config.PrimaryPort(), info.Config.HealthCheckEndpoint)
		snap.HealthCheck = &result
	}

	return snap, nil
}
