package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessType selects how a configured command is turned into an argv.
type ProcessType string

const (
	TypePython ProcessType = "python-script"
	TypeNodeJS ProcessType = "nodejs-script"
	TypeShell  ProcessType = "shell-command"
	TypeDocker ProcessType = "docker-invocation"
	TypeCustom ProcessType = "custom"
)

// Valid reports whether t is one of the known process types.
func (t ProcessType) Valid() bool {
	switch t {
	case TypePython, TypeNodeJS, TypeShell, TypeDocker, TypeCustom:
		return true
	}
	return false
}

// ProcessState is the lifecycle state of a registered process.
type ProcessState string

const (
	StateRegistered ProcessState = "registered"
	StateStarting   ProcessState = "starting"
	StateRunning    ProcessState = "running"
	StateStopping   ProcessState = "stopping"
	StateStopped    ProcessState = "stopped"
	StateFailed     ProcessState = "failed"
	StateCrashed    ProcessState = "crashed"
)

// Terminal reports whether s is a terminal non-running state.
func (s ProcessState) Terminal() bool {
	switch s {
	case StateStopped, StateFailed, StateCrashed:
		return true
	}
	return false
}

// legalTransitions encodes the state machine. A transition from -> to is
// permitted iff to is listed under from.
var legalTransitions = map[ProcessState][]ProcessState{
	StateRegistered: {StateStarting},
	StateStarting:   {StateRunning, StateFailed},
	StateRunning:    {StateStopping, StateStopped, StateFailed, StateCrashed},
	StateStopping:   {StateStopped},
	StateStopped:    {StateStarting},
	StateFailed:     {StateStarting},
	StateCrashed:    {StateStarting},
}

// CanTransition reports whether moving from -> to is a legal state change.
func CanTransition(from, to ProcessState) bool {
	if from == to {
		// Idempotent re-application of the same transition.
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RestartPolicy controls whether the supervision loop restarts an exited child.
type RestartPolicy string

const (
	RestartNever         RestartPolicy = "never"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// Valid reports whether p is a known restart policy.
func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartNever, RestartOnFailure, RestartAlways, RestartUnlessStopped:
		return true
	}
	return false
}

// ProcessConfig is the user-declared intent for a managed process. It is
// immutable after registration and stored as JSON in the registry.
type ProcessConfig struct {
	Name                string            `json:"name"`
	Command             string            `json:"command"`
	Type                ProcessType       `json:"type"`
	Workdir             string            `json:"workdir"`
	Env                 map[string]string `json:"env,omitempty"`
	Ports               []int             `json:"ports,omitempty"`
	RestartPolicy       RestartPolicy     `json:"restart_policy"`
	MaxRetries          int               `json:"max_retries"`
	HealthCheckEndpoint string            `json:"health_check_endpoint,omitempty"`
	// Interpreter overrides the python interpreter used for python-script
	// processes. Empty means the system default.
	Interpreter  string   `json:"interpreter,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// PrimaryPort returns the first configured port, or 0 if none.
func (c *ProcessConfig) PrimaryPort() int {
	if len(c.Ports) == 0 {
		return 0
	}
	return c.Ports[0]
}

// Validate checks the config fields that the registry refuses to store.
func (c *ProcessConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("process name is required")
	}
	if c.Command == "" {
		return fmt.Errorf("process command is required")
	}
	if !c.Type.Valid() {
		return fmt.Errorf("unknown process type %q", c.Type)
	}
	if c.RestartPolicy == "" {
		c.RestartPolicy = RestartOnFailure
	}
	if !c.RestartPolicy.Valid() {
		return fmt.Errorf("unknown restart policy %q", c.RestartPolicy)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	return nil
}

// MarshalJSONConfig serializes a config the way it is persisted in the store.
func MarshalJSONConfig(c *ProcessConfig) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// UnmarshalJSONConfig parses a persisted config JSON document.
func UnmarshalJSONConfig(data string) (*ProcessConfig, error) {
	var c ProcessConfig
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &c, nil
}

// ProcessInfo is the mutable runtime record for a registered process.
type ProcessInfo struct {
	ID            string
	Config        *ProcessConfig
	State         ProcessState
	PID           *int
	StartedAt     *time.Time
	StoppedAt     *time.Time
	RestartCount  int
	LastHeartbeat *time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
