package controller

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hezky/lab-heartbeat/internal/registry"
)

// defaultPythonInterpreter is used when the config does not name one.
const defaultPythonInterpreter = "python3"

// BuildArgv composes the child argv from the configured command and process
// type. The first element is the program, the rest its arguments; nothing is
// shell-expanded except for shell-command, which runs under sh -c.
func BuildArgv(cfg *registry.ProcessConfig) ([]string, error) {
	switch cfg.Type {
	case registry.TypePython:
		interpreter := cfg.Interpreter
		if interpreter == "" {
			interpreter = defaultPythonInterpreter
		}
		// The child runs with cwd = workdir, which already contains the
		// script, so only the basename is passed.
		return []string{interpreter, "-u", filepath.Base(cfg.Command)}, nil

	case registry.TypeNodeJS:
		return []string{"node", cfg.Command}, nil

	case registry.TypeShell:
		return []string{"sh", "-c", cfg.Command}, nil

	case registry.TypeDocker:
		return append([]string{"docker", "run"}, strings.Fields(cfg.Command)...), nil

	case registry.TypeCustom:
		argv := strings.Fields(cfg.Command)
		if len(argv) == 0 {
			return nil, fmt.Errorf("empty command for process %q", cfg.Name)
		}
		return argv, nil

	default:
		return nil, fmt.Errorf("unknown process type %q", cfg.Type)
	}
}

// buildEnv merges the parent environment with the config env and exports the
// primary port as PORT.
func buildEnv(parent []string, cfg *registry.ProcessConfig) []string {
	env := make([]string, 0, len(parent)+len(cfg.Env)+1)

	overridden := make(map[string]bool, len(cfg.Env)+1)
	for k := range cfg.Env {
		overridden[k] = true
	}
	if cfg.PrimaryPort() != 0 {
		overridden["PORT"] = true
	}

	for _, kv := range parent {
		if idx := strings.IndexByte(kv, '='); idx >= 0 && overridden[kv[:idx]] {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	if port := cfg.PrimaryPort(); port != 0 {
		env = append(env, fmt.Sprintf("PORT=%d", port))
	}

	return env
}
