package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hezky/lab-heartbeat/internal/registry"
)

var (
	flagRegCommand        string
	flagRegType           string
	flagRegWorkdir        string
	flagRegEnv            []string
	flagRegPorts          []int
	flagRegRestartPolicy  string
	flagRegMaxRetries     int
	flagRegHealthEndpoint string
	flagRegInterpreter    string
	flagRegDependencies   []string
)

var registerCmd = &cobra.Command{
	Use:   "register NAME",
	Short: "Register a new process",
	Long: `Register a process configuration in the registry. The process is not
started; use 'procman start NAME' afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	env := make(map[string]string, len(flagRegEnv))
	for _, kv := range flagRegEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid env entry %q, expected KEY=value", kv)
		}
		env[k] = v
	}

	cfg := &registry.ProcessConfig{
		Name:                args[0],
		Command:             flagRegCommand,
		Type:                registry.ProcessType(flagRegType),
		Workdir:             flagRegWorkdir,
		Env:                 env,
		Ports:               flagRegPorts,
		RestartPolicy:       registry.RestartPolicy(flagRegRestartPolicy),
		MaxRetries:          flagRegMaxRetries,
		HealthCheckEndpoint: flagRegHealthEndpoint,
		Interpreter:         flagRegInterpreter,
		Dependencies:        flagRegDependencies,
	}

	sup, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer sup.Close()

	id, err := sup.Registry.Register(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to register process: %w", err)
	}

	fmt.Printf("Registered %s with id %s\n", cfg.Name, id)
	return nil
}

func init() {
	registerCmd.Flags().StringVarP(&flagRegCommand, "command", "c", "", "command to run (required)")
	registerCmd.Flags().StringVarP(&flagRegType, "type", "t", string(registry.TypeShell), "process type: python-script, nodejs-script, shell-command, docker-invocation, custom")
	registerCmd.Flags().StringVarP(&flagRegWorkdir, "workdir", "w", ".", "working directory for the child")
	registerCmd.Flags().StringArrayVarP(&flagRegEnv, "env", "e", nil, "environment variable KEY=value (repeatable)")
	registerCmd.Flags().IntSliceVarP(&flagRegPorts, "port", "p", nil, "TCP port (repeatable; first is primary)")
	registerCmd.Flags().StringVar(&flagRegRestartPolicy, "restart-policy", string(registry.RestartOnFailure), "restart policy: never, on-failure, always, unless-stopped")
	registerCmd.Flags().IntVar(&flagRegMaxRetries, "max-retries", 3, "maximum restart attempts")
	registerCmd.Flags().StringVar(&flagRegHealthEndpoint, "health-endpoint", "", "HTTP health check path, e.g. /health")
	registerCmd.Flags().StringVar(&flagRegInterpreter, "interpreter", "", "python interpreter for python-script processes")
	registerCmd.Flags().StringArrayVar(&flagRegDependencies, "depends-on", nil, "process this one depends on (repeatable)")
	_ = registerCmd.MarkFlagRequired("command")
}
