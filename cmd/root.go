// Package cmd is the command-line surface: a thin dispatcher over the
// registry and controller APIs.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hezky/lab-heartbeat/internal/config"
	hbsignal "github.com/hezky/lab-heartbeat/internal/signal"
	"github.com/hezky/lab-heartbeat/internal/supervisor"
)

var (
	// rootCtx holds the signal-cancellable context for the application.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// flagConfig is the path of the TOML config file.
	flagConfig string

	// Version information set at build time via ldflags.
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "procman",
	Short: "Local process supervisor",
	Long: `procman registers, launches, monitors, and restarts long-running
child programs on a single host. Run 'procman serve' for the supervisor
daemon; the other commands drive the registry and controller directly.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Create a cancellable context with signal handling.
		rootCtx, rootCancel = hbsignal.WithCancel(context.Background())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Clean up the signal handler.
		if rootCancel != nil {
			rootCancel()
		}
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns the root context that is cancelled on SIGINT/SIGTERM.
// This should be used by all subcommands instead of context.Background().
func GetContext() context.Context {
	if rootCtx == nil {
		// Fallback if called before PersistentPreRun (shouldn't happen in normal use)
		return context.Background()
	}
	return rootCtx
}

// openSupervisor loads the config and builds the supervisor context for a
// one-shot command. Callers must Close it.
func openSupervisor(ctx context.Context) (*supervisor.Supervisor, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	sup, err := supervisor.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open supervisor: %w", err)
	}
	return sup, nil
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.toml", "path to the supervisor config file")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(serveCmd)
}
