package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor daemon",
	Long: `Run the supervisor daemon: the monitor and heartbeat loops, and the
HTTP ingress children push heartbeats to. Stops on SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	sup, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer sup.Close()

	if err := sup.StartLoops(); err != nil {
		return err
	}

	fmt.Printf("Supervisor running (instance %s), listening on %s\n",
		sup.InstanceID, sup.Config.Supervisor.GetListenAddr())

	if err := sup.Run(ctx); err != nil {
		return err
	}

	fmt.Println("\nSupervisor stopped.")
	return nil
}
