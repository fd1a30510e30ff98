package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hezky/lab-heartbeat/internal/registry"
)

var (
	flagStopAll   bool
	flagStopForce bool
)

var stopCmd = &cobra.Command{
	Use:   "stop [NAME]",
	Short: "Stop a running process",
	Long: `Stop a running process. Without --force the child gets a graceful
termination signal and ten seconds before the kill escalation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	if !flagStopAll && len(args) == 0 {
		return fmt.Errorf("a process name or --all is required")
	}

	sup, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer sup.Close()

	if flagStopAll {
		infos, err := sup.Registry.List(ctx, registry.StateRunning)
		if err != nil {
			return err
		}
		var failed int
		for _, info := range infos {
			if err := sup.Controller.Stop(ctx, info.ID, flagStopForce); err != nil {
				fmt.Printf("Failed to stop %s: %v\n", info.Config.Name, err)
				failed++
				continue
			}
			fmt.Printf("Stopped %s\n", info.Config.Name)
		}
		if failed > 0 {
			return fmt.Errorf("%d process(es) failed to stop", failed)
		}
		return nil
	}

	info, err := sup.Registry.GetByName(ctx, args[0])
	if err != nil {
		return err
	}
	if err := sup.Controller.Stop(ctx, info.ID, flagStopForce); err != nil {
		return err
	}

	fmt.Printf("Stopped %s\n", args[0])
	return nil
}

func init() {
	stopCmd.Flags().BoolVar(&flagStopAll, "all", false, "stop every running process")
	stopCmd.Flags().BoolVarP(&flagStopForce, "force", "f", false, "kill immediately instead of terminating gracefully")
}
