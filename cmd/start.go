package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hezky/lab-heartbeat/internal/registry"
)

var flagStartAll bool

var startCmd = &cobra.Command{
	Use:   "start [NAME]",
	Short: "Start a registered process",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	if !flagStartAll && len(args) == 0 {
		return fmt.Errorf("a process name or --all is required")
	}

	sup, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer sup.Close()

	if flagStartAll {
		infos, err := sup.Registry.List(ctx, "")
		if err != nil {
			return err
		}
		var failed int
		for _, info := range infos {
			if info.State == registry.StateRunning {
				continue
			}
			if err := sup.Controller.Start(ctx, info.ID); err != nil {
				fmt.Printf("Failed to start %s: %v\n", info.Config.Name, err)
				failed++
				continue
			}
			fmt.Printf("Started %s\n", info.Config.Name)
		}
		if failed > 0 {
			return fmt.Errorf("%d process(es) failed to start", failed)
		}
		return nil
	}

	info, err := sup.Registry.GetByName(ctx, args[0])
	if err != nil {
		return err
	}
	if err := sup.Controller.Start(ctx, info.ID); err != nil {
		return err
	}

	started, err := sup.Registry.Get(ctx, info.ID)
	if err == nil && started.PID != nil {
		fmt.Printf("Started %s with pid %d\n", args[0], *started.PID)
	} else {
		fmt.Printf("Started %s\n", args[0])
	}
	return nil
}

func init() {
	startCmd.Flags().BoolVar(&flagStartAll, "all", false, "start every process that is not running")
}
