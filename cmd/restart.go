package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart NAME",
	Short: "Restart a process",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestart,
}

func runRestart(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	sup, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer sup.Close()

	info, err := sup.Registry.GetByName(ctx, args[0])
	if err != nil {
		return err
	}
	if err := sup.Controller.Restart(ctx, info.ID); err != nil {
		return err
	}

	fmt.Printf("Restarted %s\n", args[0])
	return nil
}
