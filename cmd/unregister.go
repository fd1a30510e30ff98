package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unregisterCmd = &cobra.Command{
	Use:   "unregister NAME",
	Short: "Remove a process from the registry",
	Long: `Remove a process record. The process must be stopped first; records
that are neither registered-only nor in a terminal state are refused.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnregister,
}

func runUnregister(cmd *cobra.Command, args []string) error {
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

	deleted, err := sup.Registry.Unregister(ctx, info.ID)
	if err != nil {
		return fmt.Errorf("failed to unregister process: %w", err)
	}
	if !deleted {
		return fmt.Errorf("process %s not found", args[0])
	}

	fmt.Printf("Unregistered %s\n", args[0])
	return nil
}
