package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hezky/lab-heartbeat/internal/registry"
)

var flagListState string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered processes",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	sup, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer sup.Close()

	infos, err := sup.Registry.List(ctx, registry.ProcessState(flagListState))
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No processes registered.")
		return nil
	}

	fmt.Printf("%-20s %-12s %-18s %-10s %s\n", "NAME", "STATE", "TYPE", "PORT", "COMMAND")
	for _, info := range infos {
		port := "-"
		if p := info.Config.PrimaryPort(); p != 0 {
			port = fmt.Sprintf("%d", p)
		}
		fmt.Printf("%-20s %-12s %-18s %-10s %s\n",
			info.Config.Name, string(info.State), string(info.Config.Type), port, info.Config.Command)
	}
	return nil
}

func init() {
	listCmd.Flags().StringVar(&flagListState, "state", "", "filter by state")
}
