package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagLogsTail int

var logsCmd = &cobra.Command{
	Use:   "logs NAME",
	Short: "Show captured output of a process",
	Long: `Show the tail of a process's captured stdout and stderr. Output is
captured by the supervisor that spawned the child, so it is only available
from that supervisor's lifetime.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
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

	stdout, stderr := sup.Controller.Output(info.ID, flagLogsTail)
	if len(stdout) == 0 && len(stderr) == 0 {
		fmt.Printf("No captured output for %s in this supervisor.\n", args[0])
		return nil
	}

	for _, line := range stdout {
		fmt.Println(line)
	}
	if len(stderr) > 0 {
		fmt.Println("--- stderr ---")
		for _, line := range stderr {
			fmt.Println(line)
		}
	}
	return nil
}

func init() {
	logsCmd.Flags().IntVarP(&flagLogsTail, "tail", "n", 100, "number of lines to show")
}
