package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [NAME]",
	Short: "Show process status",
	Long: `Show the status of registered processes.

With a name: show the full record plus a live health check.
Without: show a one-line summary per process.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	sup, err := openSupervisor(ctx)
	if err != nil {
		return err
	}
	defer sup.Close()

	if len(args) > 0 {
		info, err := sup.Registry.GetByName(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Name:           %s\n", info.Config.Name)
		fmt.Printf("ID:             %s\n", info.ID)
		fmt.Printf("State:          %s\n", info.State)
		if info.PID != nil {
			fmt.Printf("PID:            %d\n", *info.PID)
		}
		fmt.Printf("Type:           %s\n", info.Config.Type)
		fmt.Printf("Command:        %s\n", info.Config.Command)
		fmt.Printf("Restart policy: %s (max %d retries, %d used)\n",
			info.Config.RestartPolicy, info.Config.MaxRetries, info.RestartCount)
		if info.StartedAt != nil {
			fmt.Printf("Started:        %s\n", info.StartedAt.Local().Format(time.RFC3339))
		}
		if info.StoppedAt != nil {
			fmt.Printf("Stopped:        %s\n", info.StoppedAt.Local().Format(time.RFC3339))
		}
		if info.LastHeartbeat != nil {
			fmt.Printf("Last heartbeat: %s (%.0fs ago)\n",
				info.LastHeartbeat.Local().Format(time.RFC3339),
				time.Since(*info.LastHeartbeat).Seconds())
		}
		if info.ErrorMessage != "" {
			fmt.Printf("Last error:     %s\n", info.ErrorMessage)
		}

		snap, err := sup.Monitor.CheckHealth(ctx, info.ID)
		if err == nil && snap.Metrics != nil {
			m := snap.Metrics
			fmt.Printf("CPU:            %.1f%%\n", m.CPUPercent)
			fmt.Printf("Memory:         %.1f MB (%.1f%%)\n", m.MemoryMB, m.MemoryPercent)
			fmt.Printf("Threads:        %d\n", m.NumThreads)
			fmt.Printf("Connections:    %d\n", m.NumConnections)
			fmt.Printf("Uptime:         %ds\n", m.UptimeSeconds)
		}
		if err == nil && snap.HealthCheck != nil {
			if snap.HealthCheck.IsHealthy {
				fmt.Printf("Health check:   ok (%.1f ms)\n", snap.HealthCheck.ResponseTimeMS)
			} else {
				fmt.Printf("Health check:   failing (%s)\n", snap.HealthCheck.Error)
			}
		}
		return nil
	}

	status, err := sup.Tracker.Status(ctx)
	if err != nil {
		return err
	}
	infos, err := sup.Registry.List(ctx, "")
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		fmt.Println("No processes registered.")
		return nil
	}

	fmt.Printf("%-20s %-12s %-8s %-10s %s\n", "NAME", "STATE", "PID", "RESTARTS", "HEARTBEAT")
	for _, info := range infos {
		pid := "-"
		if info.PID != nil {
			pid = fmt.Sprintf("%d", *info.PID)
		}
		hb := "never"
		if s, ok := status[info.ID]; ok && s.SecondsSinceHeartbeat != nil {
			healthy := "stale"
			if s.IsHealthy {
				healthy = "ok"
			}
			hb = fmt.Sprintf("%.0fs ago (%s)", *s.SecondsSinceHeartbeat, healthy)
		}
		fmt.Printf("%-20s %-12s %-8s %-10d %s\n",
			info.Config.Name, string(info.State), pid, info.RestartCount, hb)
	}
	return nil
}
