package monitor

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// pidAlive reports whether a process with the pid exists and is not a
// zombie.
func pidAlive(pid int32) bool {
	p, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	statuses, err := p.Status()
	if err != nil {
		// Status can be unreadable for processes we don't own; the pid
		// lookup above already succeeded.
		return true
	}
	for _, s := range statuses {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// collectMetrics gathers the resource snapshot for a pid, or nil if the
// process vanished mid-collection. Fields that need elevated permissions are
// left at zero.
func collectMetrics(pid int32, startedAt *time.Time) *ProcessMetrics {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}

	metrics := &ProcessMetrics{}

	if cpu, err := p.CPUPercent(); err == nil {
		metrics.CPUPercent = cpu
	}
	if memInfo, err := p.MemoryInfo(); err == nil {
		metrics.MemoryMB = float64(memInfo.RSS) / (1024 * 1024)
	}
	if memPct, err := p.MemoryPercent(); err == nil {
		metrics.MemoryPercent = float64(memPct)
	}
	if threads, err := p.NumThreads(); err == nil {
		metrics.NumThreads = int(threads)
	}
	if conns, err := p.Connections(); err == nil {
		metrics.NumConnections = len(conns)
	}
	if io, err := p.IOCounters(); err == nil {
		metrics.IOReadBytes = io.ReadBytes
		metrics.IOWriteBytes = io.WriteBytes
	}
	if startedAt != nil {
		metrics.UptimeSeconds = int(time.Since(*startedAt).Seconds())
	}

	return metrics
}
