package collect

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics tracks process-host resource usage attached to the status
// surface so polling clients can see memory pressure alongside collector
// health.
type SystemMetrics struct {
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// getSystemMetrics returns current host memory usage. Returns nil when the
// stats cannot be read; status reporting degrades gracefully without them.
func getSystemMetrics() *SystemMetrics {
	v, err := mem.VirtualMemory()
	if err != nil || v.Total == 0 {
		return nil
	}

	totalGB := float64(v.Total) / 1024 / 1024 / 1024
	usedGB := float64(v.Total-v.Available) / 1024 / 1024 / 1024

	return &SystemMetrics{
		MemoryUsedGB:  usedGB,
		MemoryTotalGB: totalGB,
		MemoryPercent: (usedGB / totalGB) * 100,
	}
}
