package collector

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nozo-moto/gnethogs/pkg/types"
)

type SystemCollector struct{}

func NewSystemCollector() *SystemCollector {
	return &SystemCollector{}
}

// Collect samples host load. CPU usage is measured since the previous call.
func (sc *SystemCollector) Collect() (*types.HostStats, error) {
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}

	stats := &types.HostStats{
		MemoryUsed:  memInfo.Used,
		MemoryTotal: memInfo.Total,
		MemoryPerc:  memInfo.UsedPercent,
		Goroutines:  runtime.NumGoroutine(),
		Timestamp:   time.Now(),
	}
	if len(cpuPercent) > 0 {
		stats.CPUPercent = cpuPercent[0]
	}
	return stats, nil
}
