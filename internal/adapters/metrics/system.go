package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"storefront-chat/internal/core/ports"
)

var _ ports.DiskProbe = SystemProbe{}

// SystemProbe reads host usage through gopsutil
type SystemProbe struct{}

// UsedPercent returns the disk usage of the filesystem holding path
func (SystemProbe) UsedPercent(ctx context.Context, path string) (float64, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return stat.UsedPercent, nil
}

// HostSnapshot is the system health returned by the ops API
type HostSnapshot struct {
	CPUPercent       float64 `json:"cpu_percent"`
	RAMUsedGB        float64 `json:"ram_used_gb"`
	RAMTotalGB       float64 `json:"ram_total_gb"`
	RAMPercent       float64 `json:"ram_percent"`
	DiskUsedGB       float64 `json:"disk_used_gb"`
	DiskTotalGB      float64 `json:"disk_total_gb"`
	DiskPercent      float64 `json:"disk_percent"`
	GoroutinesCount  int     `json:"goroutines_count"`
	PurgeThreshold   float64 `json:"purge_threshold"`
	DiskWarningLevel string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
}

// Snapshot samples CPU (over sampleWindow), memory and disk.
// Individual probe failures leave their fields at zero.
func (SystemProbe) Snapshot(ctx context.Context, diskPath string, sampleWindow time.Duration, threshold float64) HostSnapshot {
	snap := HostSnapshot{
		GoroutinesCount: runtime.NumGoroutine(),
		PurgeThreshold:  threshold,
	}

	if percents, err := cpu.PercentWithContext(ctx, sampleWindow, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = round2(percents[0])
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.RAMUsedGB = round2(toGB(vm.Used))
		snap.RAMTotalGB = round2(toGB(vm.Total))
		snap.RAMPercent = round2(vm.UsedPercent)
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		snap.DiskUsedGB = round2(toGB(du.Used))
		snap.DiskTotalGB = round2(toGB(du.Total))
		snap.DiskPercent = round2(du.UsedPercent)
	}

	switch {
	case snap.DiskPercent >= threshold+10:
		snap.DiskWarningLevel = "critical"
	case snap.DiskPercent >= threshold:
		snap.DiskWarningLevel = "warning"
	default:
		snap.DiskWarningLevel = "safe"
	}
	return snap
}

func toGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func round2(v float64) float64 {
	return float64(int(v*100)) / 100
}
