// Package health samples host RAM/swap/CPU and decides whether the
// worker should keep accepting submissions, reimplementing
// health_check.py's check_system_health with github.com/shirou/gopsutil/v3
// in place of psutil.
package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Thresholds mirrors health_check.py's MEMORY_THRESHOLD/CPU_THRESHOLD env
// vars, plus the hardcoded 10% swap-usage trip.
type Thresholds struct {
	MemoryPercent float64
	CPUPercent    float64
	SwapPercent   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{MemoryPercent: 85, CPUPercent: 90, SwapPercent: 10}
}

// Reading is the last sampled snapshot, safe to read concurrently once
// handed out (the sampler never mutates a Reading after returning it).
type Reading struct {
	Healthy       bool
	Reason        string
	MemoryPercent float64
	SwapPercent   float64
	CPUPercent    float64
}

// Sample takes one reading. On any measurement error it fails open,
// matching the original's behavior: an unmeasurable host is treated as
// healthy rather than refusing submissions because of a metrics outage.
func Sample(ctx context.Context, th Thresholds) Reading {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Reading{Healthy: true}
	}
	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return Reading{Healthy: true}
	}
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Reading{Healthy: true}
	}
	cpuPct := 0.0
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	r := Reading{MemoryPercent: vm.UsedPercent, SwapPercent: swap.UsedPercent, CPUPercent: cpuPct, Healthy: true}

	if vm.UsedPercent > th.MemoryPercent {
		r.Healthy = false
		r.Reason = fmt.Sprintf("host RAM overloaded: %.1f%% (threshold %.1f%%)", vm.UsedPercent, th.MemoryPercent)
		return r
	}
	if swap.UsedPercent > th.SwapPercent {
		r.Healthy = false
		r.Reason = fmt.Sprintf("host is swapping: %.1f%%", swap.UsedPercent)
		return r
	}
	if cpuPct > th.CPUPercent {
		r.Healthy = false
		r.Reason = fmt.Sprintf("host CPU overloaded: %.1f%% (threshold %.1f%%)", cpuPct, th.CPUPercent)
		return r
	}
	return r
}
