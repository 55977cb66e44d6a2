package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Host Metrics
var (
	// SystemCPUPercent tracks smoothed host CPU utilization
	SystemCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "system_cpu_percent",
			Help: "Host CPU utilization (0-100), exponentially smoothed",
		},
	)

	// SystemMemoryPercent tracks host memory utilization
	SystemMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "system_memory_used_percent",
			Help: "Host memory utilization (0-100)",
		},
	)
)

const cpuSmoothing = 0.3

// SystemCollector samples host CPU and memory with gopsutil and publishes them as gauges.
type SystemCollector struct {
	clock    clockwork.Clock
	interval time.Duration

	mu         sync.Mutex
	cpuPercent float64

	cpuPercentFn  func(ctx context.Context) ([]float64, error)
	memoryUsageFn func(ctx context.Context) (float64, error)
}

func NewSystemCollector(clock clockwork.Clock, interval time.Duration) *SystemCollector {
	return &SystemCollector{
		clock:    clock,
		interval: interval,
		cpuPercentFn: func(ctx context.Context) ([]float64, error) {
			// Interval 0 compares against the previous call instead of sleeping.
			return cpu.PercentWithContext(ctx, 0, false)
		},
		memoryUsageFn: func(ctx context.Context) (float64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.UsedPercent, nil
		},
	}
}

// Run samples every interval until ctx is cancelled.
func (sc *SystemCollector) Run(ctx context.Context) {
	ticker := sc.clock.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			sc.Collect(ctx)
		}
	}
}

// Collect takes one sample. Failed probes keep the previous gauge values.
func (sc *SystemCollector) Collect(ctx context.Context) {
	if percents, err := sc.cpuPercentFn(ctx); err != nil || len(percents) == 0 {
		slog.Debug("CPU sample failed", "error", err)
	} else {
		SystemCPUPercent.Set(sc.smoothCPU(percents[0]))
	}

	if used, err := sc.memoryUsageFn(ctx); err != nil {
		slog.Debug("Memory sample failed", "error", err)
	} else {
		SystemMemoryPercent.Set(used)
	}
}

func (sc *SystemCollector) smoothCPU(sample float64) float64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.cpuPercent == 0 {
		sc.cpuPercent = sample
	} else {
		sc.cpuPercent = cpuSmoothing*sample + (1-cpuSmoothing)*sc.cpuPercent
	}
	return sc.cpuPercent
}
