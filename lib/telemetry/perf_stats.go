package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type perfGauges struct {
	cpu         metric.Float64Gauge
	memory      metric.Int64Gauge
	liveObjects metric.Int64Gauge
	goroutines  metric.Int64Gauge
}

// gauges are created lazily so they bind to the meter provider installed
// by Setup rather than the global no-op one present at init.
func newPerfGauges() (perfGauges, error) {
	meter := otel.Meter("go.perf_stats")

	var g perfGauges
	var err error
	g.cpu, err = meter.Float64Gauge("cpu_usage")
	if err != nil {
		return g, err
	}
	g.memory, err = meter.Int64Gauge("allocated_mb")
	if err != nil {
		return g, err
	}
	g.liveObjects, err = meter.Int64Gauge("live_objects")
	if err != nil {
		return g, err
	}
	g.goroutines, err = meter.Int64Gauge("goroutine_count")
	return g, err
}

// InstrumentPerfStats records process gauges every 30 seconds until ctx is done.
func InstrumentPerfStats(ctx context.Context) {
	gauges, err := newPerfGauges()
	if err != nil {
		slog.WarnContext(ctx, "failed to create perf gauges", "err", err)
		return
	}

	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				cpuUsage, err := cpu.PercentWithContext(ctx, time.Second*5, false)
				if err == nil && len(cpuUsage) > 0 {
					gauges.cpu.Record(ctx, cpuUsage[0])
				} else if err != nil {
					slog.DebugContext(ctx, "failed to read cpu usage", "err", err)
				}

				gauges.memory.Record(ctx, int64(memStats.Alloc/1_000_000))
				gauges.liveObjects.Record(ctx, int64(memStats.Mallocs)-int64(memStats.Frees))
				gauges.goroutines.Record(ctx, int64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
