package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel/metric"
)

const cpuSampleInterval = 30 * time.Second

// InstrumentPerfStats registers process gauges on the "process.stats" meter.
// CPU usage is sampled in the background until ctx is done, memory and
// goroutine counts are read whenever the meter collects.
func InstrumentPerfStats(ctx context.Context) error {
	meter := Meter("process.stats")

	cpuGauge, err := meter.Float64ObservableGauge("process.cpu.usage", metric.WithUnit("%"))
	if err != nil {
		return err
	}
	heapGauge, err := meter.Int64ObservableGauge("process.heap.allocated", metric.WithUnit("By"))
	if err != nil {
		return err
	}
	goroutineGauge, err := meter.Int64ObservableGauge("process.goroutines")
	if err != nil {
		return err
	}

	// percent * 100, stored as an integer for atomic access
	var cpuPercent atomic.Int64
	go func() {
		for {
			sample, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
			if ctx.Err() != nil {
				return
			}
			if err != nil || len(sample) == 0 {
				slog.Debug("cpu sample failed", "err", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(cpuSampleInterval):
				}
				continue
			}
			cpuPercent.Store(int64(sample[0] * 100))
		}
	}()

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		o.ObserveFloat64(cpuGauge, float64(cpuPercent.Load())/100)
		o.ObserveInt64(heapGauge, int64(mem.HeapAlloc))
		o.ObserveInt64(goroutineGauge, int64(runtime.NumGoroutine()))
		return nil
	}, cpuGauge, heapGauge, goroutineGauge)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := registration.Unregister(); err != nil {
			slog.Debug("unregister process stats", "err", err)
		}
	}()
	return nil
}
