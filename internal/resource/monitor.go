// Package resource samples the daemon's own process usage for the health
// summary and the metrics endpoint.
package resource

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/supervisor"
)

// TaskName is the supervised task identity of the monitor loop.
const TaskName = "resource_monitor"

const sampleInterval = 15 * time.Second

// Monitor periodically samples process CPU and memory plus host load into
// an atomically swapped snapshot.
type Monitor struct {
	clock clock.Clock
	proc  *process.Process

	sample atomic.Pointer[supervisor.ResourceSample]
	handle atomic.Pointer[supervisor.Handle]
}

func NewMonitor(clk clock.Clock) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Monitor{clock: clk, proc: proc}, nil
}

// Sample returns the latest snapshot; ok is false before the first tick.
func (m *Monitor) Sample() (supervisor.ResourceSample, bool) {
	if s := m.sample.Load(); s != nil {
		return *s, true
	}
	return supervisor.ResourceSample{}, false
}

// Register attaches the monitor loop to the supervisor and wires the
// sample into its health summary.
func (m *Monitor) Register(sup *supervisor.Supervisor) error {
	sup.SetResourceFunc(m.Sample)
	handle, err := sup.Add(TaskName, m.run, supervisor.TaskOptions{
		RestartOnFailure: true,
	})
	if err != nil {
		return err
	}
	m.handle.Store(handle)
	return nil
}

// run is the supervised body: sample, publish, sleep, repeat.
func (m *Monitor) run(ctx context.Context) error {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	m.collect(ctx)
	logger.FromContext(ctx).Debug("resource monitor started",
		tag.Duration(sampleInterval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.collect(ctx)
			if h := m.handle.Load(); h != nil {
				h.Heartbeat()
			}
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	sample := supervisor.ResourceSample{SampledAt: m.clock.Now()}

	if cpu, err := m.proc.CPUPercentWithContext(ctx); err == nil {
		sample.CPUPercent = cpu
	}
	if mem, err := m.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		sample.RSSBytes = mem.RSS
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		sample.Load1 = avg.Load1
	}

	m.sample.Store(&sample)
}
