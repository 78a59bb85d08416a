// Package telemetry exposes the daemon's operational state as Prometheus
// metrics on a private registry, served by the health server.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chartd-org/chartd/internal/breaker"
	"github.com/chartd-org/chartd/internal/build"
	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/scheduler"
	"github.com/chartd-org/chartd/internal/supervisor"
)

// SchedulerInfo is the slice of the scheduler the collector reads.
type SchedulerInfo interface {
	Status() scheduler.Status
}

// SupervisorInfo is the slice of the supervisor the collector reads.
type SupervisorInfo interface {
	HealthSummary() supervisor.Summary
}

// Collector implements prometheus.Collector over the live daemon state.
// Gauges are computed at scrape time; the run and render counters are fed
// by the updater through the Observer methods.
type Collector struct {
	clock     clock.Clock
	startedAt time.Time
	sched     SchedulerInfo
	sup       SupervisorInfo

	runsSuccess    atomic.Int64
	runsFailure    atomic.Int64
	rendersSuccess atomic.Int64
	rendersFailure atomic.Int64

	info         *prometheus.Desc
	uptime       *prometheus.Desc
	running      *prometheus.Desc
	failures     *prometheus.Desc
	nextUpdate   *prometheus.Desc
	lastUpdate   *prometheus.Desc
	updateRuns   *prometheus.Desc
	graphRenders *prometheus.Desc
	taskUp       *prometheus.Desc
	breakerOpen  *prometheus.Desc
	cpuPercent   *prometheus.Desc
	memoryBytes  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func New(clk clock.Clock, sched SchedulerInfo, sup SupervisorInfo) *Collector {
	return &Collector{
		clock:     clk,
		startedAt: clk.Now(),
		sched:     sched,
		sup:       sup,

		info: prometheus.NewDesc("chartd_info",
			"Build information.", []string{"version"}, nil),
		uptime: prometheus.NewDesc("chartd_uptime_seconds",
			"Seconds since the daemon started.", nil, nil),
		running: prometheus.NewDesc("chartd_scheduler_running",
			"1 while the update scheduler is running.", nil, nil),
		failures: prometheus.NewDesc("chartd_consecutive_failures",
			"Consecutive failed update runs.", nil, nil),
		nextUpdate: prometheus.NewDesc("chartd_next_update_timestamp_seconds",
			"Unix time of the next scheduled update, 0 when unknown.", nil, nil),
		lastUpdate: prometheus.NewDesc("chartd_last_update_timestamp_seconds",
			"Unix time of the last successful update, 0 when none.", nil, nil),
		updateRuns: prometheus.NewDesc("chartd_update_runs_total",
			"Completed update runs by result.", []string{"result"}, nil),
		graphRenders: prometheus.NewDesc("chartd_graphs_rendered_total",
			"Graph renders by result.", []string{"result"}, nil),
		taskUp: prometheus.NewDesc("chartd_task_up",
			"1 while the supervised task is healthy.", []string{"task"}, nil),
		breakerOpen: prometheus.NewDesc("chartd_breaker_open",
			"1 while the task's circuit breaker is open.", []string{"task"}, nil),
		cpuPercent: prometheus.NewDesc("chartd_process_cpu_percent",
			"Process CPU usage percent, sampled by the resource monitor.", nil, nil),
		memoryBytes: prometheus.NewDesc("chartd_process_memory_bytes",
			"Process resident memory, sampled by the resource monitor.", nil, nil),
	}
}

// UpdateRun implements updater.Observer.
func (c *Collector) UpdateRun(result string) {
	if result == "success" {
		c.runsSuccess.Add(1)
	} else {
		c.runsFailure.Add(1)
	}
}

// GraphRendered implements updater.Observer.
func (c *Collector) GraphRendered(result string) {
	if result == "success" {
		c.rendersSuccess.Add(1)
	} else {
		c.rendersFailure.Add(1)
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.info
	ch <- c.uptime
	ch <- c.running
	ch <- c.failures
	ch <- c.nextUpdate
	ch <- c.lastUpdate
	ch <- c.updateRuns
	ch <- c.graphRenders
	ch <- c.taskUp
	ch <- c.breakerOpen
	ch <- c.cpuPercent
	ch <- c.memoryBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, build.Version)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue,
		c.clock.Now().Sub(c.startedAt).Seconds())

	status := c.sched.Status()
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolValue(status.Running))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(status.ConsecutiveFailures))
	ch <- prometheus.MustNewConstMetric(c.nextUpdate, prometheus.GaugeValue, stampValue(status.NextUpdate))
	ch <- prometheus.MustNewConstMetric(c.lastUpdate, prometheus.GaugeValue, stampValue(status.LastUpdate))

	ch <- prometheus.MustNewConstMetric(c.updateRuns, prometheus.CounterValue,
		float64(c.runsSuccess.Load()), "success")
	ch <- prometheus.MustNewConstMetric(c.updateRuns, prometheus.CounterValue,
		float64(c.runsFailure.Load()), "failure")
	ch <- prometheus.MustNewConstMetric(c.graphRenders, prometheus.CounterValue,
		float64(c.rendersSuccess.Load()), "success")
	ch <- prometheus.MustNewConstMetric(c.graphRenders, prometheus.CounterValue,
		float64(c.rendersFailure.Load()), "failure")

	summary := c.sup.HealthSummary()
	for _, info := range summary.Tasks {
		up := 1.0
		if info.Stale || info.Status == core.TaskFailed {
			up = 0
		}
		ch <- prometheus.MustNewConstMetric(c.taskUp, prometheus.GaugeValue, up, info.Name)
		ch <- prometheus.MustNewConstMetric(c.breakerOpen, prometheus.GaugeValue,
			boolValue(info.BreakerState == breaker.Open.String()), info.Name)
	}
	if summary.Resource != nil {
		ch <- prometheus.MustNewConstMetric(c.cpuPercent, prometheus.GaugeValue, summary.Resource.CPUPercent)
		ch <- prometheus.MustNewConstMetric(c.memoryBytes, prometheus.GaugeValue, float64(summary.Resource.RSSBytes))
	}
}

// Registry returns a private registry with this collector registered.
func (c *Collector) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return reg
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func stampValue(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix())
}
