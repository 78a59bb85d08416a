package telemetry_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/scheduler"
	"github.com/chartd-org/chartd/internal/supervisor"
	"github.com/chartd-org/chartd/internal/telemetry"
)

type fakeSched struct {
	status scheduler.Status
}

func (f fakeSched) Status() scheduler.Status { return f.status }

type fakeSup struct {
	summary supervisor.Summary
}

func (f fakeSup) HealthSummary() supervisor.Summary { return f.summary }

func TestCollectorExposesSchedulerState(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)
	next := now.AddDate(0, 0, 7)

	sched := fakeSched{status: scheduler.Status{
		Running:             true,
		NextUpdate:          next,
		ConsecutiveFailures: 2,
	}}
	sup := fakeSup{summary: supervisor.Summary{
		Healthy: true,
		Tasks: []supervisor.TaskInfo{
			{Name: "update_scheduler", BreakerState: "closed"},
			{Name: "janitor", Stale: true, BreakerState: "open"},
		},
		Resource: &supervisor.ResourceSample{CPUPercent: 3.5, RSSBytes: 64 << 20},
	}}

	c := telemetry.New(fake, sched, sup)
	c.UpdateRun("success")
	c.UpdateRun("failure")
	c.GraphRendered("success")

	fake.Advance(90 * time.Second)

	expected := `
# HELP chartd_scheduler_running 1 while the update scheduler is running.
# TYPE chartd_scheduler_running gauge
chartd_scheduler_running 1
# HELP chartd_consecutive_failures Consecutive failed update runs.
# TYPE chartd_consecutive_failures gauge
chartd_consecutive_failures 2
# HELP chartd_uptime_seconds Seconds since the daemon started.
# TYPE chartd_uptime_seconds gauge
chartd_uptime_seconds 90
# HELP chartd_update_runs_total Completed update runs by result.
# TYPE chartd_update_runs_total counter
chartd_update_runs_total{result="success"} 1
chartd_update_runs_total{result="failure"} 1
# HELP chartd_task_up 1 while the supervised task is healthy.
# TYPE chartd_task_up gauge
chartd_task_up{task="update_scheduler"} 1
chartd_task_up{task="janitor"} 0
# HELP chartd_breaker_open 1 while the task's circuit breaker is open.
# TYPE chartd_breaker_open gauge
chartd_breaker_open{task="update_scheduler"} 0
chartd_breaker_open{task="janitor"} 1
# HELP chartd_process_cpu_percent Process CPU usage percent, sampled by the resource monitor.
# TYPE chartd_process_cpu_percent gauge
chartd_process_cpu_percent 3.5
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"chartd_scheduler_running",
		"chartd_consecutive_failures",
		"chartd_uptime_seconds",
		"chartd_update_runs_total",
		"chartd_task_up",
		"chartd_breaker_open",
		"chartd_process_cpu_percent",
	)
	require.NoError(t, err)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == "chartd_next_update_timestamp_seconds" {
			require.Len(t, fam.GetMetric(), 1)
			assert.InDelta(t, float64(next.Unix()), fam.GetMetric()[0].GetGauge().GetValue(), 0.5)
		}
	}
}

func TestRegistryServesCollector(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))
	c := telemetry.New(fake, fakeSched{}, fakeSup{})

	reg := c.Registry()
	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["chartd_info"])
	assert.True(t, names["chartd_uptime_seconds"])
	assert.True(t, names["chartd_update_runs_total"])
}
