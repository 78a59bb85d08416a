package supervisor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/backoff"
	"github.com/chartd-org/chartd/internal/breaker"
	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/supervisor"
)

func quietCtx() context.Context {
	return logger.WithLogger(context.Background(), logger.NewLogger(logger.WithQuiet()))
}

func fastPolicy() backoff.RetryPolicy {
	return backoff.RetryPolicy{
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		ExponentialBase:  2.0,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	}
}

func startSupervisor(t *testing.T) (*supervisor.Supervisor, context.Context) {
	t.Helper()
	ctx := quietCtx()
	sup := supervisor.New(clock.System(time.UTC))
	require.NoError(t, sup.Start(ctx))
	t.Cleanup(func() { sup.Stop(ctx) })
	return sup, ctx
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTaskCompletes(t *testing.T) {
	t.Parallel()

	sup, _ := startSupervisor(t)

	var runs atomic.Int32
	_, err := sup.Add("once", func(context.Context) error {
		runs.Add(1)
		return nil
	}, supervisor.TaskOptions{Policy: fastPolicy()})
	require.NoError(t, err)

	waitFor(t, func() bool {
		info, ok := sup.Status("once")
		return ok && info.Status == core.TaskIdle && info.Metrics.TotalSuccesses == 1
	})
	assert.Equal(t, int32(1), runs.Load())

	events := map[string]bool{}
	for _, e := range sup.Audit(0) {
		if e.Task == "once" {
			events[e.Event] = true
		}
	}
	assert.True(t, events["registered"])
	assert.True(t, events["completed"])
}

func TestTaskRestartsOnTransientFailure(t *testing.T) {
	t.Parallel()

	sup, _ := startSupervisor(t)

	var runs atomic.Int32
	_, err := sup.Add("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, supervisor.TaskOptions{RestartOnFailure: true, Policy: fastPolicy()})
	require.NoError(t, err)

	waitFor(t, func() bool { return runs.Load() == 3 })
	waitFor(t, func() bool {
		info, _ := sup.Status("flaky")
		return info.Metrics.TotalSuccesses == 1 && info.Metrics.TotalFailures == 2
	})
}

func TestPermanentFailureStopsRestarting(t *testing.T) {
	t.Parallel()

	sup, _ := startSupervisor(t)

	var runs atomic.Int32
	_, err := sup.Add("doomed", func(context.Context) error {
		runs.Add(1)
		return errors.New("unauthorized")
	}, supervisor.TaskOptions{RestartOnFailure: true, Policy: fastPolicy()})
	require.NoError(t, err)

	waitFor(t, func() bool {
		info, ok := sup.Status("doomed")
		return ok && info.Status == core.TaskFailed
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, sup.IsHealthy())
}

func TestAddReplacesExistingTask(t *testing.T) {
	t.Parallel()

	sup, _ := startSupervisor(t)

	started := make(chan struct{})
	var cancelled atomic.Bool
	_, err := sup.Add("worker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}, supervisor.TaskOptions{Policy: fastPolicy()})
	require.NoError(t, err)
	<-started

	_, err = sup.Add("worker", func(context.Context) error { return nil }, supervisor.TaskOptions{Policy: fastPolicy()})
	require.NoError(t, err)
	assert.True(t, cancelled.Load())
}

func TestStopCancelsTasks(t *testing.T) {
	t.Parallel()

	ctx := quietCtx()
	sup := supervisor.New(clock.System(time.UTC))
	require.NoError(t, sup.Start(ctx))

	running := make(chan struct{})
	_, err := sup.Add("loop", func(ctx context.Context) error {
		close(running)
		<-ctx.Done()
		return ctx.Err()
	}, supervisor.TaskOptions{Policy: fastPolicy()})
	require.NoError(t, err)
	<-running

	sup.Stop(ctx)
	assert.Empty(t, sup.StatusAll())

	_, err = sup.Add("late", func(context.Context) error { return nil }, supervisor.TaskOptions{})
	assert.ErrorIs(t, err, supervisor.ErrStopped)
}

func TestBreakerBlocksAfterSustainedFailure(t *testing.T) {
	t.Parallel()

	sup, _ := startSupervisor(t)

	var runs atomic.Int32
	handle, err := sup.Add("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("service unavailable")
	}, supervisor.TaskOptions{RestartOnFailure: true, Policy: fastPolicy()})
	require.NoError(t, err)

	waitFor(t, func() bool { return handle.Breaker().State() != breaker.Closed })
	count := runs.Load()
	// While open, no further attempts are admitted.
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), count+1)

	var sawOpen bool
	for _, e := range sup.Audit(0) {
		if e.Task == "broken" && e.Event == "breaker_open" {
			sawOpen = true
		}
	}
	assert.True(t, sawOpen)
}

func TestHealthSummaryIncludesResourceSample(t *testing.T) {
	t.Parallel()

	sup, _ := startSupervisor(t)
	sup.SetResourceFunc(func() (supervisor.ResourceSample, bool) {
		return supervisor.ResourceSample{CPUPercent: 12.5, RSSBytes: 1 << 20}, true
	})

	summary := sup.HealthSummary()
	require.NotNil(t, summary.Resource)
	assert.InDelta(t, 12.5, summary.Resource.CPUPercent, 0.001)
}

func TestAuditRingBounded(t *testing.T) {
	t.Parallel()

	sup, _ := startSupervisor(t)
	handle, err := sup.Add("noisy", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, supervisor.TaskOptions{Policy: fastPolicy()})
	require.NoError(t, err)

	ctx := quietCtx()
	for i := 0; i < 1500; i++ {
		handle.Audit(ctx, "tick", "")
	}
	entries := sup.Audit(0)
	assert.LessOrEqual(t, len(entries), 1000)

	limited := sup.Audit(10)
	assert.Len(t, limited, 10)
	assert.Equal(t, "tick", limited[len(limited)-1].Event)
}
