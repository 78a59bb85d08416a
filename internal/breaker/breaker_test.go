package breaker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/breaker"
	"github.com/chartd-org/chartd/internal/clock"
)

func testSettings() breaker.Settings {
	return breaker.Settings{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  100 * time.Millisecond,
	}
}

func TestOpensAfterThresholdThenRecovers(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))
	b := breaker.New("update", testSettings(), clk, nil)

	// Three failures open the breaker.
	for i := 0; i < 3; i++ {
		require.True(t, b.ShouldAllow())
		b.RecordFailure()
	}
	assert.Equal(t, breaker.Open, b.State())
	assert.False(t, b.ShouldAllow())
	assert.False(t, b.OpenedAt().IsZero())

	// After the recovery timeout a probe is admitted and the breaker is half-open.
	clk.Advance(200 * time.Millisecond)
	assert.True(t, b.ShouldAllow())
	assert.Equal(t, breaker.HalfOpen, b.State())

	// Two successes close it.
	b.RecordSuccess()
	assert.Equal(t, breaker.HalfOpen, b.State())
	require.True(t, b.ShouldAllow())
	b.RecordSuccess()
	assert.Equal(t, breaker.Closed, b.State())
	assert.True(t, b.OpenedAt().IsZero())
}

func TestHalfOpenSingleProbe(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))
	b := breaker.New("update", testSettings(), clk, nil)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(150 * time.Millisecond)

	require.True(t, b.ShouldAllow())
	// Probe in flight: concurrent attempts are denied.
	assert.False(t, b.ShouldAllow())
	assert.False(t, b.ShouldAllow())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	b := breaker.New("update", testSettings(), clk, nil)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(150 * time.Millisecond)
	require.True(t, b.ShouldAllow())

	reopenedAt := clk.Advance(10 * time.Millisecond)
	b.RecordFailure()

	assert.Equal(t, breaker.Open, b.State())
	assert.True(t, b.OpenedAt().Equal(reopenedAt))
	assert.False(t, b.ShouldAllow())
}

func TestSuccessResetsFailureRun(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))
	b := breaker.New("update", testSettings(), clk, nil)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, 2, b.ConsecutiveFailures())

	b.RecordSuccess()
	assert.Equal(t, 0, b.ConsecutiveFailures())
	assert.Equal(t, breaker.Closed, b.State())

	// The run starts over: two more failures do not open the breaker.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, breaker.Closed, b.State())
	b.RecordFailure()
	assert.Equal(t, breaker.Open, b.State())
}

func TestTransitionCallback(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))
	var transitions []breaker.Transition
	b := breaker.New("update", testSettings(), clk, func(tr breaker.Transition) {
		transitions = append(transitions, tr)
	})

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(150 * time.Millisecond)
	require.True(t, b.ShouldAllow())
	b.RecordSuccess()
	require.True(t, b.ShouldAllow())
	b.RecordSuccess()

	require.Len(t, transitions, 3)
	assert.Equal(t, breaker.Closed, transitions[0].From)
	assert.Equal(t, breaker.Open, transitions[0].To)
	assert.Equal(t, breaker.HalfOpen, transitions[1].To)
	assert.Equal(t, breaker.Closed, transitions[2].To)
	assert.Equal(t, "update", transitions[0].Name)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", breaker.Closed.String())
	assert.Equal(t, "open", breaker.Open.String())
	assert.Equal(t, "half_open", breaker.HalfOpen.String())
}
