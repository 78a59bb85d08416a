package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/scheduler"
)

// memStore is an in-memory StateStore for recovery tests.
type memStore struct {
	snap   scheduler.StateSnapshot
	cfg    *scheduler.SchedulingConfig
	saves  int
	failOn error
}

func (m *memStore) Save(_ context.Context, snap scheduler.StateSnapshot, cfg *scheduler.SchedulingConfig) error {
	if m.failOn != nil {
		return m.failOn
	}
	m.snap = snap
	m.cfg = cfg
	m.saves++
	return nil
}

func (m *memStore) Load(context.Context) (scheduler.StateSnapshot, *scheduler.SchedulingConfig, error) {
	return m.snap, m.cfg, nil
}

func (m *memStore) Exists() bool  { return m.saves > 0 }
func (m *memStore) Delete() error { return nil }

// Interval replay after downtime: four days of downtime on a daily
// cadence yields exactly three missed fires, one per skipped day.
func TestDetectMissedFiresIntervalDowntime(t *testing.T) {
	t.Parallel()

	cfg := mustConfig(t, 1, "disabled")
	last := time.Date(2025, 7, 23, 12, 0, 0, 0, time.UTC)
	storedNext := last.AddDate(0, 0, 1)
	now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)

	fires := scheduler.DetectMissedFires(cfg, last, storedNext, now)
	require.Len(t, fires, 3)
	assert.Equal(t, time.Date(2025, 7, 24, 12, 0, 0, 0, time.UTC), fires[0].ScheduledTime)
	assert.Equal(t, time.Date(2025, 7, 25, 12, 0, 0, 0, time.UTC), fires[1].ScheduledTime)
	assert.Equal(t, time.Date(2025, 7, 26, 12, 0, 0, 0, time.UTC), fires[2].ScheduledTime)
}

func TestDetectMissedFiresNoHistory(t *testing.T) {
	t.Parallel()

	cfg := mustConfig(t, 1, "disabled")
	now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)
	assert.Empty(t, scheduler.DetectMissedFires(cfg, time.Time{}, now.Add(-time.Hour), now))
}

func TestDetectMissedFiresStoredNextOnly(t *testing.T) {
	t.Parallel()

	cfg := mustConfig(t, 7, "disabled")
	last := time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC)
	storedNext := last.AddDate(0, 0, 7)
	now := storedNext.Add(2 * time.Hour)

	fires := scheduler.DetectMissedFires(cfg, last, storedNext, now)
	require.Len(t, fires, 1)
	assert.Equal(t, storedNext, fires[0].ScheduledTime)
	assert.Equal(t, scheduler.ReasonMissedScheduled, fires[0].Reason)
}

func TestDetectMissedFiresFixedTimeDowntime(t *testing.T) {
	t.Parallel()

	cfg := mustConfig(t, 1, "06:00")
	last := time.Date(2025, 7, 20, 6, 0, 0, 0, time.UTC)
	// No stored next survived, but three daily fires elapsed.
	now := time.Date(2025, 7, 23, 12, 0, 0, 0, time.UTC)

	fires := scheduler.DetectMissedFires(cfg, last, time.Time{}, now)
	require.NotEmpty(t, fires)
	assert.Equal(t, scheduler.ReasonDowntime, fires[0].Reason)
}

func TestPerformRecoveryReplaysAndRepairs(t *testing.T) {
	t.Parallel()

	cfg := mustConfig(t, 1, "disabled")
	last := time.Date(2025, 7, 23, 12, 0, 0, 0, time.UTC)
	storedNext := last.AddDate(0, 0, 1)
	now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)

	clk := clock.NewFake(now)
	store := &memStore{}
	rec := scheduler.NewRecovery(store, clk)

	state := scheduler.FromSnapshot(scheduler.StateSnapshot{
		LastUpdate: &last,
		NextUpdate: &storedNext,
	})

	var replayed []time.Time
	report, err := rec.PerformRecovery(context.Background(), state, cfg,
		func(_ context.Context, fire scheduler.MissedFire) error {
			replayed = append(replayed, fire.ScheduledTime)
			return nil
		})
	require.NoError(t, err)

	assert.Len(t, replayed, 3)
	assert.Equal(t, 3, report.Replayed)
	assert.Zero(t, report.Failed)

	// The replayed runs happened now; the cadence continues from there.
	assert.Equal(t, now, state.LastUpdate())
	assert.Equal(t, now.AddDate(0, 0, 1), state.NextUpdate())
	assert.Equal(t, 1, store.saves)
}

func TestPerformRecoveryContinuesPastReplayFailure(t *testing.T) {
	t.Parallel()

	cfg := mustConfig(t, 1, "disabled")
	last := time.Date(2025, 7, 23, 12, 0, 0, 0, time.UTC)
	now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)

	clk := clock.NewFake(now)
	store := &memStore{}
	rec := scheduler.NewRecovery(store, clk)
	state := scheduler.FromSnapshot(scheduler.StateSnapshot{LastUpdate: &last})

	calls := 0
	report, err := rec.PerformRecovery(context.Background(), state, cfg,
		func(context.Context, scheduler.MissedFire) error {
			calls++
			if calls == 1 {
				return errors.New("tautulli unreachable")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, report.Replayed)
	assert.Equal(t, 1, report.Failed)
}

func TestRepairResetsStaleFailures(t *testing.T) {
	t.Parallel()

	cfg := mustConfig(t, 1, "disabled")
	now := time.Date(2025, 7, 27, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	rec := scheduler.NewRecovery(&memStore{}, clk)

	oldFailure := now.AddDate(0, 0, -8)
	last := now.Add(-time.Hour)
	state := scheduler.FromSnapshot(scheduler.StateSnapshot{
		LastUpdate:          &last,
		ConsecutiveFailures: 12,
		LastFailure:         &oldFailure,
		IsRunning:           true,
	})

	issues := rec.Validate(state, cfg)
	assert.NotEmpty(t, issues)

	repaired := rec.Repair(context.Background(), state, cfg, false)
	assert.True(t, repaired)
	assert.Zero(t, state.ConsecutiveFailures())
	assert.False(t, state.IsRunning())
	assert.True(t, state.NextUpdate().After(now))
}
