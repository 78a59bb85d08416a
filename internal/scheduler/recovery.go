package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
)

const (
	// failureCountSuspicious flags a stored failure run that should have
	// tripped the breaker long ago.
	failureCountSuspicious = 10

	// staleFailureAge flags failure state that predates recent history.
	staleFailureAge = 7 * 24 * time.Hour

	// resetFailureCount and resetFailureAge together gate the automatic
	// failure reset during repair.
	resetFailureCount = 5
	resetFailureAge   = 3 * 24 * time.Hour
)

// Recovery reconciles the persisted state against the calculator: detects
// fires missed during downtime, validates invariants, and repairs drift.
type Recovery struct {
	store StateStore
	clock clock.Clock
}

// NewRecovery builds a Recovery over the given store.
func NewRecovery(store StateStore, clk clock.Clock) *Recovery {
	return &Recovery{store: store, clock: clk}
}

// RecoveryReport summarises one recovery pass.
type RecoveryReport struct {
	MissedFires []MissedFire `json:"missedFires"`
	Issues      []string     `json:"issues"`
	Repaired    bool         `json:"repaired"`
	Replayed    int          `json:"replayed"`
	Failed      int          `json:"failed"`
}

// DetectMissedFires lists fires that elapsed between the persisted state
// and now, oldest first. Without a last update there is no history to
// backfill, so none are reported.
func DetectMissedFires(cfg SchedulingConfig, lastUpdate, storedNext, now time.Time) []MissedFire {
	if lastUpdate.IsZero() {
		return nil
	}

	var fires []MissedFire
	seen := make(map[time.Time]bool)
	emit := func(f MissedFire) {
		key := f.ScheduledTime.UTC()
		at := time.Date(key.Year(), key.Month(), key.Day(), key.Hour(), key.Minute(), key.Second(), 0, time.UTC)
		if seen[at] {
			return
		}
		seen[at] = true
		fires = append(fires, f)
	}

	if !cfg.Fixed() {
		// Every elapsed interval boundary except the most recent is a
		// backfill candidate; the stored next covers the recent one.
		period := time.Duration(cfg.UpdateDays) * 24 * time.Hour
		missed := int(now.Sub(lastUpdate) / period)
		for k := 1; k < missed; k++ {
			emit(MissedFire{
				ScheduledTime: lastUpdate.AddDate(0, 0, k*cfg.UpdateDays),
				DetectedAt:    now,
				Reason:        ReasonIntervalBackfill,
			})
		}
	} else if storedNext.IsZero() || storedNext.After(now) {
		// Fixed-time mode with no elapsed stored fire: a gap longer than
		// one full cadence still evidences downtime.
		expected := NextUpdate(cfg, lastUpdate, lastUpdate)
		if !expected.After(now.AddDate(0, 0, -cfg.UpdateDays)) {
			emit(MissedFire{
				ScheduledTime: expected,
				DetectedAt:    now,
				Reason:        ReasonDowntime,
			})
		}
	}

	if !storedNext.IsZero() && storedNext.Before(now) {
		emit(MissedFire{
			ScheduledTime: storedNext,
			DetectedAt:    now,
			Reason:        ReasonMissedScheduled,
		})
	}

	sort.Slice(fires, func(i, j int) bool {
		return fires[i].ScheduledTime.Before(fires[j].ScheduledTime)
	})
	return fires
}

// Validate returns every invariant violation in the state: calculator
// integrity issues plus failure-counter sanity checks.
func (r *Recovery) Validate(state *ScheduleState, cfg SchedulingConfig) []string {
	now := r.clock.Now()
	issues := ValidateIntegrity(state.NextUpdate(), state.LastUpdate(), cfg, now)

	failures := state.ConsecutiveFailures()
	if failures > failureCountSuspicious {
		issues = append(issues, fmt.Sprintf(
			"consecutive failure count %d exceeds %d", failures, failureCountSuspicious))
	}
	if failures > 0 {
		if lf := state.LastFailure(); !lf.IsZero() && now.Sub(lf) > staleFailureAge {
			issues = append(issues, fmt.Sprintf(
				"failure state is stale: last failure %s", lf.Format(time.RFC3339)))
		}
	}
	return issues
}

// Repair replaces a drifted next_update with a freshly computed value,
// resets long-stale failure runs, and clears a running flag left behind
// by an unclean shutdown. Returns true when anything changed.
func (r *Recovery) Repair(ctx context.Context, state *ScheduleState, cfg SchedulingConfig, taskRunning bool) bool {
	now := r.clock.Now()
	repaired := false

	next := NextUpdate(cfg, state.LastUpdate(), now)
	if stored := state.NextUpdate(); stored.IsZero() || !stored.Equal(next) {
		state.SetNextUpdate(next)
		repaired = true
		logger.Info(ctx, "Repaired next update", tag.NextRun(next))
	}

	if failures := state.ConsecutiveFailures(); failures > resetFailureCount {
		if lf := state.LastFailure(); !lf.IsZero() && now.Sub(lf) > resetFailureAge {
			state.ResetFailures()
			repaired = true
			logger.Info(ctx, "Reset stale failure state", tag.Failures(failures))
		}
	}

	if state.IsRunning() && !taskRunning {
		state.SetRunning(false)
		repaired = true
		logger.Info(ctx, "Cleared stale running flag")
	}

	return repaired
}

// ReplayFunc replays one missed fire; called sequentially, oldest first.
type ReplayFunc func(ctx context.Context, fire MissedFire) error

// PerformRecovery runs a full pass: detect missed fires, validate,
// repair, replay through callback (nil skips replay; failures are
// recorded and the remaining fires still run), then persist.
func (r *Recovery) PerformRecovery(ctx context.Context, state *ScheduleState, cfg SchedulingConfig, callback ReplayFunc) (*RecoveryReport, error) {
	now := r.clock.Now()
	report := &RecoveryReport{
		MissedFires: DetectMissedFires(cfg, state.LastUpdate(), state.NextUpdate(), now),
		Issues:      r.Validate(state, cfg),
	}

	for _, issue := range report.Issues {
		logger.Warn(ctx, "Schedule state issue", tag.Reason(issue))
	}

	if callback != nil {
		for _, fire := range report.MissedFires {
			if err := callback(ctx, fire); err != nil {
				report.Failed++
				logger.Error(ctx, "Missed fire replay failed",
					tag.ScheduledTime(fire.ScheduledTime), tag.Error(err))
				continue
			}
			report.Replayed++
			// The replayed run happened now, not at the missed instant;
			// the next fire is computed from the actual completion time.
			state.SetLastUpdate(r.clock.Now())
			state.RecordSuccess()
		}
	}

	report.Repaired = r.Repair(ctx, state, cfg, false)

	if err := r.store.Save(ctx, state.Snapshot(), &cfg); err != nil {
		return report, err
	}
	return report, nil
}

// OnStartup loads the persisted state and reconciles it against newCfg.
// A cadence change in the config invalidates the stored next_update; the
// caller runs PerformRecovery on the result, which recomputes it. Repair
// is deliberately not run here so missed-fire detection still sees the
// stored next_update.
func (r *Recovery) OnStartup(ctx context.Context, newCfg SchedulingConfig) (*ScheduleState, error) {
	snap, storedCfg, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	state := FromSnapshot(snap)

	if storedCfg != nil &&
		(storedCfg.UpdateDays != newCfg.UpdateDays || storedCfg.FixedUpdateTime != newCfg.FixedUpdateTime) {
		logger.Info(ctx, "Schedule config changed since last run",
			tag.Value(fmt.Sprintf("%d/%s -> %d/%s",
				storedCfg.UpdateDays, storedCfg.FixedUpdateTime,
				newCfg.UpdateDays, newCfg.FixedUpdateTime)))
		state.SetNextUpdate(time.Time{})
	}

	return state, nil
}
