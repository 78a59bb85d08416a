// Package scheduler implements the update scheduler: the timestamp
// calculator, the persistent schedule state, startup recovery, and the
// supervised loop that fires the update pipeline.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chartd-org/chartd/internal/backoff"
	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/supervisor"
)

// TaskName is the supervised task the scheduler owns.
const TaskName = "update_scheduler"

const (
	// heartbeatChunk is the longest uninterrupted wait; longer waits are
	// split so the supervisor sees a fresh heartbeat at least this often.
	heartbeatChunk = 2 * time.Minute

	// backoffWait is the re-check cadence while failure backoff is active.
	backoffWait = 5 * time.Minute

	// fallbackDelay is the defensive wait when the calculator yields an
	// unusable next fire.
	fallbackDelay = time.Hour

	// defaultUpdateTimeout bounds one update callback invocation.
	defaultUpdateTimeout = 10 * time.Minute

	// backoffThreshold is the failure run length that engages backoff.
	backoffThreshold = 3

	// backoffMaxExponent caps the backoff curve at 2^6 hours.
	backoffMaxExponent = 6
)

// UpdateFunc runs one full update (fetch, render, post). The scheduler
// and the manual command path both reach the orchestrator through this.
type UpdateFunc func(ctx context.Context) error

// Options tune the scheduler.
type Options struct {
	// Policy drives the in-run retry loop and the task breaker.
	Policy backoff.RetryPolicy
	// RecoveryEnabled runs startup recovery against the persisted state.
	RecoveryEnabled bool
	// ReplayMissed invokes the update callback for fires missed during
	// downtime. Only meaningful with RecoveryEnabled.
	ReplayMissed bool
	// UpdateTimeout bounds one update callback run. Zero uses 10 minutes.
	UpdateTimeout time.Duration
}

type waitResult int

const (
	waitElapsed waitResult = iota
	waitShutdown
	waitRefresh
)

// Scheduler owns the ScheduleState and the update_scheduler task.
type Scheduler struct {
	clock  clock.Clock
	store  StateStore
	sup    *supervisor.Supervisor
	update UpdateFunc
	opts   Options

	mu     sync.Mutex
	cfg    SchedulingConfig
	state  *ScheduleState
	handle *supervisor.Handle

	recovery  *Recovery
	refreshCh chan struct{}
	stopOnce  sync.Once
}

// New builds a Scheduler. The supervisor must be started before Start is
// called.
func New(clk clock.Clock, store StateStore, sup *supervisor.Supervisor, update UpdateFunc, opts Options) *Scheduler {
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = defaultUpdateTimeout
	}
	if opts.Policy.Validate() != nil {
		opts.Policy = backoff.DefaultPolicy()
	}
	return &Scheduler{
		clock:     clk,
		store:     store,
		sup:       sup,
		update:    update,
		opts:      opts,
		recovery:  NewRecovery(store, clk),
		refreshCh: make(chan struct{}, 1),
	}
}

// Start recovers state, registers the scheduler body with the supervisor,
// and persists the running state.
func (s *Scheduler) Start(ctx context.Context, cfg SchedulingConfig) error {
	var state *ScheduleState
	if s.opts.RecoveryEnabled {
		loaded, err := s.recovery.OnStartup(ctx, cfg)
		if err != nil {
			return fmt.Errorf("load scheduler state: %w", err)
		}
		state = loaded

		var replay ReplayFunc
		if s.opts.ReplayMissed {
			replay = func(ctx context.Context, fire MissedFire) error {
				logger.Info(ctx, "Replaying missed update", tag.ScheduledTime(fire.ScheduledTime), tag.Reason(string(fire.Reason)))
				return s.runUpdate(ctx)
			}
		}
		report, err := s.recovery.PerformRecovery(ctx, state, cfg, replay)
		if err != nil {
			return fmt.Errorf("startup recovery: %w", err)
		}
		if len(report.MissedFires) > 0 {
			logger.Info(ctx, "Startup recovery finished",
				tag.Count(len(report.MissedFires)),
				tag.String("replayed", fmt.Sprintf("%d ok, %d failed", report.Replayed, report.Failed)))
		}
	} else {
		state = NewScheduleState()
	}

	s.mu.Lock()
	s.cfg = cfg
	s.state = state
	s.mu.Unlock()

	handle, err := s.sup.Add(TaskName, s.body, supervisor.TaskOptions{
		RestartOnFailure: true,
		Timeout:          0, // the loop self-paces
		Policy:           s.opts.Policy,
	})
	if err != nil {
		return fmt.Errorf("register scheduler task: %w", err)
	}
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	state.SetRunning(true)
	s.persist(ctx)

	logger.Info(ctx, "Scheduler started",
		tag.Value(cfg.FixedUpdateTime),
		tag.Count(cfg.UpdateDays))
	return nil
}

// Stop marks the state stopped, persists it, and removes the task.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		if st := s.scheduleState(); st != nil {
			st.SetRunning(false)
			s.persist(ctx)
		}
		s.sup.Remove(TaskName)
		logger.Info(ctx, "Scheduler stopped")
	})
}

// Refresh wakes the loop so it recomputes next_update from the current
// config and state. Safe from any goroutine.
func (s *Scheduler) Refresh() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// SetConfig installs a new schedule configuration and refreshes the loop.
func (s *Scheduler) SetConfig(ctx context.Context, cfg SchedulingConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.persist(ctx)
	s.Refresh()
	logger.Info(ctx, "Schedule configuration updated",
		tag.Value(cfg.FixedUpdateTime), tag.Count(cfg.UpdateDays))
}

// ForceUpdate runs the update pipeline outside the scheduler's pacing.
// The orchestrator's run lock serialises it with a scheduled run already
// in flight. On success the completion time becomes last_update and the
// natural cadence continues from it.
func (s *Scheduler) ForceUpdate(ctx context.Context) error {
	state := s.scheduleState()
	if state == nil {
		return &core.SchedulingError{Reason: "scheduler not started"}
	}

	if err := s.runUpdate(ctx); err != nil {
		return err
	}

	now := s.clock.Now()
	state.SetLastUpdate(now)
	state.SetNextUpdate(NextUpdate(s.config(), now, now))
	state.RecordSuccess()
	s.persist(ctx)
	if h := s.taskHandle(); h != nil {
		h.Audit(ctx, "manual_update", "forced update completed")
	}
	s.Refresh()
	return nil
}

// ForceRecovery runs a recovery pass on demand, optionally replaying.
func (s *Scheduler) ForceRecovery(ctx context.Context, replay bool) (*RecoveryReport, error) {
	state := s.scheduleState()
	if state == nil {
		return nil, &core.SchedulingError{Reason: "scheduler not started"}
	}
	var cb ReplayFunc
	if replay {
		cb = func(ctx context.Context, _ MissedFire) error {
			return s.runUpdate(ctx)
		}
	}
	report, err := s.recovery.PerformRecovery(ctx, state, s.config(), cb)
	if err != nil {
		return report, err
	}
	s.Refresh()
	return report, nil
}

// Status is the read model for commands, embeds and the health endpoint.
type Status struct {
	Running             bool      `json:"running"`
	Mode                string    `json:"mode"`
	UpdateDays          int       `json:"updateDays"`
	FixedUpdateTime     string    `json:"fixedUpdateTime"`
	LastUpdate          time.Time `json:"lastUpdate,omitzero"`
	NextUpdate          time.Time `json:"nextUpdate,omitzero"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailure         time.Time `json:"lastFailure,omitzero"`
	LastError           string    `json:"lastError,omitempty"`
	BreakerState        string    `json:"breakerState"`
}

// Status returns the current schedule view.
func (s *Scheduler) Status() Status {
	cfg := s.config()
	mode := "interval"
	if cfg.Fixed() {
		mode = "fixed-time"
	}
	st := Status{
		Mode:            mode,
		UpdateDays:      cfg.UpdateDays,
		FixedUpdateTime: cfg.FixedUpdateTime,
	}
	if state := s.scheduleState(); state != nil {
		st.Running = state.IsRunning()
		st.LastUpdate = state.LastUpdate()
		st.NextUpdate = state.NextUpdate()
		st.ConsecutiveFailures = state.ConsecutiveFailures()
		st.LastFailure = state.LastFailure()
		st.LastError = state.LastError()
	}
	if h := s.taskHandle(); h != nil {
		st.BreakerState = h.Breaker().State().String()
	}
	return st
}

// NextUpdateTime returns the published next fire, zero when unknown.
func (s *Scheduler) NextUpdateTime() time.Time {
	if state := s.scheduleState(); state != nil {
		return state.NextUpdate()
	}
	return time.Time{}
}

// LastUpdateTime returns the previous successful fire, zero when unknown.
func (s *Scheduler) LastUpdateTime() time.Time {
	if state := s.scheduleState(); state != nil {
		return state.LastUpdate()
	}
	return time.Time{}
}

func (s *Scheduler) config() SchedulingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) scheduleState() *ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) taskHandle() *supervisor.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Scheduler) persist(ctx context.Context) {
	state := s.scheduleState()
	if state == nil {
		return
	}
	cfg := s.config()
	if err := s.store.Save(ctx, state.Snapshot(), &cfg); err != nil {
		logger.Error(ctx, "Failed to persist scheduler state", tag.Error(err))
	}
}

// body is the cooperative scheduler loop run under the supervisor.
func (s *Scheduler) body(ctx context.Context) error {
	state := s.scheduleState()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now := s.clock.Now()

		if s.backoffActive(now) {
			logger.Debug(ctx, "Failure backoff active", tag.Failures(state.ConsecutiveFailures()))
			if s.wait(ctx, backoffWait) == waitShutdown {
				return ctx.Err()
			}
			continue
		}

		next := NextUpdate(s.config(), state.LastUpdate(), now)
		if !IsValidSchedule(next, now) {
			logger.Warn(ctx, "Computed next update is not schedulable, deferring",
				tag.NextRun(next))
			next = now.Add(fallbackDelay)
		}
		state.SetNextUpdate(next)
		logger.Info(ctx, "Waiting for next update", tag.NextRun(next))

		switch s.wait(ctx, next.Sub(now)) {
		case waitShutdown:
			return ctx.Err()
		case waitRefresh:
			continue
		}

		if err := s.triggerUpdate(ctx); err != nil {
			// Raised to the supervisor, which re-enters the loop after
			// its own delay; backoffActive then paces retries.
			return err
		}
	}
}

// backoffActive reports whether the loop should hold off after repeated
// definitive failures: 2^min(failures, 6) hours since the last failure.
func (s *Scheduler) backoffActive(now time.Time) bool {
	state := s.scheduleState()
	failures := state.ConsecutiveFailures()
	if failures < backoffThreshold {
		return false
	}
	lastFailure := state.LastFailure()
	if lastFailure.IsZero() {
		return false
	}
	exp := failures
	if exp > backoffMaxExponent {
		exp = backoffMaxExponent
	}
	hold := time.Duration(1<<uint(exp)) * time.Hour
	return now.Before(lastFailure.Add(hold))
}

// wait sleeps for d in heartbeat-sized chunks. It returns early on
// shutdown or on a Refresh signal; every chunk boundary stamps the task
// heartbeat so the supervisor sees the loop alive through long waits.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) waitResult {
	handle := s.taskHandle()
	remaining := d

	for {
		if remaining <= 0 {
			if handle != nil {
				handle.Heartbeat()
			}
			return waitElapsed
		}
		chunk := remaining
		if chunk > heartbeatChunk {
			chunk = heartbeatChunk
		}
		timer := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waitShutdown
		case <-s.refreshCh:
			timer.Stop()
			if handle != nil {
				handle.Heartbeat()
			}
			return waitRefresh
		case <-timer.C:
			remaining -= chunk
			if handle != nil {
				handle.Heartbeat()
			}
		}
	}
}

// retrySleep waits between in-run attempts, chunked for heartbeats but
// not interruptible by Refresh.
func (s *Scheduler) retrySleep(ctx context.Context, d time.Duration) bool {
	handle := s.taskHandle()
	remaining := d
	for {
		if remaining <= 0 {
			return true
		}
		chunk := remaining
		if chunk > heartbeatChunk {
			chunk = heartbeatChunk
		}
		timer := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
			remaining -= chunk
			if handle != nil {
				handle.Heartbeat()
			}
		}
	}
}

// triggerUpdate executes one scheduled fire with retries. last_update is
// advanced to the captured scheduled time and next_update recomputed
// before each callback invocation, so any embed rendered during the run
// already shows the upcoming fire.
func (s *Scheduler) triggerUpdate(ctx context.Context) error {
	state := s.scheduleState()
	handle := s.taskHandle()
	cfg := s.config()
	policy := s.opts.Policy
	runID := uuid.Must(uuid.NewV7()).String()
	ctx = logger.WithValues(ctx, tag.RunID(runID))

	if handle != nil && !handle.Breaker().ShouldAllow() {
		handle.Audit(ctx, "update_blocked", "circuit breaker open")
		return &core.SchedulingError{Reason: "update blocked by circuit breaker"}
	}

	now := s.clock.Now()
	if handle != nil {
		handle.Metrics().Attempt(now)
	}

	scheduledTime := state.NextUpdate()
	if scheduledTime.IsZero() {
		scheduledTime = now
	}

	var lastErr error
	var lastKind core.ErrorKind
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if !s.retrySleep(ctx, policy.Delay(attempt-1)) {
				break
			}
		}

		// Publish the new timestamps before the callback runs.
		now = s.clock.Now()
		state.SetLastUpdate(scheduledTime)
		state.SetNextUpdate(NextUpdate(cfg, scheduledTime, now))

		logger.Info(ctx, "Running update", tag.Attempt(attempt), tag.ScheduledTime(scheduledTime))
		err := s.runUpdate(ctx)
		if err == nil {
			state.RecordSuccess()
			if handle != nil {
				handle.Breaker().RecordSuccess()
				handle.Metrics().Success(s.clock.Now())
				handle.Audit(ctx, "update_completed", "")
			}
			s.persist(ctx)
			return nil
		}

		lastErr = err
		lastKind = core.Classify(err)
		logger.Error(ctx, "Update attempt failed",
			tag.Attempt(attempt), tag.Kind(lastKind.String()), tag.Error(err))
		if lastKind == core.KindPermanent {
			break
		}
	}

	now = s.clock.Now()
	state.RecordFailure(now, lastErr)
	if handle != nil {
		handle.Breaker().RecordFailure()
		handle.Metrics().Failure(now, lastKind)
		msg := ""
		if lastErr != nil {
			msg = lastErr.Error()
		}
		handle.Audit(ctx, "update_failed", msg)
	}
	s.persist(ctx)
	return fmt.Errorf("update failed after %d attempt(s): %w", policy.MaxAttempts, lastErr)
}

func (s *Scheduler) runUpdate(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, s.opts.UpdateTimeout)
	defer cancel()
	return s.update(runCtx)
}
