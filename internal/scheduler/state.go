package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/chartd-org/chartd/internal/stringutil"
)

// ScheduleState is the scheduler's mutable record. The scheduler task is
// the only writer; other components read through the accessors, which
// return copies.
type ScheduleState struct {
	mu sync.Mutex

	lastUpdate          time.Time
	nextUpdate          time.Time
	isRunning           bool
	consecutiveFailures int
	lastFailure         time.Time
	lastError           string
}

// StateSnapshot is an immutable copy of a ScheduleState. Absent timestamps
// are nil pointers so the persisted JSON can omit them.
type StateSnapshot struct {
	LastUpdate          *time.Time
	NextUpdate          *time.Time
	IsRunning           bool
	ConsecutiveFailures int
	LastFailure         *time.Time
	LastError           string
}

// NewScheduleState returns an empty state.
func NewScheduleState() *ScheduleState {
	return &ScheduleState{}
}

// FromSnapshot rebuilds a ScheduleState from a persisted snapshot.
func FromSnapshot(snap StateSnapshot) *ScheduleState {
	st := &ScheduleState{
		isRunning:           snap.IsRunning,
		consecutiveFailures: snap.ConsecutiveFailures,
		lastError:           snap.LastError,
	}
	if snap.LastUpdate != nil {
		st.lastUpdate = *snap.LastUpdate
	}
	if snap.NextUpdate != nil {
		st.nextUpdate = *snap.NextUpdate
	}
	if snap.LastFailure != nil {
		st.lastFailure = *snap.LastFailure
	}
	return st
}

// Snapshot returns a copy safe to hand to readers and the state store.
func (s *ScheduleState) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StateSnapshot{
		IsRunning:           s.isRunning,
		ConsecutiveFailures: s.consecutiveFailures,
		LastError:           s.lastError,
	}
	if !s.lastUpdate.IsZero() {
		t := s.lastUpdate
		snap.LastUpdate = &t
	}
	if !s.nextUpdate.IsZero() {
		t := s.nextUpdate
		snap.NextUpdate = &t
	}
	if !s.lastFailure.IsZero() {
		t := s.lastFailure
		snap.LastFailure = &t
	}
	return snap
}

// LastUpdate returns the last successful run time, zero when absent.
func (s *ScheduleState) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

// NextUpdate returns the planned next fire, zero when absent.
func (s *ScheduleState) NextUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextUpdate
}

// IsRunning reports whether the scheduler loop is active.
func (s *ScheduleState) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// ConsecutiveFailures returns the current failure run length.
func (s *ScheduleState) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// LastFailure returns the last failure time, zero when absent.
func (s *ScheduleState) LastFailure() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailure
}

// LastError returns the message of the last recorded failure.
func (s *ScheduleState) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// SetRunning marks the loop active or stopped.
func (s *ScheduleState) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isRunning = running
}

// SetLastUpdate records the run time the current fire is executing for.
// Set before the update callback runs so observers see the upcoming fire
// in NextUpdate, never the one in flight.
func (s *ScheduleState) SetLastUpdate(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = t
}

// SetNextUpdate publishes the planned next fire.
func (s *ScheduleState) SetNextUpdate(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUpdate = t
}

// RecordSuccess clears the failure run after a successful update.
func (s *ScheduleState) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.lastFailure = time.Time{}
	s.lastError = ""
}

// RecordFailure notes a definitive failure at now.
func (s *ScheduleState) RecordFailure(now time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	s.lastFailure = now
	if err != nil {
		s.lastError = stringutil.TruncString(err.Error(), 500)
	}
}

// ResetFailures clears the failure counters during recovery repair.
func (s *ScheduleState) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
	s.lastFailure = time.Time{}
	s.lastError = ""
}

// MissedFireReason explains why a fire was detected as missed.
type MissedFireReason string

const (
	// ReasonMissedScheduled marks a stored next_update that elapsed.
	ReasonMissedScheduled MissedFireReason = "missed_scheduled"
	// ReasonIntervalBackfill marks an interval boundary skipped between
	// the last update and now.
	ReasonIntervalBackfill MissedFireReason = "interval_backfill"
	// ReasonDowntime marks a fixed-time fire lost to process downtime.
	ReasonDowntime MissedFireReason = "downtime"
)

// MissedFire is a scheduled instant that elapsed while the process was
// down or the loop was wedged.
type MissedFire struct {
	ScheduledTime time.Time        `json:"scheduledTime"`
	DetectedAt    time.Time        `json:"detectedAt"`
	Reason        MissedFireReason `json:"reason"`
}

// StateStore persists the scheduler state together with the schedule
// config it was written under. Implementations must write atomically and
// survive corrupt records by backing them up and returning defaults.
type StateStore interface {
	Save(ctx context.Context, state StateSnapshot, config *SchedulingConfig) error
	Load(ctx context.Context) (StateSnapshot, *SchedulingConfig, error)
	Exists() bool
	Delete() error
}
