// Package breaker implements the per-task circuit breaker that gates
// update attempts after sustained failure.
package breaker

import (
	"sync"
	"time"

	"github.com/chartd-org/chartd/internal/clock"
)

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the canonical lowercase token.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Settings are the thresholds that drive the state machine.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the consecutive-success count that closes it from half-open.
	SuccessThreshold int
	// RecoveryTimeout is how long the breaker stays open before admitting a probe.
	RecoveryTimeout time.Duration
}

// Transition describes a state change, reported to the audit stream.
type Transition struct {
	Name string
	From State
	To   State
	At   time.Time
}

// Breaker is a Closed/Open/HalfOpen state machine for one named task.
type Breaker struct {
	name     string
	settings Settings
	clock    clock.Clock
	onChange func(Transition)

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	lastTest             time.Time
	probeInFlight        bool
}

// New builds a closed breaker. onChange may be nil.
func New(name string, settings Settings, clk clock.Clock, onChange func(Transition)) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings,
		clock:    clk,
		onChange: onChange,
	}
}

// State returns the current position without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure run length.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// OpenedAt returns when the breaker opened, zero if it is not open.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// LastTest returns when the breaker last admitted a half-open probe.
func (b *Breaker) LastTest() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTest
}

// ShouldAllow reports whether an attempt may proceed. An open breaker whose
// recovery timeout has elapsed moves to half-open and admits a single probe;
// further calls are denied until that probe reports its outcome.
func (b *Breaker) ShouldAllow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case Closed:
		return true
	case Open:
		if now.Sub(b.openedAt) >= b.settings.RecoveryTimeout {
			b.transition(HalfOpen, now)
			b.lastTest = now
			b.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.lastTest = now
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful attempt.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.consecutiveFailures = 0

	switch b.state {
	case HalfOpen:
		b.probeInFlight = false
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.settings.SuccessThreshold {
			b.openedAt = time.Time{}
			b.transition(Closed, now)
		}
	case Closed:
		b.consecutiveSuccesses++
	case Open:
		// A success reported while open can only come from an attempt that
		// started before the breaker tripped; keep the breaker open.
	}
}

// RecordFailure reports a failed attempt.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.consecutiveSuccesses = 0
	b.consecutiveFailures++

	switch b.state {
	case Closed:
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			b.openedAt = now
			b.transition(Open, now)
		}
	case HalfOpen:
		b.probeInFlight = false
		b.openedAt = now
		b.transition(Open, now)
	case Open:
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State, at time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to != HalfOpen {
		b.consecutiveSuccesses = 0
	}
	if b.onChange != nil {
		// Callback runs under the lock; keep handlers cheap and non-reentrant.
		b.onChange(Transition{Name: b.name, From: from, To: to, At: at})
	}
}
