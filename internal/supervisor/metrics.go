package supervisor

import (
	"sync"
	"time"

	"github.com/chartd-org/chartd/internal/core"
)

// Metrics accumulates attempt outcomes for one supervised task.
type Metrics struct {
	mu sync.Mutex

	totalAttempts  int64
	totalSuccesses int64
	totalFailures  int64
	byKind         map[core.ErrorKind]int64

	consecutiveFailures  int
	consecutiveSuccesses int

	lastAttempt time.Time
	lastSuccess time.Time
	lastFailure time.Time
}

// MetricsSnapshot is an immutable copy of a task's metrics.
type MetricsSnapshot struct {
	TotalAttempts  int64            `json:"totalAttempts"`
	TotalSuccesses int64            `json:"totalSuccesses"`
	TotalFailures  int64            `json:"totalFailures"`
	ByKind         map[string]int64 `json:"byKind,omitempty"`

	ConsecutiveFailures  int `json:"consecutiveFailures"`
	ConsecutiveSuccesses int `json:"consecutiveSuccesses"`

	LastAttempt time.Time `json:"lastAttempt,omitzero"`
	LastSuccess time.Time `json:"lastSuccess,omitzero"`
	LastFailure time.Time `json:"lastFailure,omitzero"`
}

// NewMetrics returns an empty metrics record.
func NewMetrics() *Metrics {
	return &Metrics{byKind: make(map[core.ErrorKind]int64)}
}

// Attempt records the start of an attempt at now.
func (m *Metrics) Attempt(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalAttempts++
	m.lastAttempt = now
}

// Success records a successful attempt at now.
func (m *Metrics) Success(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSuccesses++
	m.consecutiveSuccesses++
	m.consecutiveFailures = 0
	m.lastSuccess = now
}

// Failure records a failed attempt at now, bucketed by kind.
func (m *Metrics) Failure(now time.Time, kind core.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFailures++
	m.consecutiveFailures++
	m.consecutiveSuccesses = 0
	m.byKind[kind]++
	m.lastFailure = now
}

// ConsecutiveFailures returns the current failure run length.
func (m *Metrics) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// Snapshot returns a copy safe to hand to readers.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var byKind map[string]int64
	if len(m.byKind) > 0 {
		byKind = make(map[string]int64, len(m.byKind))
		for k, v := range m.byKind {
			byKind[k.String()] = v
		}
	}
	return MetricsSnapshot{
		TotalAttempts:        m.totalAttempts,
		TotalSuccesses:       m.totalSuccesses,
		TotalFailures:        m.totalFailures,
		ByKind:               byKind,
		ConsecutiveFailures:  m.consecutiveFailures,
		ConsecutiveSuccesses: m.consecutiveSuccesses,
		LastAttempt:          m.lastAttempt,
		LastSuccess:          m.lastSuccess,
		LastFailure:          m.lastFailure,
	}
}
