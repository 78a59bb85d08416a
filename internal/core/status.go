// Package core holds the domain types shared across packages: task
// lifecycle states, the error taxonomy, and error classification.
package core

// TaskStatus represents the canonical lifecycle phases for a supervised task.
type TaskStatus int

const (
	TaskIdle TaskStatus = iota
	TaskRunning
	TaskFailed
	TaskCancelled
)

// String returns the canonical lowercase token used across logs and the
// health endpoint.
func (s TaskStatus) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	case TaskIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// IsActive checks if the task is currently executing.
func (s TaskStatus) IsActive() bool {
	return s == TaskRunning
}
