// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention for consistency.
// Use these functions instead of raw strings to ensure consistent
// and type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Core identification tags

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Task creates a tag for supervised task names.
func Task(name string) slog.Attr {
	return slog.String("task", name)
}

// RunID creates a tag for update run identifiers.
func RunID(id string) slog.Attr {
	return slog.String("run-id", id)
}

// Attempt creates a tag for attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Event creates a tag for audit event names.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Graph creates a tag for graph type keys.
func Graph(kind string) slog.Attr {
	return slog.String("graph", kind)
}

// User creates a tag for chat user names.
func User(name string) slog.Attr {
	return slog.String("user", name)
}

// UserID creates a tag for chat user identifiers.
func UserID(id string) slog.Attr {
	return slog.String("user-id", id)
}

// Channel creates a tag for chat channel identifiers.
func Channel(id string) slog.Attr {
	return slog.String("channel", id)
}

// Command creates a tag for slash command names.
func Command(name string) slog.Attr {
	return slog.String("command", name)
}

// Configuration and file tags

// Key creates a tag for configuration key names.
func Key(key string) slog.Attr {
	return slog.String("key", key)
}

// Value creates a tag for configuration values.
func Value(v string) slog.Attr {
	return slog.String("value", v)
}

// Path creates a tag for filesystem paths.
func Path(path string) slog.Attr {
	return slog.String("path", path)
}

// File creates a tag for file names.
func File(name string) slog.Attr {
	return slog.String("file", name)
}

// URL creates a tag for request URLs.
func URL(u string) slog.Attr {
	return slog.String("url", u)
}

// Port creates a tag for network ports.
func Port(port int) slog.Attr {
	return slog.Int("port", port)
}

// Scheduling tags

// NextRun creates a tag for the next scheduled fire.
func NextRun(t time.Time) slog.Attr {
	return slog.Time("next-run", t)
}

// LastRun creates a tag for the previous successful fire.
func LastRun(t time.Time) slog.Attr {
	return slog.Time("last-run", t)
}

// ScheduledTime creates a tag for the instant a fire was planned for.
func ScheduledTime(t time.Time) slog.Attr {
	return slog.Time("scheduled-time", t)
}

// Message creates a tag for free-form event messages.
func Message(msg string) slog.Attr {
	return slog.String("message", msg)
}

// Reason creates a tag for missed-fire and repair reasons.
func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

// State creates a tag for state machine states.
func State(state string) slog.Attr {
	return slog.String("state", state)
}

// Status creates a tag for task statuses.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Failures creates a tag for consecutive failure counts.
func Failures(n int) slog.Attr {
	return slog.Int("failures", n)
}

// Measurement tags

// Count creates a tag for generic counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Size creates a tag for byte sizes.
func Size(n int64) slog.Attr {
	return slog.Int64("size", n)
}

// Duration creates a tag for durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Took creates a tag for elapsed wall time.
func Took(d time.Duration) slog.Attr {
	return slog.Duration("took", d)
}

// Version creates a tag for version strings.
func Version(v string) slog.Attr {
	return slog.String("version", v)
}

// Kind creates a tag for error classification kinds.
func Kind(kind string) slog.Attr {
	return slog.String("kind", kind)
}
