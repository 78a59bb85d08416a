package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind buckets an error by how callers should react to it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindRateLimited
	KindPermanent
)

// String returns the canonical lowercase token.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Retriable reports whether an error of this kind is worth retrying.
func (k ErrorKind) Retriable() bool {
	return k == KindTransient || k == KindRateLimited
}

// Kinder is implemented by errors that know their own classification.
type Kinder interface {
	Kind() ErrorKind
}

// ConfigError reports an invalid, missing or unwritable configuration value.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error   { return e.Err }
func (e *ConfigError) Kind() ErrorKind { return KindPermanent }

// NewConfigError builds a ConfigError for key with a reason.
func NewConfigError(key, reason string) *ConfigError {
	return &ConfigError{Key: key, Reason: reason}
}

// StateError reports a failure reading or writing the persisted state.
type StateError struct {
	Op   string
	Path string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// SchedulingError reports calculator misuse or an impossible schedule.
type SchedulingError struct {
	Reason string
}

func (e *SchedulingError) Error() string   { return "scheduling: " + e.Reason }
func (e *SchedulingError) Kind() ErrorKind { return KindPermanent }

// RenderError reports a single graph that failed to render.
type RenderError struct {
	Graph string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Graph, e.Err)
}

func (e *RenderError) Unwrap() error   { return e.Err }
func (e *RenderError) Kind() ErrorKind { return KindTransient }

// UploadError reports artifact validation failures or denial by the chat
// service. Kind defaults to transient; zero-valid-files runs construct it
// permanent so the scheduler will not retry them.
type UploadError struct {
	Reason string
	kind   ErrorKind
}

// NewUploadError builds an UploadError with an explicit classification.
func NewUploadError(reason string, kind ErrorKind) *UploadError {
	return &UploadError{Reason: reason, kind: kind}
}

func (e *UploadError) Error() string { return "upload: " + e.Reason }

func (e *UploadError) Kind() ErrorKind {
	if e.kind == KindUnknown {
		return KindTransient
	}
	return e.kind
}

// PermissionError reports a chat-service denial such as a closed DM or a
// missing guild permission.
type PermissionError struct {
	Action string
}

func (e *PermissionError) Error() string   { return "permission denied: " + e.Action }
func (e *PermissionError) Kind() ErrorKind { return KindPermanent }

// ServiceError reports a failure from an external service call.
type ServiceError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

func (e *ServiceError) Kind() ErrorKind {
	if e.StatusCode != 0 {
		return KindFromHTTPStatus(e.StatusCode)
	}
	return KindUnknown
}

// KindFromHTTPStatus maps an HTTP status code to an error kind.
func KindFromHTTPStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout:
		return KindTransient
	case code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusNotFound,
		code == http.StatusBadRequest,
		code == http.StatusUnprocessableEntity:
		return KindPermanent
	case code >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

var (
	rateLimitedHints = []string{
		"rate limit", "too many requests", "quota", "throttl",
	}
	permanentHints = []string{
		"unauthorized", "forbidden", "not found", "bad request",
		"invalid token", "invalid api key", "permission denied", "unknown key",
	}
	transientHints = []string{
		"timeout", "timed out", "deadline exceeded", "connection refused",
		"connection reset", "broken pipe", "no such host", "dns",
		"temporarily unavailable", "service unavailable", "bad gateway",
		"gateway timeout", "internal server error", "try again",
	}
)

// Classify maps err to an ErrorKind. Typed errors win; untyped errors are
// matched on network error traits and message heuristics. The result is
// advisory; callers decide policy.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	// Cancellation is not retriable; timeouts are.
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var kinder Kinder
	if errors.As(err, &kinder) {
		if k := kinder.Kind(); k != KindUnknown {
			return k
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range rateLimitedHints {
		if strings.Contains(msg, hint) {
			return KindRateLimited
		}
	}
	for _, hint := range permanentHints {
		if strings.Contains(msg, hint) {
			return KindPermanent
		}
	}
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return KindTransient
		}
	}

	return KindUnknown
}
