// Package backoff defines the retry policy shared by the task supervisor,
// the scheduler's in-run retry loop and the circuit breaker thresholds.
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrRetriesExhausted is returned when the maximum number of attempts has been reached.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RetryPolicy bundles the retry curve with the circuit breaker thresholds
// that decide when retrying stops being worthwhile.
type RetryPolicy struct {
	// MaxAttempts is the number of attempts per run, including the first.
	MaxAttempts int `json:"maxAttempts"`
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration `json:"baseDelay"`
	// MaxDelay caps the exponential curve.
	MaxDelay time.Duration `json:"maxDelay"`
	// ExponentialBase is the factor the delay grows by per attempt.
	ExponentialBase float64 `json:"exponentialBase"`
	// Jitter spreads delays by a uniform factor in [0.75, 1.25].
	Jitter bool `json:"jitter"`

	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int `json:"failureThreshold"`
	// SuccessThreshold is the consecutive-success count that closes a half-open breaker.
	SuccessThreshold int `json:"successThreshold"`
	// RecoveryTimeout is how long an open breaker waits before admitting a probe.
	RecoveryTimeout time.Duration `json:"recoveryTimeout"`
}

// DefaultPolicy returns the policy used for the update task when the
// configuration does not override it.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		BaseDelay:        30 * time.Second,
		MaxDelay:         10 * time.Minute,
		ExponentialBase:  2.0,
		Jitter:           true,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  10 * time.Minute,
	}
}

// Validate rejects non-positive or inverted fields.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("max attempts must be at least 1")
	case p.BaseDelay < 0:
		return errors.New("base delay must not be negative")
	case p.MaxDelay < p.BaseDelay:
		return errors.New("max delay must not be below base delay")
	case p.ExponentialBase < 1:
		return errors.New("exponential base must be at least 1")
	case p.FailureThreshold < 1:
		return errors.New("failure threshold must be at least 1")
	case p.SuccessThreshold < 1:
		return errors.New("success threshold must be at least 1")
	case p.RecoveryTimeout <= 0:
		return errors.New("recovery timeout must be positive")
	}
	return nil
}

// Delay returns the wait before retry k, where k counts completed failures:
// Delay(1) precedes the second attempt. The curve is
// min(BaseDelay × ExponentialBase^(k−1), MaxDelay), jittered by a uniform
// factor in [0.75, 1.25] when enabled. k < 1 yields zero.
func (p RetryPolicy) Delay(k int) time.Duration {
	if k < 1 {
		return 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(k-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.75 + rand.Float64()*0.5
	}
	return time.Duration(d)
}
