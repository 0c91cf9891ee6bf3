// Package dispatch holds the pure scheduling rules of the execution engine:
// the retry/backoff policy and the delay queue that feeds retrying tasks
// back to the batch scheduler.
package dispatch

import (
	"errors"
	"time"
)

// ErrInvalidBaseDelay indicates the configured backoff base delay is not positive.
var ErrInvalidBaseDelay = errors.New("base delay must be positive")

// Outcome describes what the retry policy decided for a failed attempt.
type Outcome string

const (
	// OutcomeRetry schedules the task for another pipeline pass after a delay.
	OutcomeRetry Outcome = "retry"
	// OutcomeFail marks the task terminally failed.
	OutcomeFail Outcome = "fail"
)

// maxBackoffShift caps the exponent so the delay computation cannot overflow.
const maxBackoffShift = 16

// RetryPolicy computes exponential backoff delays for recoverable task failures.
type RetryPolicy struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRetryPolicy constructs a RetryPolicy. maxDelay caps the exponential
// growth; zero means no cap beyond the overflow guard.
func NewRetryPolicy(baseDelay, maxDelay time.Duration) (*RetryPolicy, error) {
	if baseDelay <= 0 {
		return nil, ErrInvalidBaseDelay
	}
	return &RetryPolicy{baseDelay: baseDelay, maxDelay: maxDelay}, nil
}

// Decision captures the outcome of resolving a failed attempt.
type Decision struct {
	Outcome  Outcome
	Attempts int           // attempt count after this failure
	Delay    time.Duration // backoff delay, zero when Outcome is OutcomeFail
}

// Resolve decides retry-vs-fail for a task that has already made `attempts`
// attempts and just failed another one.
func (p *RetryPolicy) Resolve(attempts, maxRetries int) Decision {
	next := attempts + 1
	if next >= maxRetries {
		return Decision{Outcome: OutcomeFail, Attempts: next}
	}
	return Decision{Outcome: OutcomeRetry, Attempts: next, Delay: p.Delay(attempts)}
}

// Delay returns the backoff delay after the given number of completed attempts:
// 2^attempts * baseDelay, capped at maxDelay.
func (p *RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	shift := attempts
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := p.baseDelay << uint(shift)
	if p.maxDelay > 0 && d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}
