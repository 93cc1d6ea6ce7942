package worker

import (
	"time"

	"github.com/tavari/mail-engine/internal/domain"
)

// Retry policy defaults. At most 1 + DefaultMaxRetries total attempts.
const (
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxRetries = 3
)

// RetryPolicy computes the next attempt for a task that failed with a
// transient error. It is a pure function of its inputs, with no clock reads
// and no hidden state, so it is independently testable.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultRetryPolicy returns the standard backoff policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// NextAttempt is the retry scheduler's verdict for one failed attempt.
type NextAttempt struct {
	Status       domain.TaskStatus
	RetryCount   int
	ScheduledFor time.Time
}

// NextAttempt computes the outcome of a transient failure for a task with
// the given retry count. Delay grows as base<<retryCount capped at MaxDelay;
// once retries are exhausted the task fails terminally.
func (p RetryPolicy) NextAttempt(retryCount int, now time.Time) NextAttempt {
	if retryCount+1 > p.MaxRetries {
		return NextAttempt{Status: domain.TaskFailed, RetryCount: retryCount}
	}

	delay := p.BaseDelay << uint(retryCount)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return NextAttempt{
		Status:       domain.TaskQueued,
		RetryCount:   retryCount + 1,
		ScheduledFor: now.Add(delay),
	}
}
