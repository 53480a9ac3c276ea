package job

import (
	"time"

	"github.com/target/jobengine/internal/domain/model"
)

// DefaultRetryBase is the per-retry step of the linear backoff.
const DefaultRetryBase = 60 * time.Second

// BackoffStrategy computes the delay before retry attempt n (1-indexed).
type BackoffStrategy interface {
	Delay(attempt int) time.Duration
}

// LinearBackoff waits Step*attempt before each retry.
type LinearBackoff struct {
	Step time.Duration
}

// Delay returns Step * attempt.
func (l LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return l.Step * time.Duration(attempt)
}

// RetryDecision is the outcome of evaluating a failed job against its retry budget.
type RetryDecision struct {
	Retry  bool
	Delay  time.Duration
	RunAt  time.Time
	Reason string
}

// RetryPolicy decides whether and when a failed job runs again.
type RetryPolicy struct {
	strategy BackoffStrategy
}

// NewRetryPolicy builds a policy; a nil strategy falls back to LinearBackoff with DefaultRetryBase.
func NewRetryPolicy(strategy BackoffStrategy) *RetryPolicy {
	if strategy == nil {
		strategy = LinearBackoff{Step: DefaultRetryBase}
	}
	return &RetryPolicy{strategy: strategy}
}

// Decide evaluates j, which must be failed. The delay is computed for the retry count the job
// will have after requeueing, so the first retry waits one step.
//
// RetryCount on j is the count before this failure is requeued. With the default 60s step:
//
//	RetryCount before | RetryCount after | delay
//	0                 | 1                | 60s
//	1                 | 2                | 120s
//	2                 | 3                | 180s
//
// A job described by its post-increment count n therefore waits n steps: a job that ends up
// with RetryCount 2 is scheduled at now+120s.
func (p *RetryPolicy) Decide(j *model.Job, now time.Time) RetryDecision {
	if !CanRetry(j) {
		return RetryDecision{Reason: "retries exhausted"}
	}
	delay := p.strategy.Delay(j.RetryCount + 1)
	return RetryDecision{
		Retry: true,
		Delay: delay,
		RunAt: now.Add(delay),
	}
}

// Apply requeues j when the decision allows it.
func (p *RetryPolicy) Apply(j *model.Job, now time.Time) (RetryDecision, error) {
	d := p.Decide(j, now)
	if !d.Retry {
		return d, nil
	}
	if err := Requeue(j, d.RunAt, now); err != nil {
		return RetryDecision{}, err
	}
	return d, nil
}
