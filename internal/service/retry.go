package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	domainjob "github.com/target/jobengine/internal/domain/job"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
	"github.com/target/jobengine/internal/observability/metrics"
	"github.com/target/jobengine/internal/observability/statsd"
	"github.com/target/jobengine/internal/service/failurenotifier"
)

// RetryControllerOptions groups dependencies for RetryController.
type RetryControllerOptions struct {
	Jobs            *JobService              // Required: job service owning the mutations
	Policy          *domainjob.RetryPolicy   // Optional: defaults to linear backoff with BaseDelay
	BaseDelay       time.Duration            // Optional: linear backoff step (default 60s)
	FailureNotifier *failurenotifier.Service // Optional: failure notification fan-out
	Logger          *slog.Logger             // Optional: structured logger
	Metrics         statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// RetryController decides what happens to a job after a failed attempt.
type RetryController struct {
	jobs            *JobService
	policy          *domainjob.RetryPolicy
	failureNotifier *failurenotifier.Service
	logger          *slog.Logger
	metrics         statsd.Sink
}

// RetryOutcome reports what the controller did with a failed job.
type RetryOutcome struct {
	Job      *model.Job
	Decision domainjob.RetryDecision
	// Exhausted carries the retry_exhausted signal when no retries were left.
	Exhausted error
}

// NewRetryController constructs a RetryController.
func NewRetryController(opts RetryControllerOptions) (*RetryController, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}

	policy := opts.Policy
	if policy == nil {
		step := opts.BaseDelay
		if step <= 0 {
			step = domainjob.DefaultRetryBase
		}
		policy = domainjob.NewRetryPolicy(domainjob.LinearBackoff{Step: step})
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryController{
		jobs:            opts.Jobs,
		policy:          policy,
		failureNotifier: opts.FailureNotifier,
		logger:          logger.With("component", "retry_controller"),
		metrics:         opts.Metrics,
	}, nil
}

// HandleFailure requeues a failed job with linear backoff, or raises the retry_exhausted
// signal when its budget is spent. cause is the error that failed the attempt.
func (c *RetryController) HandleFailure(ctx context.Context, id string, cause error) (RetryOutcome, error) {
	var decision domainjob.RetryDecision
	job, requeued, err := c.jobs.transition(ctx, id, nil, model.EventJobRetry,
		func(j *model.Job, now time.Time) (bool, error) {
			if j.Status != model.JobStatusFailed {
				decision = domainjob.RetryDecision{Reason: fmt.Sprintf("job is %s", j.Status)}
				return false, nil
			}
			d, err := c.policy.Apply(j, now)
			decision = d
			return d.Retry, err
		})
	if err != nil {
		return RetryOutcome{}, fmt.Errorf("retry job %s: %w", id, err)
	}

	outcome := RetryOutcome{Job: job, Decision: decision}
	if requeued {
		c.logger.InfoContext(ctx, "job scheduled for retry",
			"id", id,
			"type", job.Type,
			"retry_count", job.RetryCount,
			"max_retries", job.MaxRetries,
			"delay", decision.Delay,
		)
		metrics.EmitJobLifecycle(c.metrics, metrics.JobMetric{
			JobType:    string(job.Type),
			Transition: "retry",
			Priority:   job.Priority.String(),
			Result:     metrics.ResultSuccess,
		})
		return outcome, nil
	}

	if job.Status != model.JobStatusFailed {
		return outcome, nil
	}

	outcome.Exhausted = apperrors.RetryExhausted(job.ID, job.MaxRetries)
	c.logger.WarnContext(ctx, "job failed permanently",
		"id", id,
		"type", job.Type,
		"owner", job.Owner,
		"retry_count", job.RetryCount,
		"max_retries", job.MaxRetries,
		"error", outcome.Exhausted,
	)
	metrics.EmitCounter(c.metrics, metrics.MetricRetryExhausted, string(job.Type))

	if c.failureNotifier.Enabled() {
		payload := failurenotifier.PayloadFromJob(job, cause, c.jobs.clock.Now().UTC())
		c.failureNotifier.NotifyJobFailure(ctx, payload)
	}
	return outcome, nil
}
