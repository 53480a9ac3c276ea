package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/target/jobengine/internal/core"
	domainjob "github.com/target/jobengine/internal/domain/job"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
	obserrors "github.com/target/jobengine/internal/observability/errors"
	"github.com/target/jobengine/internal/observability/metrics"
	"github.com/target/jobengine/internal/observability/statsd"
)

// tracerName is the instrumentation scope name for job execution tracing.
const tracerName = "github.com/target/jobengine"

// SpanJobExecute names the span wrapping one handler invocation.
const SpanJobExecute = "jobengine.job.execute"

// DefaultCandidateLimit bounds how many eligible jobs one dispatch attempt considers.
const DefaultCandidateLimit = 10

// LeaseOptions enable claim-with-lease dispatch.
type LeaseOptions struct {
	Policy   *domainjob.LeasePolicy // Required: lease duration policy
	WorkerID string                 // Optional: lease owner (random when empty)
}

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Jobs           *JobService                    // Required: job service owning the mutations
	Retry          *RetryController               // Required: retry controller
	Handlers       map[model.JobType]core.Handler // Optional: handlers by job type
	Types          []model.JobType                // Optional: restrict dispatch to these types
	HandlerTimeout time.Duration                  // Optional: bound on one handler invocation
	CandidateLimit int                            // Optional: eligible jobs examined per dispatch
	Lease          *LeaseOptions                  // Optional: enable claim-with-lease dispatch
	Tracer         trace.Tracer                   // Optional: defaults to the global tracer provider
	Logger         *slog.Logger                   // Optional: structured logger
	Metrics        statsd.Sink                    // Optional: metrics sink (StatsD-compatible)
}

// Dispatcher picks the next eligible job, runs its handler and records the outcome.
type Dispatcher struct {
	jobs           *JobService
	retry          *RetryController
	handlers       map[model.JobType]core.Handler
	types          []model.JobType
	handlerTimeout time.Duration
	candidateLimit int
	lease          *LeaseOptions
	tracer         trace.Tracer
	logger         *slog.Logger
	metrics        statsd.Sink
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Retry == nil {
		return nil, errors.New("RetryController is required")
	}

	var lease *LeaseOptions
	if opts.Lease != nil {
		if opts.Lease.Policy == nil {
			return nil, errors.New("lease policy is required when leasing is enabled")
		}
		if _, ok := opts.Jobs.store.(core.JobLeaser); !ok {
			return nil, errors.New("job store does not support leasing")
		}
		lease = &LeaseOptions{Policy: opts.Lease.Policy, WorkerID: opts.Lease.WorkerID}
		if lease.WorkerID == "" {
			lease.WorkerID = uuid.NewString()
		}
	}

	handlers := make(map[model.JobType]core.Handler, len(opts.Handlers))
	for t, h := range opts.Handlers {
		if h != nil {
			handlers[t] = h
		}
	}

	limit := opts.CandidateLimit
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		jobs:           opts.Jobs,
		retry:          opts.Retry,
		handlers:       handlers,
		types:          opts.Types,
		handlerTimeout: opts.HandlerTimeout,
		candidateLimit: limit,
		lease:          lease,
		tracer:         tracer,
		logger:         logger.With("component", "dispatcher"),
		metrics:        opts.Metrics,
	}, nil
}

// MustNewDispatcher constructs a Dispatcher and panics on error.
func MustNewDispatcher(opts DispatcherOptions) *Dispatcher {
	d, err := NewDispatcher(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Dispatcher: %v", err))
	}
	return d
}

// Register adds or replaces the handler for a job type. It must not race with DispatchNext.
func (d *Dispatcher) Register(t model.JobType, h core.Handler) {
	d.handlers[t] = h
}

// DispatchNext starts the best eligible job, runs its handler and returns the job in its
// resulting state. It returns nil, nil when nothing is eligible.
func (d *Dispatcher) DispatchNext(ctx context.Context) (*model.Job, error) {
	// The run is cancellable from the moment job:started is published.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, run, err := d.claim(ctx, cancel)
	if err != nil || job == nil {
		return nil, err
	}
	defer d.jobs.untrackRunning(job.ID, run)
	return d.execute(ctx, runCtx, job), nil
}

// claim starts the next job and registers cancel as its run before job:started is published.
func (d *Dispatcher) claim(ctx context.Context, cancel context.CancelFunc) (*model.Job, *runningJob, error) {
	if d.lease != nil {
		return d.claimWithLease(ctx, cancel)
	}

	now := d.jobs.clock.Now()
	candidates, err := d.jobs.store.QueryEligible(ctx, model.EligibleFilter{
		Now:   now,
		Types: d.types,
		Limit: d.candidateLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("query eligible jobs: %w", err)
	}

	for _, candidate := range candidates {
		var run *runningJob
		job, _, err := d.jobs.transitionThen(ctx, candidate.ID, candidate, model.EventJobStarted,
			func(j *model.Job, now time.Time) (bool, error) {
				if j.ScheduledAt != nil && j.ScheduledAt.After(now) {
					return false, errNotDue
				}
				return true, domainjob.Start(j, now)
			},
			func(j *model.Job) { run = d.jobs.trackRunning(j.ID, cancel) })
		switch {
		case err == nil:
			d.recordStart(ctx, job)
			return job, run, nil
		case errors.Is(err, errNotDue), apperrors.IsInvalidTransition(err),
			apperrors.IsConflict(err), apperrors.IsNotFound(err):
			d.logger.DebugContext(ctx, "skipping dispatch candidate", "id", candidate.ID, "reason", err)
			continue
		default:
			return nil, nil, fmt.Errorf("start job %s: %w", candidate.ID, err)
		}
	}
	return nil, nil, nil
}

var errNotDue = errors.New("job is scheduled in the future")

func (d *Dispatcher) claimWithLease(ctx context.Context, cancel context.CancelFunc) (*model.Job, *runningJob, error) {
	leaser, _ := d.jobs.store.(core.JobLeaser)
	decision := d.lease.Policy.Resolve(0)

	job, err := leaser.ClaimNext(ctx, model.ClaimRequest{
		Now:      d.jobs.clock.Now(),
		WorkerID: d.lease.WorkerID,
		Lease:    decision.Duration,
		Types:    d.types,
	})
	if errors.Is(err, model.ErrNoJobsAvailable) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("claim next job: %w", err)
	}

	run := d.jobs.trackRunning(job.ID, cancel)
	d.jobs.emitOrdered(ctx, model.EventJobStarted, job)
	d.recordStart(ctx, job)
	return job, run, nil
}

func (d *Dispatcher) recordStart(ctx context.Context, job *model.Job) {
	d.logger.DebugContext(ctx, "job started",
		"id", job.ID,
		"type", job.Type,
		"attempt", job.Attempt(),
	)
	metrics.EmitJobLifecycle(d.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: string(model.JobStatusProcessing),
		Priority:   job.Priority.String(),
		Result:     metrics.ResultSuccess,
	})
	if job.StartedAt != nil {
		eligibleSince := job.CreatedAt
		if job.ScheduledAt != nil && job.ScheduledAt.After(eligibleSince) {
			eligibleSince = *job.ScheduledAt
		}
		metrics.EmitQueueWait(d.metrics, string(job.Type), job.Priority.String(), job.StartedAt.Sub(eligibleSince))
	}
}

// execute runs the handler for a started job and applies the outcome.
// runCtx is cancelled when the job is cancelled.
func (d *Dispatcher) execute(ctx, runCtx context.Context, job *model.Job) *model.Job {
	// Outcomes are recorded even when the caller is shutting down.
	recordCtx := context.WithoutCancel(ctx)

	if runCtx.Err() != nil && ctx.Err() == nil {
		// Cancelled before the handler was invoked, e.g. by a job:started subscriber.
		return d.fail(recordCtx, job, runCtx.Err())
	}

	if d.handlerTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, d.handlerTimeout)
		defer cancelTimeout()
	}

	if d.lease != nil {
		stop := d.keepLease(runCtx, job.ID)
		defer stop()
	}

	output, err := d.invoke(runCtx, job)
	if err != nil {
		return d.fail(recordCtx, job, err)
	}
	return d.complete(recordCtx, job, output)
}

// invoke calls the handler inside the execution span, converting panics into handler errors.
func (d *Dispatcher) invoke(ctx context.Context, job *model.Job) (output json.RawMessage, err error) {
	ctx, span := d.tracer.Start(ctx, SpanJobExecute,
		trace.WithAttributes(
			attribute.String("jobengine.job.id", job.ID),
			attribute.String("jobengine.job.type", string(job.Type)),
			attribute.String("jobengine.job.owner", job.Owner),
			attribute.String("jobengine.job.priority", job.Priority.String()),
			attribute.Int("jobengine.job.attempt", job.Attempt()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	handler, ok := d.handlers[job.Type]
	if !ok {
		return nil, apperrors.Handler(fmt.Errorf("no handler registered for job type %q", job.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "job handler panicked",
				"id", job.ID,
				"type", job.Type,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			output = nil
			err = apperrors.Handler(fmt.Errorf("panic: %v", r))
		}
	}()

	output, err = handler.Handle(ctx, job.Clone(), d.jobs.Reporter(job.ID))
	if err != nil {
		return nil, apperrors.Handler(err)
	}
	return output, nil
}

func (d *Dispatcher) complete(ctx context.Context, job *model.Job, output json.RawMessage) *model.Job {
	done, _, err := d.jobs.transition(ctx, job.ID, nil, model.EventJobCompleted,
		func(j *model.Job, now time.Time) (bool, error) {
			if j.Status == model.JobStatusCancelled {
				return false, errCancelledWhileRunning
			}
			return true, domainjob.Complete(j, output, now)
		})
	if err != nil {
		return d.outcomeRejected(ctx, job, "completed", done, err)
	}

	d.logger.InfoContext(ctx, "job completed", "id", done.ID, "type", done.Type)
	metrics.EmitJobLifecycle(d.metrics, metrics.JobMetric{
		JobType:    string(done.Type),
		Transition: string(model.JobStatusCompleted),
		Priority:   done.Priority.String(),
		Result:     metrics.ResultSuccess,
		Duration:   runDuration(done),
	})
	return done
}

func (d *Dispatcher) fail(ctx context.Context, job *model.Job, cause error) *model.Job {
	info := domainjob.FailureInfo{
		Message: failureMessage(cause),
		Context: map[string]any{"error_class": obserrors.Classify(cause)},
	}
	if errors.Is(cause, context.DeadlineExceeded) && d.handlerTimeout > 0 {
		info.Context["timeout"] = d.handlerTimeout.String()
	}

	failed, _, err := d.jobs.transition(ctx, job.ID, nil, model.EventJobFailed,
		func(j *model.Job, now time.Time) (bool, error) {
			if j.Status == model.JobStatusCancelled {
				return false, errCancelledWhileRunning
			}
			return true, domainjob.Fail(j, info, now)
		})
	if err != nil {
		return d.outcomeRejected(ctx, job, "failed", failed, err)
	}

	d.logger.WarnContext(ctx, "job attempt failed",
		"id", failed.ID,
		"type", failed.Type,
		"attempt", failed.Attempt(),
		"error", cause,
	)
	metrics.EmitJobLifecycle(d.metrics, metrics.JobMetric{
		JobType:    string(failed.Type),
		Transition: string(model.JobStatusFailed),
		Priority:   failed.Priority.String(),
		Result:     metrics.ResultError,
		Duration:   runDuration(failed),
		Err:        cause,
	})

	outcome, err := d.retry.HandleFailure(ctx, failed.ID, cause)
	if err != nil {
		d.logger.ErrorContext(ctx, "retry controller failed", "id", failed.ID, "error", err)
		return failed
	}
	return outcome.Job
}

var errCancelledWhileRunning = errors.New("job was cancelled while its handler ran")

// outcomeRejected logs a handler outcome that could not be recorded. A cancelled job keeps
// its cancelled state and the handler result is discarded.
func (d *Dispatcher) outcomeRejected(ctx context.Context, job *model.Job, outcome string, current *model.Job, err error) *model.Job {
	if errors.Is(err, errCancelledWhileRunning) {
		d.logger.InfoContext(ctx, "discarding handler result of cancelled job",
			"id", job.ID,
			"type", job.Type,
			"outcome", outcome,
		)
		return current
	}
	d.logger.ErrorContext(ctx, "failed to record job outcome",
		"id", job.ID,
		"type", job.Type,
		"outcome", outcome,
		"error", err,
	)
	if current != nil {
		return current
	}
	return job
}

// keepLease extends the job's lease at half its duration until stopped.
func (d *Dispatcher) keepLease(ctx context.Context, id string) func() {
	decision := d.lease.Policy.Resolve(0)
	interval := decision.Duration / 2
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := d.jobs.Heartbeat(ctx, id, d.lease.WorkerID, decision.Duration)
				if err != nil && ctx.Err() == nil {
					d.logger.WarnContext(ctx, "lease heartbeat failed", "id", id, "error", err)
				}
				if err == nil && !ok {
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func failureMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code == apperrors.ErrCodeHandler && appErr.Cause != nil {
		return appErr.Cause.Error()
	}
	return err.Error()
}

func runDuration(job *model.Job) time.Duration {
	if job == nil || job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt)
}
