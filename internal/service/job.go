package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/jobengine/internal/core"
	domainjob "github.com/target/jobengine/internal/domain/job"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
	"github.com/target/jobengine/internal/events"
	"github.com/target/jobengine/internal/observability/metrics"
	"github.com/target/jobengine/internal/observability/statsd"
)

// DefaultConflictRetries is how often a mutation reloads and retries after a persistence conflict.
const DefaultConflictRetries = 3

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Store           core.JobStore             // Required: job store
	Emitter         *events.Emitter           // Optional: lifecycle event emitter (defaults to publishing on Bus)
	Bus             *events.Bus               // Optional: in-process subscriptions; created when nil
	Clock           core.Clock                // Optional: time source
	Logger          *slog.Logger              // Optional: structured logger
	Metrics         statsd.Sink               // Optional: metrics sink (StatsD-compatible)
	ConflictRetries int                       // Optional: reload-and-retry attempts on persistence conflicts
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// JobService owns every mutation of a job record.
//
// Mutations of one job are serialized by a per-job mutex and saved optimistically.
// Each accepted transition builds exactly one lifecycle event under that mutex and publishes it
// after the mutex is released, through a per-job queue, so subscribers observe a job's events
// in transition order and may call back into the service for the same job.
type JobService struct {
	store           core.JobStore
	emitter         *events.Emitter
	bus             *events.Bus
	clock           core.Clock
	logger          *slog.Logger
	metrics         statsd.Sink
	conflictRetries int
	notifier        domainjob.Notifier
	locks           *jobLocks

	runningMu sync.Mutex
	running   map[string]*runningJob
}

// runningJob is the cancel function of one handler run.
type runningJob struct {
	cancel context.CancelFunc
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "job_service")

	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}

	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NewEmitter(events.EmitterOptions{Publisher: bus, Logger: logger, Clock: clock})
	}

	retries := opts.ConflictRetries
	if retries <= 0 {
		retries = DefaultConflictRetries
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Store
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	logger.Debug("JobService initialized", "conflict_retries", retries)

	return &JobService{
		store:           opts.Store,
		emitter:         emitter,
		bus:             bus,
		clock:           clock,
		logger:          logger,
		metrics:         opts.Metrics,
		conflictRetries: retries,
		notifier:        notifier,
		locks:           newJobLocks(),
		running:         make(map[string]*runningJob),
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Enqueue validates req, applies defaults and stores a new pending job.
func (s *JobService) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	now := s.clock.Now().UTC()
	job := &model.Job{
		Owner:      req.Owner,
		Type:       req.Type,
		Status:     model.JobStatusPending,
		Priority:   req.PriorityOrDefault(),
		Input:      append(json.RawMessage(nil), req.Input...),
		ErrorLog:   []model.ErrorLogEntry{},
		MaxRetries: req.MaxRetriesOrDefault(),
		Metadata:   json.RawMessage(`{}`),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(req.Metadata) > 0 {
		job.Metadata = append(json.RawMessage(nil), req.Metadata...)
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		job.ScheduledAt = &at
	}
	if req.TotalItems != nil {
		total := *req.TotalItems
		job.TotalItems = &total
	}

	if _, err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.DebugContext(ctx, "job enqueued",
		"id", job.ID,
		"type", job.Type,
		"owner", job.Owner,
		"priority", job.Priority,
	)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: "enqueued",
		Priority:   job.Priority.String(),
		Result:     metrics.ResultSuccess,
	})

	return job, nil
}

// Get returns a job, including its error log.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs filtered by owner, status and type, newest first.
// Pagination defaults are normalized here to avoid drift across layers.
func (s *JobService) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	p := normalizePagination(opts.Limit, opts.Offset)
	opts.Limit = p.Limit
	opts.Offset = p.Offset

	jobs, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Stats aggregates jobs created within window, grouped by type and status.
// A non-positive window covers every job.
func (s *JobService) Stats(ctx context.Context, window time.Duration, owner *string) ([]model.JobStatsRow, error) {
	opts := model.JobStatsOptions{Owner: owner}
	if window > 0 {
		opts.Since = s.clock.Now().Add(-window).UTC()
	}
	rows, err := s.store.Stats(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return rows, nil
}

// Cancel moves a pending or processing job to cancelled and signals its running handler.
// Cancelling an already cancelled job returns it unchanged.
func (s *JobService) Cancel(ctx context.Context, id string) (*model.Job, error) {
	job, changed, err := s.transition(ctx, id, nil, model.EventJobCancelled,
		func(j *model.Job, now time.Time) (bool, error) {
			if j.Status == model.JobStatusCancelled {
				return false, nil
			}
			return true, domainjob.Cancel(j, now)
		})
	if err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if !changed {
		return job, nil
	}

	s.signalCancel(id)
	s.logger.InfoContext(ctx, "job cancelled", "id", id, "type", job.Type)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: string(model.JobStatusCancelled),
		Priority:   job.Priority.String(),
		Result:     metrics.ResultSuccess,
	})
	return job, nil
}

// UpdateProgress records a progress report for a processing job and emits job:progress.
func (s *JobService) UpdateProgress(ctx context.Context, id string, update domainjob.ProgressUpdate) (*model.Job, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	job, _, err := s.transition(ctx, id, nil, model.EventJobProgress,
		func(j *model.Job, now time.Time) (bool, error) {
			return true, domainjob.ApplyProgress(j, update, now)
		})
	if err != nil {
		return nil, fmt.Errorf("update progress of job %s: %w", id, err)
	}
	return job, nil
}

// SetTotal fixes the total number of items of a job once its handler knows it.
func (s *JobService) SetTotal(ctx context.Context, id string, total int) (*model.Job, error) {
	job, _, err := s.transition(ctx, id, nil, model.EventJobProgress,
		func(j *model.Job, now time.Time) (bool, error) {
			return true, domainjob.SetTotal(j, total, now)
		})
	if err != nil {
		return nil, fmt.Errorf("set total of job %s: %w", id, err)
	}
	return job, nil
}

// Heartbeat extends the lease of a processing job held by owner.
// It reports false when the job is no longer processing or the lease moved to another owner.
func (s *JobService) Heartbeat(ctx context.Context, id, owner string, extend time.Duration) (bool, error) {
	_, extended, err := s.transition(ctx, id, nil, "",
		func(j *model.Job, now time.Time) (bool, error) {
			if j.Status != model.JobStatusProcessing || j.LeaseOwner == nil || *j.LeaseOwner != owner {
				return false, nil
			}
			expires := now.Add(extend).UTC()
			j.LeaseExpiresAt = &expires
			return true, nil
		})
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return extended, nil
}

// Subscribe registers fn for lifecycle events selected by opts.
// The returned function removes the subscription.
//
// fn runs synchronously on the goroutine that made the transition, after the job's lock is
// released. It may call Cancel, UpdateProgress or SetTotal for the same job; events caused by
// such calls are delivered after fn returns, never nested inside it.
func (s *JobService) Subscribe(opts events.SubscribeOptions, fn events.Subscriber) (func(), error) {
	return s.bus.Subscribe(opts, fn)
}

// Bus exposes the in-process event bus so transports can attach to it.
func (s *JobService) Bus() *events.Bus {
	return s.bus
}

// SubscribeAvailability returns a channel that is signalled when new jobs may be available.
func (s *JobService) SubscribeAvailability() (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe()
}

// WaitForNotification waits for a notification indicating new jobs are available.
func (s *JobService) WaitForNotification(ctx context.Context) error {
	return s.store.WaitForNotification(ctx)
}

// StopAllListeners stops all active job notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *JobService) StopAllListeners() {
	s.logger.Info("stopping all job listeners")
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}

// mutation applies a change to j. Returning false leaves the record unsaved and emits nothing.
type mutation func(j *model.Job, now time.Time) (bool, error)

// transition runs fn under the job's lock with load-mutate-save, retrying on persistence
// conflicts. When seed is set the first attempt starts from it instead of loading.
// After a successful save evt (when non-empty) is built under the lock and published once the
// lock is released.
func (s *JobService) transition(
	ctx context.Context,
	id string,
	seed *model.Job,
	evt model.EventType,
	fn mutation,
) (*model.Job, bool, error) {
	return s.transitionThen(ctx, id, seed, evt, fn, nil)
}

// transitionThen is transition with saved called under the lock after a successful save,
// before the event is queued.
func (s *JobService) transitionThen(
	ctx context.Context,
	id string,
	seed *model.Job,
	evt model.EventType,
	fn mutation,
	saved func(*model.Job),
) (*model.Job, bool, error) {
	guard := s.locks.Lock(id)
	defer guard.Unlock()

	var lastErr error
	for attempt := 0; attempt <= s.conflictRetries; attempt++ {
		var (
			job *model.Job
			err error
		)
		if attempt == 0 && seed != nil {
			job = seed.Clone()
		} else {
			job, err = s.store.Load(ctx, id)
			if err != nil {
				return nil, false, err
			}
		}

		changed, err := fn(job, s.clock.Now())
		if err != nil {
			return job, false, err
		}
		if !changed {
			return job, false, nil
		}

		if err := s.store.Save(ctx, job); err != nil {
			if apperrors.IsConflict(err) {
				lastErr = err
				s.logger.DebugContext(ctx, "job changed concurrently, reloading",
					"id", id,
					"attempt", attempt+1,
				)
				continue
			}
			return nil, false, err
		}

		if saved != nil {
			saved(job)
		}
		if evt != "" {
			s.queueEvent(ctx, guard, evt, job)
		}
		return job, true, nil
	}
	return nil, false, lastErr
}

// emitOrdered emits evt for a job mutated outside transition, in order with the job's other events.
func (s *JobService) emitOrdered(ctx context.Context, evt model.EventType, job *model.Job) {
	guard := s.locks.Lock(job.ID)
	s.queueEvent(ctx, guard, evt, job)
	guard.Unlock()
}

func (s *JobService) queueEvent(ctx context.Context, guard *jobGuard, evt model.EventType, job *model.Job) {
	e := s.emitter.Build(evt, job)
	guard.AfterUnlock(func() { s.emitter.Publish(ctx, e) })
}

// trackRunning registers cancel for id and returns the entry to pass to untrackRunning.
func (s *JobService) trackRunning(id string, cancel context.CancelFunc) *runningJob {
	run := &runningJob{cancel: cancel}
	s.runningMu.Lock()
	s.running[id] = run
	s.runningMu.Unlock()
	return run
}

// untrackRunning removes run unless another run has since replaced it.
func (s *JobService) untrackRunning(id string, run *runningJob) {
	s.runningMu.Lock()
	if s.running[id] == run {
		delete(s.running, id)
	}
	s.runningMu.Unlock()
}

func (s *JobService) signalCancel(id string) {
	s.runningMu.Lock()
	run, ok := s.running[id]
	s.runningMu.Unlock()
	if ok {
		run.cancel()
	}
}

// paginationParams holds normalized pagination parameters.
type paginationParams struct {
	Limit  int
	Offset int
}

// normalizePagination clamps pagination parameters to safe defaults.
// Default limit: 50, max limit: 1000, min offset: 0.
func normalizePagination(limit, offset int) paginationParams {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return paginationParams{Limit: limit, Offset: offset}
}
