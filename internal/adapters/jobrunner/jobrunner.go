// Package jobrunner runs dispatcher worker loops and hosts the built-in job handlers.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/domain/model"
	"github.com/target/jobengine/internal/observability/statsd"
	"github.com/target/jobengine/internal/service"
)

const (
	defaultPollInterval = 5 * time.Second

	metricDispatchError = "runner.dispatch_error"
	metricIdle          = "runner.idle"
)

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Dispatcher *service.Dispatcher // Required: executes one job per call
	Jobs       *service.JobService // Required: availability notifications

	Concurrency  int           // number of worker loops; defaults to 1
	PollInterval time.Duration // upper bound on idle sleep; defaults to 5s

	// Handlers are registered on the dispatcher before the workers start.
	Handlers map[model.JobType]core.Handler

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner drives a Dispatcher from one or more worker loops.
//
// An idle worker sleeps until the store announces a new job or the poll interval
// elapses. Every worker holds its own availability subscription, so one announcement
// wakes all idle workers; once the notifier shuts down workers fall back to polling. Retries become eligible by time rather than by notification, so the
// poll interval bounds how late a scheduled retry starts.
type Runner struct {
	dispatcher   *service.Dispatcher
	jobs         *service.JobService
	workers      int
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewRunner constructs a job runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("job service is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	for t, h := range opts.Handlers {
		if h == nil {
			return nil, fmt.Errorf("handler for job type %s is nil", t)
		}
		opts.Dispatcher.Register(t, h)
	}

	return &Runner{
		dispatcher:   opts.Dispatcher,
		jobs:         opts.Jobs,
		workers:      workers,
		pollInterval: poll,
		logger:       logger.With("component", "job_runner"),
		metrics:      opts.Metrics,
	}, nil
}

// Run starts the worker loops and blocks until ctx is cancelled or a worker fails.
// It returns ctx.Err() on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "workers", r.workers, "poll_interval", r.pollInterval)

	g, gctx := errgroup.WithContext(ctx)
	for worker := range r.workers {
		g.Go(func() error {
			unsub, notify := r.jobs.SubscribeAvailability()
			defer unsub()
			return r.workerLoop(gctx, worker, notify)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, worker int, notify <-chan struct{}) error {
	logger := r.logger.With("worker", worker)
	for ctx.Err() == nil {
		job, err := r.dispatcher.DispatchNext(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.ErrorContext(ctx, "dispatch failed", "error", err)
			r.count(metricDispatchError)
			var ok bool
			if ok, notify = r.wait(ctx, notify); !ok {
				return ctx.Err()
			}
		case job == nil:
			r.count(metricIdle)
			var ok bool
			if ok, notify = r.wait(ctx, notify); !ok {
				return ctx.Err()
			}
		default:
			logger.DebugContext(ctx, "job dispatched", "id", job.ID, "type", job.Type, "status", job.Status)
		}
	}
	return ctx.Err()
}

// wait blocks until new work may be available. It returns false when ctx is done.
// A closed notify channel is replaced by nil in the returned channel, leaving only the timer.
func (r *Runner) wait(ctx context.Context, notify <-chan struct{}) (bool, <-chan struct{}) {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, notify
		case _, open := <-notify:
			if !open {
				notify = nil
				continue
			}
			return true, notify
		case <-timer.C:
			return true, notify
		}
	}
}

func (r *Runner) count(name string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Count(name, 1, nil)
}
