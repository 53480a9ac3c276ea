package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/jobengine/config"
	"github.com/target/jobengine/internal/core"
	domainjob "github.com/target/jobengine/internal/domain/job"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
	obserrors "github.com/target/jobengine/internal/observability/errors"
	"github.com/target/jobengine/internal/observability/metrics"
	"github.com/target/jobengine/internal/observability/statsd"
)

// LeaseExpiredMessage is the error log message recorded for a reclaimed job.
const LeaseExpiredMessage = "lease expired"

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Jobs    *JobService         // Required: job service; its store must support leasing
	Retry   *RetryController    // Required: retry controller applied to reclaimed jobs
	Config  config.ReaperConfig // Required: reaper configuration
	Logger  *slog.Logger        // Optional: structured logger
	Metrics statsd.Sink         // Optional: metrics sink (StatsD-compatible)
}

// ReaperService reclaims processing jobs whose lease expired.
//
// A reclaimed job is failed with a "lease expired" error log entry and then handed to the
// retry controller, exactly as if its handler had returned an error.
type ReaperService struct {
	jobs    *JobService
	leaser  core.JobLeaser
	retry   *RetryController
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Retry == nil {
		return nil, errors.New("RetryController is required")
	}
	leaser, ok := opts.Jobs.store.(core.JobLeaser)
	if !ok {
		return nil, errors.New("job store does not support leasing")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	logger.Debug("ReaperService initialized",
		"interval", opts.Config.Interval,
		"batch_size", opts.Config.BatchSize,
	)

	return &ReaperService{
		jobs:    opts.Jobs,
		leaser:  leaser,
		retry:   opts.Retry,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.ReclaimExpired(ctx); err != nil {
		s.logReclaimError(ctx, err, "initial reclaim")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.ReclaimExpired(ctx); err != nil {
				s.logReclaimError(ctx, err, "reclaim")
			}
		}
	}
}

// ReclaimExpired fails every processing job whose lease expired and applies the retry policy.
// It works in batches until a batch comes back empty and returns the number of reclaimed jobs.
func (s *ReaperService) ReclaimExpired(ctx context.Context) (int64, error) {
	start := time.Now()
	batch := s.config.BatchSize
	if batch <= 0 {
		batch = 100
	}

	var (
		total int64
		errs  []error
	)
	seen := make(map[string]struct{})
	for {
		expired, err := s.leaser.ListExpiredLeases(ctx, s.jobs.clock.Now(), batch)
		if err != nil {
			errs = append(errs, fmt.Errorf("list expired leases: %w", err))
			break
		}

		progressed := false
		for _, job := range expired {
			if _, done := seen[job.ID]; done {
				continue
			}
			seen[job.ID] = struct{}{}
			progressed = true

			if err := s.reclaim(ctx, job); err != nil {
				errs = append(errs, fmt.Errorf("reclaim job %s: %w", job.ID, err))
				continue
			}
			total++
		}

		if !progressed || len(expired) < batch {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}

	err := errors.Join(errs...)
	s.emitReclaimMetrics(total, err, time.Since(start))
	if total > 0 {
		s.logger.InfoContext(ctx, "reclaimed jobs with expired leases", "count", total)
	}
	return total, err
}

func (s *ReaperService) reclaim(ctx context.Context, job *model.Job) error {
	cause := apperrors.Handler(errors.New(LeaseExpiredMessage))
	_, failed, err := s.jobs.transition(ctx, job.ID, job, model.EventJobFailed,
		func(j *model.Job, now time.Time) (bool, error) {
			if j.Status != model.JobStatusProcessing || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
				return false, nil
			}
			details := map[string]any{"error_class": "lease_expired"}
			if j.LeaseOwner != nil {
				details["lease_owner"] = *j.LeaseOwner
			}
			return true, domainjob.Fail(j, domainjob.FailureInfo{Message: LeaseExpiredMessage, Context: details}, now)
		})
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}

	metrics.EmitCounter(s.metrics, metrics.MetricReclaimed, string(job.Type))
	s.logger.WarnContext(ctx, "job lease expired", "id", job.ID, "type", job.Type)

	if _, err := s.retry.HandleFailure(ctx, job.ID, cause); err != nil {
		return err
	}
	return nil
}

func (s *ReaperService) emitReclaimMetrics(count int64, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.reclaim", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.reclaim_duration", elapsed, metrics.CloneTags(tags))
	}
	if count > 0 {
		s.metrics.Count("reaper.jobs_reclaimed", count, metrics.CloneTags(tags))
	}
	if err == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) logReclaimError(ctx context.Context, err error, label string) {
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
