package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/jobengine/config"
	"github.com/target/jobengine/internal/adapters/jobrunner"
	"github.com/target/jobengine/internal/adapters/reaper"
	"github.com/target/jobengine/internal/observability/statsd"
	"github.com/target/jobengine/internal/service"
)

// JobRunnerConfig contains configuration for the job runner.
type JobRunnerConfig struct {
	Services     *ServiceContainer
	Logger       *slog.Logger
	Concurrency  int
	PollInterval time.Duration
	Metrics      statsd.Sink
}

// RunJobRunner starts the dispatcher worker loops and blocks until ctx is cancelled.
func RunJobRunner(ctx context.Context, cfg JobRunnerConfig) error {
	if cfg.Services == nil {
		return errors.New("service container is required")
	}
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Dispatcher:   cfg.Services.Dispatcher,
		Jobs:         cfg.Services.Jobs,
		Concurrency:  cfg.Concurrency,
		PollInterval: cfg.PollInterval,
		Logger:       cfg.Logger,
		Metrics:      cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create job runner: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run job runner: %w", runErr)
	}
	return nil
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	Jobs    *service.JobService
	Retry   *service.RetryController
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the lease reaper.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		Jobs:    cfg.Jobs,
		Retry:   cfg.Retry,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
