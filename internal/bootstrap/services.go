package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/jobengine/config"
	"github.com/target/jobengine/internal/adapters/jobrunner"
	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/data"
	domainjob "github.com/target/jobengine/internal/domain/job"
	"github.com/target/jobengine/internal/domain/model"
	"github.com/target/jobengine/internal/events"
	"github.com/target/jobengine/internal/observability/notify/pagerduty"
	"github.com/target/jobengine/internal/observability/notify/slack"
	"github.com/target/jobengine/internal/observability/statsd"
	"github.com/target/jobengine/internal/service"
	"github.com/target/jobengine/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Store         core.JobStore
	Bus           *events.Bus
	Jobs          *service.JobService
	Retry         *service.RetryController
	Dispatcher    *service.Dispatcher
	Breakers      map[string]*events.Breaker
	Observability ObservabilityContainer

	closers []namedCloser
}

// Close releases transports and metric connections owned by the container.
func (c *ServiceContainer) Close(logger *slog.Logger) {
	if c == nil {
		return
	}
	closeAll(c.closers, logger)
	c.closers = nil
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     statsd.Sink
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig

	statsd *statsd.Client
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB               // Required for the postgres store
	RedisClient redis.UniversalClient // Required when the redis event transport is enabled
	Logger      *slog.Logger
	Clock       core.Clock // Optional: defaults to wall time

	// Handlers registers job handlers besides the built-in cleanup handler.
	Handlers map[model.JobType]core.Handler
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{
		MetricsConfig:  cfg.Metrics,
		NotifierConfig: cfg.Notifications,
	}

	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Namespace,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.MetricsSink = client
			out.statsd = client
		}
	}

	out.FailureNotifier = buildFailureNotifier(obsLogger, cfg.Notifications)
	return out
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger,
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger:     baseLogger,
		Sinks:      sinks,
		MutedTypes: cfg.MutedTypes,
	})
}

// BuildStore selects the job store named by cfg.
//
//nolint:ireturn // the store implementation is chosen at runtime.
func BuildStore(cfg config.StoreConfig, db *sql.DB, clock core.Clock) (core.JobStore, error) {
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	switch cfg.Driver {
	case config.StoreDriverMemory:
		return data.NewMemoryJobRepo(clock), nil
	case config.StoreDriverPostgres:
		if db == nil {
			return nil, errors.New("postgres store requires a database connection")
		}
		return data.NewJobRepo(db, data.RepoConfig{TimeProvider: clock, Logger: slog.Default()}), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewServices wires the engine: store, event transports, job service, retry controller
// and dispatcher with the built-in cleanup handler registered.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}

	store, err := BuildStore(cfg.Store, deps.DB, clock)
	if err != nil {
		return nil, err
	}

	observability := buildObservability(logger, cfg.Observability)
	container := &ServiceContainer{Store: store, Observability: observability}
	if observability.statsd != nil {
		container.closers = append(container.closers, namedCloser{name: "statsd client", closer: observability.statsd})
	}

	remote, err := buildRemotePublishers(PublisherDeps{
		Config:      cfg.Events,
		RedisClient: deps.RedisClient,
		Logger:      logger,
	})
	if err != nil {
		container.Close(logger)
		return nil, err
	}
	container.closers = append(container.closers, remote.closers...)
	container.Breakers = remote.breakers

	bus := events.NewBus(logger)
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Store: store,
		Bus:   bus,
		Emitter: events.NewEmitter(events.EmitterOptions{
			Publisher: eventPublisher(bus, remote),
			Logger:    logger,
			Clock:     clock,
		}),
		Clock:           clock,
		Logger:          logger,
		Metrics:         observability.MetricsSink,
		ConflictRetries: cfg.Engine.ConflictRetries,
	})
	if err != nil {
		container.Close(logger)
		return nil, fmt.Errorf("create job service: %w", err)
	}

	retry, err := service.NewRetryController(service.RetryControllerOptions{
		Jobs:            jobs,
		BaseDelay:       cfg.Engine.RetryBaseDelay,
		FailureNotifier: observability.FailureNotifier,
		Logger:          logger,
		Metrics:         observability.MetricsSink,
	})
	if err != nil {
		container.Close(logger)
		return nil, fmt.Errorf("create retry controller: %w", err)
	}

	handlers, err := buildHandlers(store, clock, logger, deps.Handlers)
	if err != nil {
		container.Close(logger)
		return nil, err
	}

	var lease *service.LeaseOptions
	if cfg.Engine.LeaseEnabled {
		policy, policyErr := domainjob.NewLeasePolicy(cfg.Engine.LeaseDuration)
		if policyErr != nil {
			container.Close(logger)
			return nil, fmt.Errorf("create lease policy: %w", policyErr)
		}
		lease = &service.LeaseOptions{Policy: policy, WorkerID: cfg.Runner.WorkerID}
	}

	dispatcher, err := service.NewDispatcher(service.DispatcherOptions{
		Jobs:           jobs,
		Retry:          retry,
		Handlers:       handlers,
		Types:          cfg.Runner.JobTypes,
		HandlerTimeout: cfg.Engine.HandlerTimeout,
		CandidateLimit: cfg.Engine.CandidateLimit,
		Lease:          lease,
		Logger:         logger,
		Metrics:        observability.MetricsSink,
	})
	if err != nil {
		container.Close(logger)
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	container.Bus = bus
	container.Jobs = jobs
	container.Retry = retry
	container.Dispatcher = dispatcher
	return container, nil
}

func buildHandlers(
	store core.JobStore,
	clock core.Clock,
	logger *slog.Logger,
	extra map[model.JobType]core.Handler,
) (map[model.JobType]core.Handler, error) {
	handlers := make(map[model.JobType]core.Handler, len(extra)+1)
	if janitor, ok := store.(core.JobJanitor); ok {
		cleanup, err := jobrunner.NewCleanupHandler(janitor, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("create cleanup handler: %w", err)
		}
		handlers[model.JobTypeCleanup] = cleanup
	}
	for t, h := range extra {
		if h == nil {
			return nil, fmt.Errorf("handler for job type %s is nil", t)
		}
		handlers[t] = h
	}
	return handlers, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg,
				)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newRunnerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeRunner,
		name: "job runner",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			runnerCfg := deps.cfg.Config.Runner
			return RunJobRunner(ctx, JobRunnerConfig{
				Services:     deps.cfg.Services,
				Logger:       deps.logger,
				Concurrency:  runnerCfg.Concurrency,
				PollInterval: runnerCfg.PollInterval,
				Metrics:      deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil || deps.cfg.Config == nil {
				return nil
			}
			return RunReaper(ctx, ReaperConfig{
				Jobs:    deps.cfg.Services.Jobs,
				Retry:   deps.cfg.Services.Retry,
				Logger:  deps.logger,
				Config:  deps.cfg.Config.Reaper,
				Metrics: deps.cfg.Services.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newRunnerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.Services == nil {
		return errors.New("service orchestration config missing services")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return waitForShutdown(shutdownConfig{
		quit:        quit,
		cancel:      cancel,
		errCh:       errCh,
		jobService:  cfg.Services.Jobs,
		logger:      logger,
		backgrounds: backgrounds,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	quit        <-chan os.Signal
	cancel      context.CancelFunc
	errCh       <-chan error
	jobService  *service.JobService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
	waitTimeout time.Duration
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case <-cfg.quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for background services and stops availability listeners.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger, cfg.waitTimeout)
	}
	if cfg.jobService != nil {
		cfg.jobService.StopAllListeners()
	}
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger, timeout time.Duration) {
	if done == nil {
		return
	}
	if timeout <= 0 {
		timeout = shutdownWaitTimeout
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(timeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
