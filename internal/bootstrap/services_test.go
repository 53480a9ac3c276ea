package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobengine/config"
	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/data"
	"github.com/target/jobengine/internal/domain/model"
	"github.com/target/jobengine/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func memoryConfig() *config.AppConfig {
	cfg := &config.AppConfig{
		Services: "runner",
		Store:    config.StoreConfig{Driver: config.StoreDriverMemory},
	}
	cfg.Sanitize()
	return cfg
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{name: "no services enabled", want: 0},
		{name: "runner only", modes: []config.ServiceMode{config.ServiceModeRunner}, want: 1},
		{
			name:  "runner and reaper",
			modes: []config.ServiceMode{config.ServiceModeRunner, config.ServiceModeReaper},
			want:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))

	cfg := memoryConfig()
	require.NoError(t, ValidateServiceConfig(cfg))

	cfg.Services = "runner,bogus"
	require.Error(t, ValidateServiceConfig(cfg))

	cfg.Services = "runner,reaper"
	err := ValidateServiceConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENGINE_LEASE_ENABLED")

	cfg.Engine.LeaseEnabled = true
	require.NoError(t, ValidateServiceConfig(cfg))
	assert.Equal(t, []string{"runner", "reaper"}, GetEnabledServices(cfg))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestNewLoggerWithWriters(t *testing.T) {
	var primary, secondary bytes.Buffer
	logger := NewLoggerWithWriters(&primary, &secondary, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job enqueued", "id", "j1")

	for _, buf := range []*bytes.Buffer{&primary, &secondary} {
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
		assert.Equal(t, "job enqueued", rec["msg"])
		assert.Equal(t, "j1", rec["id"])
	}
}

func TestInitLogger_WritesFileCopy(t *testing.T) {
	path := t.TempDir() + "/engine.log"
	logger, closeFn := InitLogger(config.LogConfig{Level: "warn", File: path})
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.DiscardHandler)) })

	logger.Info("dropped")
	logger.Warn("lease expired", "id", "j9")
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"lease expired"`)
	assert.NotContains(t, string(raw), "dropped")
}

func TestBuildStore(t *testing.T) {
	store, err := BuildStore(config.StoreConfig{Driver: config.StoreDriverMemory}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &data.MemoryJobRepo{}, store)

	_, err = BuildStore(config.StoreConfig{Driver: config.StoreDriverPostgres}, nil, nil)
	require.Error(t, err)

	_, err = BuildStore(config.StoreConfig{Driver: "sqlite"}, nil, nil)
	require.Error(t, err)
}

func TestBuildRemotePublishers(t *testing.T) {
	remote, err := buildRemotePublishers(PublisherDeps{Logger: discardLogger()})
	require.NoError(t, err)
	assert.Empty(t, remote.publishers)

	bus := events.NewBus(discardLogger())
	assert.Same(t, bus, eventPublisher(bus, remote))

	_, err = buildRemotePublishers(PublisherDeps{
		Config: config.EventsConfig{Redis: config.RedisEventsConfig{Enabled: true}},
		Logger: discardLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a redis connection")
}

func TestEventPublisher_FanoutPutsBusFirst(t *testing.T) {
	bus := events.NewBus(discardLogger())
	var order []string
	_, err := bus.Subscribe(events.SubscribeOptions{}, func(context.Context, model.LifecycleEvent) error {
		order = append(order, "bus")
		return nil
	})
	require.NoError(t, err)

	remote := &remotePublishers{publishers: []core.EventPublisher{
		core.EventPublisherFunc(func(context.Context, model.LifecycleEvent) error {
			order = append(order, "remote")
			return errors.New("broker down")
		}),
	}}

	err = eventPublisher(bus, remote).Publish(context.Background(), model.LifecycleEvent{
		Type:  model.EventJobStarted,
		JobID: "j1",
		Owner: "acme",
	})
	require.Error(t, err)
	assert.Equal(t, []string{"bus", "remote"}, order)
}

func TestNewServices_MemoryStoreRunsCleanup(t *testing.T) {
	_, err := NewServices(nil)
	require.Error(t, err)

	clock := data.NewFixedTimeProvider(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	services, err := NewServices(&ServiceDeps{
		Config: memoryConfig(),
		Logger: discardLogger(),
		Clock:  clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		services.Jobs.StopAllListeners()
		services.Close(discardLogger())
	})

	var seen []model.EventType
	_, err = services.Jobs.Subscribe(events.SubscribeOptions{}, func(_ context.Context, evt model.LifecycleEvent) error {
		seen = append(seen, evt.Type)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	job, err := services.Jobs.Enqueue(ctx, &model.CreateJobRequest{
		Owner: "ops",
		Type:  model.JobTypeCleanup,
		Input: json.RawMessage(`{"older_than_hours":24}`),
	})
	require.NoError(t, err)

	done, err := services.Dispatcher.DispatchNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, job.ID, done.ID)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.JSONEq(t, `{"deleted":0,"batches":1,"cutoff":"2025-02-28T12:00:00Z"}`, string(done.Output))
	assert.Equal(t, []model.EventType{model.EventJobStarted, model.EventJobProgress, model.EventJobCompleted}, seen)
}

func TestNewServices_RejectsNilHandler(t *testing.T) {
	_, err := NewServices(&ServiceDeps{
		Config:   memoryConfig(),
		Logger:   discardLogger(),
		Handlers: map[model.JobType]core.Handler{model.JobTypeImport: nil},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler for job type import is nil")
}

func TestWaitForShutdown(t *testing.T) {
	t.Run("service error cancels and waits", func(t *testing.T) {
		errCh := make(chan error, 1)
		done := make(chan struct{})
		cancelled := false
		errCh <- errors.New("job runner failed: boom")

		go close(done)
		err := waitForShutdown(shutdownConfig{
			quit:        make(chan os.Signal),
			cancel:      func() { cancelled = true },
			errCh:       errCh,
			logger:      discardLogger(),
			backgrounds: []backgroundServiceHandle{{mode: config.ServiceModeRunner, name: "job runner", done: done}},
			waitTimeout: time.Second,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.True(t, cancelled)
	})

	t.Run("signal returns nil", func(t *testing.T) {
		quit := make(chan os.Signal, 1)
		quit <- os.Interrupt
		err := waitForShutdown(shutdownConfig{
			quit:   quit,
			cancel: func() {},
			errCh:  make(chan error),
			logger: discardLogger(),
		})
		require.NoError(t, err)
	})
}

func TestLaunchBackground_SkipsDisabledModes(t *testing.T) {
	deps := &serviceStartupDeps{
		ctx:             context.Background(),
		logger:          discardLogger(),
		enabledServices: map[config.ServiceMode]bool{config.ServiceModeRunner: true},
		errCh:           make(chan error, 1),
	}

	handles := startBackgroundServices(deps, []backgroundService{
		{mode: config.ServiceModeRunner, name: "runner", start: func(context.Context) error { return errors.New("boom") }},
		{mode: config.ServiceModeReaper, name: "reaper", start: func(context.Context) error { return nil }},
	})
	require.Len(t, handles, 1)
	<-handles[0].done

	select {
	case err := <-deps.errCh:
		assert.EqualError(t, err, "runner failed: boom")
	default:
		t.Fatal("expected runner error")
	}
}
