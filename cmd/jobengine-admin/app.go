package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/target/jobengine/config"
	"github.com/target/jobengine/internal/bootstrap"
	"github.com/target/jobengine/internal/service"
)

var errRedisNotConfigured = errors.New("redis not configured")

// app holds the lazily connected dependencies shared by all commands.
type app struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	out    io.Writer

	db       *sql.DB
	redis    redis.UniversalClient
	services *bootstrap.ServiceContainer
}

func newApp(cfg *config.AppConfig, logger *slog.Logger, out io.Writer) *app {
	return &app{cfg: cfg, logger: logger, out: out}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "jobengine-admin",
		Short: "Inspect and manage engine jobs",
		Long: `jobengine-admin talks to the job store configured through the environment
(STORE_DRIVER, DB_*, REDIS_*, EVENTS_*).

Examples:
  jobengine-admin migrate
  jobengine-admin enqueue --type import --owner acme --input '{"source_uri":"s3://b/u.csv","format":"csv"}'
  jobengine-admin list --owner acme --status failed
  jobengine-admin watch --owner acme`,
		SilenceUsage: true,
	}
	root.SetOut(a.out)
	root.AddCommand(
		newMigrateCmd(a),
		newEnqueueCmd(a),
		newListCmd(a),
		newGetCmd(a),
		newCancelCmd(a),
		newStatsCmd(a),
		newWatchCmd(a),
	)
	return root
}

// connectDB opens the postgres connection once.
func (a *app) connectDB(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := bootstrap.ConnectDB(ctx, a.cfg.Postgres, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	a.db = db
	return db, nil
}

// connectRedis opens the redis connection once.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func (a *app) connectRedis(ctx context.Context) (redis.UniversalClient, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	if !hasRedisConfig(&a.cfg.Redis) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = client
	return client, nil
}

// jobs wires the engine services over the configured store. Events emitted by admin
// mutations reach the same remote transports the engine publishes to.
func (a *app) jobs(ctx context.Context) (*service.JobService, error) {
	if a.services != nil {
		return a.services.Jobs, nil
	}

	deps := &bootstrap.ServiceDeps{Config: a.cfg, Logger: a.logger}
	if a.cfg.Store.Driver == config.StoreDriverPostgres {
		db, err := a.connectDB(ctx)
		if err != nil {
			return nil, err
		}
		deps.DB = db
	}
	if a.cfg.Events.Redis.Enabled {
		client, err := a.connectRedis(ctx)
		if err != nil {
			return nil, err
		}
		deps.RedisClient = client
	}

	services, err := bootstrap.NewServices(deps)
	if err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	a.services = services
	return services.Jobs, nil
}

func (a *app) close() {
	if a.services != nil {
		a.services.Jobs.StopAllListeners()
		a.services.Close(a.logger)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("db close failed", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}
