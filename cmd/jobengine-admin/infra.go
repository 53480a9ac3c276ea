package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	redisadapter "github.com/target/jobengine/internal/adapters/redis"
	"github.com/target/jobengine/internal/bootstrap"
	"github.com/target/jobengine/internal/domain/model"
)

const defaultMigrationTimeout = 5 * time.Minute

func newMigrateCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeout <= 0 {
				return errors.New("--timeout must be positive")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			db, err := a.connectDB(ctx)
			if err != nil {
				return err
			}

			applied, err := bootstrap.RunMigrations(ctx, db, a.logger)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				cmd.Println("schema is up to date")
				return nil
			}
			for _, version := range applied {
				cmd.Printf("applied %s\n", version)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultMigrationTimeout, "maximum time to wait for migrations")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		owner  string
		latest string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream lifecycle events published to Redis",
		Long: `Stream lifecycle events published by engines with EVENTS_REDIS_ENABLED=true.
Each event is printed as one JSON line until interrupted.

With --latest, print the most recent event recorded for one job and exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.connectRedis(cmd.Context())
			if err != nil {
				return err
			}
			feed := redisadapter.NewEventFeed(client, a.cfg.Events.Redis.Prefix)

			if latest != "" {
				evt, latestErr := feed.Latest(cmd.Context(), latest)
				if errors.Is(latestErr, redisadapter.ErrNotFound) {
					return fmt.Errorf("no event recorded for job %s", latest)
				}
				if latestErr != nil {
					return latestErr
				}
				return printJSON(cmd, evt)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = feed.Watch(ctx, owner, func(evt model.LifecycleEvent) error {
				return printEventLine(cmd, evt)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "only events of this owner's jobs")
	cmd.Flags().StringVar(&latest, "latest", "", "print the latest event of one job and exit")
	return cmd
}

func printEventLine(cmd *cobra.Command, evt model.LifecycleEvent) error {
	status, progress := "-", 0
	if evt.Job != nil {
		status, progress = string(evt.Job.Status), evt.Job.Progress
	}
	cmd.Printf("%s %-10s %s %s %s status=%s progress=%d%%\n",
		evt.OccurredAt.UTC().Format(time.RFC3339),
		evt.Type.Short(), evt.JobType, evt.JobID, evt.Owner, status, progress,
	)
	return nil
}
