package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/jobengine/internal/data/pgxutil"
	"github.com/target/jobengine/internal/domain/model"
)

const deleteTerminalSQL = `
  DELETE FROM jobs
  WHERE id IN (
    SELECT id FROM jobs
    WHERE status = ANY($1::text[])
      AND COALESCE(completed_at, updated_at) < $2
    ORDER BY COALESCE(completed_at, updated_at)
    LIMIT $3
  )`

// Advisory lock namespace for maintenance operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
const (
	advisoryLockMaintenanceMajor = 1000
	advisoryLockDeleteTerminal   = 1 // minor key for DeleteTerminalBefore
)

// DeleteTerminalBefore deletes up to params.BatchSize terminal jobs finished before params.Before.
// Uses an advisory lock so concurrent cleanup jobs do not contend; a lost race deletes nothing.
func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, params model.DeleteTerminalParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.Before.IsZero() {
		return 0, errors.New("cutoff time is required")
	}
	statuses := make([]string, 0, len(params.Statuses))
	for _, s := range params.Statuses {
		if !s.Terminal() {
			return 0, fmt.Errorf("status %s is not terminal", s)
		}
		statuses = append(statuses, string(s))
	}
	if len(statuses) == 0 {
		return 0, errors.New("at least one status is required")
	}

	var deleted int64
	err := pgxutil.Tx(ctx, r.DB, "", func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
			advisoryLockMaintenanceMajor, advisoryLockDeleteTerminal).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			return nil
		}

		tag, err := tx.Exec(ctx, deleteTerminalSQL, statuses, params.Before.UTC(), params.BatchSize)
		if err != nil {
			return fmt.Errorf("delete terminal jobs: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ListExpiredLeases returns processing jobs whose lease expired before now, oldest expiry first.
func (r *JobRepo) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	jobs, err := r.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'processing'
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at < $1
		ORDER BY lease_expires_at ASC
		LIMIT $2
	`, now.UTC(), min(limit, maxQueryLimit))
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	return jobs, nil
}
