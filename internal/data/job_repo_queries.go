package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/jobengine/internal/data/pgxutil"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// jobFilterQueryBuilder appends equality filters with positional arguments.
type jobFilterQueryBuilder struct {
	query  string
	args   []any
	argIdx int
}

func newJobFilterQueryBuilder(base string) *jobFilterQueryBuilder {
	return &jobFilterQueryBuilder{query: base, args: []any{}, argIdx: 1}
}

func (b *jobFilterQueryBuilder) addFilter(condition string, value any) {
	if value != nil {
		b.query += fmt.Sprintf(" AND %s = $%d", condition, b.argIdx)
		b.args = append(b.args, value)
		b.argIdx++
	}
}

func (b *jobFilterQueryBuilder) addCondition(format string, value any) {
	b.query += " AND " + fmt.Sprintf(format, b.argIdx)
	b.args = append(b.args, value)
	b.argIdx++
}

func (b *jobFilterQueryBuilder) addPage(limit, offset int) {
	b.query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", b.argIdx, b.argIdx+1)
	b.args = append(b.args, limit, offset)
	b.argIdx += 2
}

func buildJobListQuery(opts model.JobListOptions) (string, []any) {
	builder := newJobFilterQueryBuilder(`
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE 1=1`)

	if opts.Owner != nil && *opts.Owner != "" {
		builder.addFilter("owner", *opts.Owner)
	}
	if opts.Status != nil && *opts.Status != "" {
		builder.addFilter("status", string(*opts.Status))
	}
	if opts.Type != nil && *opts.Type != "" {
		builder.addFilter("type", string(*opts.Type))
	}

	builder.query += `
		ORDER BY created_at DESC, id DESC`

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	builder.addPage(limit, max(opts.Offset, 0))

	return builder.query, builder.args
}

// List returns jobs filtered by owner, status and type, newest first.
func (r *JobRepo) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	query, args := buildJobListQuery(opts)
	jobs, err := r.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func buildJobStatsQuery(opts model.JobStatsOptions) (string, []any) {
	builder := newJobFilterQueryBuilder(`
		SELECT
			type,
			status,
			count(*) AS job_count,
			COALESCE(avg(processed_items), 0)::float8 AS avg_processed,
			COALESCE(sum(success_items), 0)::bigint AS success_items,
			COALESCE(sum(failed_items), 0)::bigint AS failed_items
		FROM jobs
		WHERE 1=1`)

	if !opts.Since.IsZero() {
		builder.addCondition("created_at >= $%d", opts.Since.UTC())
	}
	if opts.Owner != nil && *opts.Owner != "" {
		builder.addFilter("owner", *opts.Owner)
	}

	builder.query += `
		GROUP BY type, status
		ORDER BY type, status`

	return builder.query, builder.args
}

// Stats aggregates jobs created since opts.Since by (type, status).
func (r *JobRepo) Stats(ctx context.Context, opts model.JobStatsOptions) ([]model.JobStatsRow, error) {
	query, args := buildJobStatsQuery(opts)

	var out []model.JobStatsRow
	err := pgxutil.Conn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var row model.JobStatsRow
			if scanErr := rows.Scan(
				&row.Type,
				&row.Status,
				&row.Count,
				&row.AvgProcessedItems,
				&row.SuccessItems,
				&row.FailedItems,
			); scanErr != nil {
				return scanErr
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", apperrors.MapDBError(err))
	}
	return out, nil
}
