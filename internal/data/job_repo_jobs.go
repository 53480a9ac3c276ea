package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/target/jobengine/internal/data/pgxutil"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
)

const insertJobSQL = `
  INSERT INTO jobs (` + jobColumns + `)
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`

const saveJobSQL = `
  UPDATE jobs
  SET
    status = $3,
    priority = $4,
    output = $5,
    progress = $6,
    total_items = $7,
    processed_items = $8,
    success_items = $9,
    failed_items = $10,
    error_log = $11,
    scheduled_at = $12,
    started_at = $13,
    completed_at = $14,
    estimated_completion = $15,
    retry_count = $16,
    max_retries = $17,
    metadata = $18,
    lease_owner = $19,
    lease_expires_at = $20,
    updated_at = $21,
    version = version + 1
  WHERE id = $1 AND version = $2
  RETURNING version`

// claimNextSQL leases the best eligible job. The SET list mirrors job.Start.
var claimNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending'
      AND (scheduled_at IS NULL OR scheduled_at <= $1)
      AND (cardinality($2::text[]) = 0 OR type = ANY($2::text[]))
    ORDER BY priority DESC, created_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'processing',
    started_at = $1,
    completed_at = NULL,
    estimated_completion = NULL,
    output = NULL,
    progress = 0,
    processed_items = 0,
    success_items = 0,
    failed_items = 0,
    lease_owner = $3,
    lease_expires_at = $4,
    version = j.version + 1,
    updated_at = $1
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + prefixColumns("j", jobColumns)

// Create inserts a job and notifies listeners on the job_added channel in the same transaction.
// An empty ID is replaced with a new UUID; the stored version starts at 1.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) (string, error) {
	if job == nil {
		return "", errors.New("job is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	} else if _, err := uuid.Parse(job.ID); err != nil {
		return "", apperrors.ValidationField("id", "job id must be a UUID")
	}

	now := r.timeProvider.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	job.Version = 1

	docs, err := encodeJobDocuments(job)
	if err != nil {
		return "", err
	}

	txErr := pgxutil.Tx(ctx, r.DB, "", func(tx pgx.Tx) error {
		if _, execErr := tx.Exec(ctx, insertJobSQL, insertArgs(job, docs)...); execErr != nil {
			return fmt.Errorf("insert job: %w", execErr)
		}
		if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobAddedChannel, job.ID); execErr != nil {
			return fmt.Errorf("send job notification: %w", execErr)
		}
		return nil
	})
	if txErr != nil {
		return "", apperrors.MapDBError(txErr)
	}

	return job.ID, nil
}

// Load retrieves a job by its ID.
func (r *JobRepo) Load(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(id)
	}

	jobs, err := r.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, notFound(id)
	}
	return jobs[0], nil
}

// Save writes the mutable fields of job if its version still matches the stored row.
// On success job.Version is advanced to the stored value.
func (r *JobRepo) Save(ctx context.Context, job *model.Job) error {
	if job == nil {
		return errors.New("job is required")
	}

	docs, err := encodeJobDocuments(job)
	if err != nil {
		return err
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = r.timeProvider.Now().UTC()
	}

	var version int64
	scanErr := r.DB.QueryRowContext(ctx, saveJobSQL,
		job.ID,
		job.Version,
		string(job.Status),
		int16(job.Priority),
		docs.output,
		job.Progress,
		job.TotalItems,
		job.ProcessedItems,
		job.SuccessItems,
		job.FailedItems,
		docs.errorLog,
		job.ScheduledAt,
		job.StartedAt,
		job.CompletedAt,
		job.EstimatedCompletion,
		job.RetryCount,
		job.MaxRetries,
		docs.metadata,
		job.LeaseOwner,
		job.LeaseExpiresAt,
		job.UpdatedAt.UTC(),
	).Scan(&version)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return r.explainMissedSave(ctx, job)
	}
	if scanErr != nil {
		return fmt.Errorf("save job: %w", apperrors.MapDBError(scanErr))
	}

	job.Version = version
	return nil
}

// explainMissedSave distinguishes a deleted row from a stale version.
func (r *JobRepo) explainMissedSave(ctx context.Context, job *model.Job) error {
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return notFound(job.ID)
	}
	if r.logger != nil {
		r.logger.DebugContext(ctx, "optimistic save rejected", "job_id", job.ID, "version", job.Version)
	}
	return conflict(job.ID, job.Version)
}

// QueryEligible returns pending jobs that are due, ordered by priority DESC then created_at ASC.
func (r *JobRepo) QueryEligible(ctx context.Context, filter model.EligibleFilter) ([]*model.Job, error) {
	now := filter.Now
	if now.IsZero() {
		now = r.timeProvider.Now()
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending'
		  AND (scheduled_at IS NULL OR scheduled_at <= $1)`
	args := []any{now.UTC()}
	if len(filter.Types) > 0 {
		args = append(args, jobTypeStrings(filter.Types))
		query += fmt.Sprintf(" AND type = ANY($%d::text[])", len(args))
	}
	args = append(args, eligibleLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY priority DESC, created_at ASC, id ASC LIMIT $%d", len(args))

	jobs, err := r.queryJobs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNext atomically moves the next eligible job to processing under a lease.
func (r *JobRepo) ClaimNext(ctx context.Context, req model.ClaimRequest) (*model.Job, error) {
	if strings.TrimSpace(req.WorkerID) == "" {
		return nil, errors.New("worker id is required")
	}
	if req.Lease <= 0 {
		return nil, errors.New("lease must be positive")
	}

	now := req.Now
	if now.IsZero() {
		now = r.timeProvider.Now()
	}
	now = now.UTC()

	var job *model.Job
	err := pgxutil.Tx(ctx, r.DB, pgx.ReadCommitted, func(tx pgx.Tx) error {
		rows, qerr := tx.Query(ctx, claimNextSQL,
			now,
			jobTypeStrings(req.Types),
			req.WorkerID,
			now.Add(req.Lease),
		)
		if qerr != nil {
			return fmt.Errorf("claim job: %w", qerr)
		}
		defer rows.Close()

		j, cerr := collectJobFromRows(rows)
		if errors.Is(cerr, pgx.ErrNoRows) {
			return model.ErrNoJobsAvailable
		}
		if cerr != nil {
			return fmt.Errorf("claim job: %w", cerr)
		}
		job = j
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// WaitForNotification blocks until Create announces a new job on the job_added channel.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	_, err := pgxutil.WaitNotify(ctx, r.DB, jobAddedChannel)
	return err
}

// queryJobs runs a SELECT returning jobColumns over a pgx connection.
func (r *JobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	var result []*model.Job
	err := pgxutil.Conn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			job, scanErr := scanJobFromRow(rows)
			if scanErr != nil {
				return scanErr
			}
			result = append(result, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

const (
	defaultEligibleLimit = 10
	maxQueryLimit        = 1000
)

func eligibleLimit(limit int) int {
	if limit <= 0 {
		return defaultEligibleLimit
	}
	return min(limit, maxQueryLimit)
}

func jobTypeStrings(types []model.JobType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, string(t))
	}
	return out
}

func notFound(id string) error {
	return apperrors.Wrapf(ErrJobNotFound, apperrors.ErrCodeNotFound, "job %s", id)
}

func conflict(id string, version int64) error {
	return apperrors.Wrapf(ErrVersionConflict, apperrors.ErrCodePersistenceConflict, "save job %s at version %d", id, version)
}

// jobDocuments holds the JSONB columns of a job encoded for the driver.
type jobDocuments struct {
	input, output, metadata, errorLog []byte
}

func encodeJobDocuments(job *model.Job) (jobDocuments, error) {
	docs := jobDocuments{
		input:    []byte(`{}`),
		metadata: []byte(`{}`),
		errorLog: []byte(`[]`),
	}
	if len(job.Input) > 0 {
		docs.input = job.Input
	}
	if len(job.Output) > 0 {
		docs.output = job.Output
	}
	if len(job.Metadata) > 0 {
		docs.metadata = job.Metadata
	}
	if len(job.ErrorLog) > 0 {
		encoded, err := json.Marshal(job.ErrorLog)
		if err != nil {
			return jobDocuments{}, fmt.Errorf("failed to marshal error log: %w", err)
		}
		docs.errorLog = encoded
	}
	return docs, nil
}

func insertArgs(job *model.Job, docs jobDocuments) []any {
	return []any{
		job.ID,
		job.Owner,
		string(job.Type),
		string(job.Status),
		int16(job.Priority),
		docs.input,
		docs.output,
		job.Progress,
		job.TotalItems,
		job.ProcessedItems,
		job.SuccessItems,
		job.FailedItems,
		docs.errorLog,
		job.ScheduledAt,
		job.StartedAt,
		job.CompletedAt,
		job.EstimatedCompletion,
		job.RetryCount,
		job.MaxRetries,
		docs.metadata,
		job.LeaseOwner,
		job.LeaseExpiresAt,
		job.Version,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	}
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	priority, progress                                        int16
	input, output, metadata, errorLog                         []byte
	totalItems                                                sql.NullInt32
	leaseOwner                                                sql.NullString
	scheduledAt, startedAt, completedAt, eta, leaseExpiresAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Owner,
		&job.Type,
		&job.Status,
		&d.priority,
		&d.input,
		&d.output,
		&d.progress,
		&d.totalItems,
		&job.ProcessedItems,
		&job.SuccessItems,
		&job.FailedItems,
		&d.errorLog,
		&d.scheduledAt,
		&d.startedAt,
		&d.completedAt,
		&d.eta,
		&job.RetryCount,
		&job.MaxRetries,
		&d.metadata,
		&d.leaseOwner,
		&d.leaseExpiresAt,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	job.Priority = model.Priority(d.priority)
	job.Progress = int(d.progress)
	job.Input = cloneJSON(d.input)
	job.Metadata = cloneJSON(d.metadata)
	if len(d.output) > 0 {
		job.Output = append(json.RawMessage(nil), d.output...)
	}
	if d.totalItems.Valid {
		total := int(d.totalItems.Int32)
		job.TotalItems = &total
	}
	if len(d.errorLog) > 0 {
		if err := json.Unmarshal(d.errorLog, &job.ErrorLog); err != nil {
			return fmt.Errorf("decode error log: %w", err)
		}
	}
	job.ScheduledAt = cloneNullableTime(d.scheduledAt)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.EstimatedCompletion = cloneNullableTime(d.eta)
	job.LeaseOwner = cloneNullableString(d.leaseOwner)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
