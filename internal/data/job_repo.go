package data

import (
	"database/sql"
	"log/slog"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides PostgreSQL persistence for jobs.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	logger := cfg.Logger
	if logger != nil {
		logger = logger.With("component", "job_repo")
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger,
	}
}

// jobAddedChannel is the LISTEN/NOTIFY channel signalled on every insert.
const jobAddedChannel = "job_added"

const jobColumns = `
  id,
  owner,
  type,
  status,
  priority,
  input,
  output,
  progress,
  total_items,
  processed_items,
  success_items,
  failed_items,
  error_log,
  scheduled_at,
  started_at,
  completed_at,
  estimated_completion,
  retry_count,
  max_retries,
  metadata,
  lease_owner,
  lease_expires_at,
  version,
  created_at,
  updated_at
`
