package model

import "time"

// JobListOptions groups parameters for listing jobs with optional filters.
type JobListOptions struct {
	Owner  *string    // Optional filter by owner
	Status *JobStatus // Optional filter by status
	Type   *JobType   // Optional filter by type
	Limit  int        // Pagination limit
	Offset int        // Pagination offset
}

// EligibleFilter selects pending jobs that are ready to dispatch.
type EligibleFilter struct {
	Now   time.Time
	Types []JobType // Optional; empty means every type
	Limit int
}

// ClaimRequest asks the store to atomically lease the next eligible job.
type ClaimRequest struct {
	Now      time.Time
	WorkerID string
	Lease    time.Duration
	Types    []JobType
}

// JobStatsOptions bounds the window used for aggregate statistics.
type JobStatsOptions struct {
	Since time.Time
	Owner *string
}

// JobStatsRow aggregates jobs sharing a (type, status) pair.
type JobStatsRow struct {
	Type              JobType   `json:"type"`
	Status            JobStatus `json:"status"`
	Count             int64     `json:"count"`
	AvgProcessedItems float64   `json:"avg_processed_items"`
	SuccessItems      int64     `json:"success_items"`
	FailedItems       int64     `json:"failed_items"`
}

// DeleteTerminalParams groups parameters for the retention sweep.
type DeleteTerminalParams struct {
	Before    time.Time
	Statuses  []JobStatus
	BatchSize int
}
