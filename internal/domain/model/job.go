// Package model defines the core data types of the job engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType selects the handler that executes a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	// JobTypeImport represents a bulk import job.
	JobTypeImport JobType = "import"
	// JobTypeStatusUpdate represents a status reconciliation job.
	JobTypeStatusUpdate JobType = "status_update"
	// JobTypeVerification represents a document verification job.
	JobTypeVerification JobType = "verification"
	// JobTypeExport represents a data export job.
	JobTypeExport JobType = "export"
	// JobTypeCleanup represents a retention/cleanup job.
	JobTypeCleanup JobType = "cleanup"

	// JobStatusPending indicates a job is waiting to be dispatched.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a handler is executing the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the handler finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the last attempt failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled on request.
	JobStatusCancelled JobStatus = "cancelled"
)

// MaxErrorLogEntries bounds the error log kept on a job; the oldest entries are dropped first.
const MaxErrorLogEntries = 100

// DefaultMaxRetries is applied when an enqueue request does not set max retries.
const DefaultMaxRetries = 3

// ErrNoJobsAvailable is returned by claim operations when nothing is eligible.
var ErrNoJobsAvailable = errors.New("no jobs available")

// AllJobTypes lists every supported job type.
func AllJobTypes() []JobType {
	return []JobType{JobTypeImport, JobTypeStatusUpdate, JobTypeVerification, JobTypeExport, JobTypeCleanup}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeImport, JobTypeStatusUpdate, JobTypeVerification, JobTypeExport, JobTypeCleanup:
		return true
	default:
		return false
	}
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is expected without an explicit retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ErrorLogEntry records one failure observed while running a job.
type ErrorLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Attempt   int            `json:"attempt"`
	Context   map[string]any `json:"context,omitempty"`
}

// Job represents a unit of asynchronous work tracked by the engine.
type Job struct {
	ID                  string          `json:"id"`
	Owner               string          `json:"owner"`
	Type                JobType         `json:"type"`
	Status              JobStatus       `json:"status"`
	Priority            Priority        `json:"priority"`
	Input               json.RawMessage `json:"input"`
	Output              json.RawMessage `json:"output,omitempty"`
	Progress            int             `json:"progress"`
	TotalItems          *int            `json:"total_items,omitempty"`
	ProcessedItems      int             `json:"processed_items"`
	SuccessItems        int             `json:"success_items"`
	FailedItems         int             `json:"failed_items"`
	ErrorLog            []ErrorLogEntry `json:"error_log"`
	ScheduledAt         *time.Time      `json:"scheduled_at,omitempty"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time      `json:"estimated_completion,omitempty"`
	RetryCount          int             `json:"retry_count"`
	MaxRetries          int             `json:"max_retries"`
	Metadata            json.RawMessage `json:"metadata"`
	LeaseOwner          *string         `json:"lease_owner,omitempty"`
	LeaseExpiresAt      *time.Time      `json:"lease_expires_at,omitempty"`
	Version             int64           `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Attempt returns the 1-based number of the current execution attempt.
func (j *Job) Attempt() int {
	return j.RetryCount + 1
}

// Clone returns a deep copy so snapshots handed to subscribers cannot alias engine state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Input = cloneRaw(j.Input)
	cp.Output = cloneRaw(j.Output)
	cp.Metadata = cloneRaw(j.Metadata)
	cp.TotalItems = cloneInt(j.TotalItems)
	cp.ScheduledAt = cloneTime(j.ScheduledAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.EstimatedCompletion = cloneTime(j.EstimatedCompletion)
	cp.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	if j.LeaseOwner != nil {
		owner := *j.LeaseOwner
		cp.LeaseOwner = &owner
	}
	if j.ErrorLog != nil {
		cp.ErrorLog = make([]ErrorLogEntry, len(j.ErrorLog))
		for i, entry := range j.ErrorLog {
			cp.ErrorLog[i] = entry
			if entry.Context != nil {
				ctx := make(map[string]any, len(entry.Context))
				for k, v := range entry.Context {
					ctx[k] = v
				}
				cp.ErrorLog[i].Context = ctx
			}
		}
	}
	return &cp
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	Owner       string          `json:"owner"`
	Type        JobType         `json:"type"`
	Priority    *Priority       `json:"priority,omitempty"`
	Input       json.RawMessage `json:"input"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	MaxRetries  *int            `json:"max_retries,omitempty"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	TotalItems  *int            `json:"total_items,omitempty"`
}

// Validate validates the CreateJobRequest fields, including the typed input for its job type.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return errors.New("owner is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid job type %q", r.Type)
	}
	if r.Priority != nil && !r.Priority.Valid() {
		return fmt.Errorf("invalid priority %d", *r.Priority)
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if r.TotalItems != nil && *r.TotalItems < 0 {
		return errors.New("total items must be >= 0")
	}
	if len(r.Metadata) > 0 && !isJSONObject(r.Metadata) {
		return errors.New("metadata must be a JSON object")
	}
	if err := ValidateInput(r.Type, r.Input); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	return nil
}

// PriorityOrDefault returns the requested priority or PriorityNormal.
func (r *CreateJobRequest) PriorityOrDefault() Priority {
	if r.Priority == nil {
		return PriorityNormal
	}
	return *r.Priority
}

// MaxRetriesOrDefault returns the requested retry budget or DefaultMaxRetries.
func (r *CreateJobRequest) MaxRetriesOrDefault() int {
	if r.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *r.MaxRetries
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]any
	return json.Unmarshal(raw, &m) == nil && m != nil
}
