// Package testutil provides testing utilities and helpers for the job engine.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/target/jobengine/internal/domain/model"
)

// ImportInput is a minimal valid input for import jobs.
const ImportInput = `{"source_uri":"s3://bucket/batch.csv","format":"csv"}`

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder for an import job owned by "owner-1".
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Owner: "owner-1",
			Type:  model.JobTypeImport,
			Input: json.RawMessage(ImportInput),
		},
	}
}

// WithOwner sets the owner.
func (b *JobRequestBuilder) WithOwner(owner string) *JobRequestBuilder {
	b.req.Owner = owner
	return b
}

// WithPriority sets the priority.
func (b *JobRequestBuilder) WithPriority(p model.Priority) *JobRequestBuilder {
	b.req.Priority = &p
	return b
}

// WithMaxRetries sets the retry budget.
func (b *JobRequestBuilder) WithMaxRetries(n int) *JobRequestBuilder {
	b.req.MaxRetries = &n
	return b
}

// WithScheduledAt sets the earliest dispatch time.
func (b *JobRequestBuilder) WithScheduledAt(at time.Time) *JobRequestBuilder {
	b.req.ScheduledAt = &at
	return b
}

// WithTotalItems sets the known item count.
func (b *JobRequestBuilder) WithTotalItems(n int) *JobRequestBuilder {
	b.req.TotalItems = &n
	return b
}

// WithMetadataString sets metadata from a JSON string.
func (b *JobRequestBuilder) WithMetadataString(metadata string) *JobRequestBuilder {
	b.req.Metadata = json.RawMessage(metadata)
	return b
}

// Build returns the built CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// JobBuilder builds model.Job records for store-level tests.
type JobBuilder struct {
	job *model.Job
}

// NewJob creates a pending import job with normal priority created at TestTime.
func NewJob() *JobBuilder {
	return &JobBuilder{
		job: &model.Job{
			Owner:      "owner-1",
			Type:       model.JobTypeImport,
			Status:     model.JobStatusPending,
			Priority:   model.PriorityNormal,
			Input:      json.RawMessage(ImportInput),
			Metadata:   json.RawMessage(`{}`),
			MaxRetries: model.DefaultMaxRetries,
			CreatedAt:  TestTime(),
			UpdatedAt:  TestTime(),
		},
	}
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithOwner sets the owner.
func (b *JobBuilder) WithOwner(owner string) *JobBuilder {
	b.job.Owner = owner
	return b
}

// WithType sets the job type.
func (b *JobBuilder) WithType(t model.JobType) *JobBuilder {
	b.job.Type = t
	return b
}

// WithStatus sets the status.
func (b *JobBuilder) WithStatus(s model.JobStatus) *JobBuilder {
	b.job.Status = s
	return b
}

// WithPriority sets the priority.
func (b *JobBuilder) WithPriority(p model.Priority) *JobBuilder {
	b.job.Priority = p
	return b
}

// CreatedAt sets both creation and update timestamps.
func (b *JobBuilder) CreatedAt(at time.Time) *JobBuilder {
	b.job.CreatedAt = at
	b.job.UpdatedAt = at
	return b
}

// ScheduledAt sets the earliest dispatch time.
func (b *JobBuilder) ScheduledAt(at time.Time) *JobBuilder {
	b.job.ScheduledAt = &at
	return b
}

// CompletedAt sets the completion time.
func (b *JobBuilder) CompletedAt(at time.Time) *JobBuilder {
	b.job.CompletedAt = &at
	return b
}

// WithRetries sets retry count and budget.
func (b *JobBuilder) WithRetries(count, maxRetries int) *JobBuilder {
	b.job.RetryCount = count
	b.job.MaxRetries = maxRetries
	return b
}

// Build returns the job.
func (b *JobBuilder) Build() *model.Job {
	return b.job
}
