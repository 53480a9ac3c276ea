package core

import (
	"context"
	"time"

	"github.com/target/jobengine/internal/domain/model"
)

// This file contains the ports the engine depends on. Services depend on these
// interfaces; the data and adapters packages provide the implementations.

// JobStore persists job records.
//
// Save is optimistic: it succeeds only when job.Version matches the stored version,
// bumps job.Version on success and otherwise returns a persistence_conflict error
// (or not_found when the record is gone).
type JobStore interface {
	Create(ctx context.Context, job *model.Job) (string, error)
	Load(ctx context.Context, id string) (*model.Job, error)
	Save(ctx context.Context, job *model.Job) error
	// QueryEligible returns pending jobs whose scheduled time is unset or not after filter.Now,
	// ordered by priority DESC then created_at ASC.
	QueryEligible(ctx context.Context, filter model.EligibleFilter) ([]*model.Job, error)
	// List returns jobs ordered by created_at DESC.
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	Stats(ctx context.Context, opts model.JobStatsOptions) ([]model.JobStatsRow, error)
	// WaitForNotification blocks until a job is created or ctx is done.
	WaitForNotification(ctx context.Context) error
}

// JobLeaser is implemented by stores that support claim-with-lease dispatch.
type JobLeaser interface {
	// ClaimNext atomically moves the best eligible job to processing and stamps its lease.
	// It returns model.ErrNoJobsAvailable when nothing is eligible.
	ClaimNext(ctx context.Context, req model.ClaimRequest) (*model.Job, error)
	// ListExpiredLeases returns processing jobs whose lease expired before now.
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*model.Job, error)
}

// JobJanitor deletes terminal jobs; used by the cleanup job handler.
type JobJanitor interface {
	DeleteTerminalBefore(ctx context.Context, params model.DeleteTerminalParams) (int64, error)
}

// EventPublisher delivers lifecycle events to a transport.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.LifecycleEvent) error
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, evt model.LifecycleEvent) error

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(ctx context.Context, evt model.LifecycleEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, evt)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
