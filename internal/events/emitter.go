// Package events delivers job lifecycle events to in-process subscribers and remote transports.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/domain/model"
)

// EmitterOptions configures an Emitter.
type EmitterOptions struct {
	Publisher core.EventPublisher
	Logger    *slog.Logger
	Clock     core.Clock
}

// Emitter turns state transitions into LifecycleEvents and hands them to a publisher.
// Publishing is synchronous; publisher errors and panics are logged and never returned,
// so a persisted transition is never undone by a failing subscriber.
type Emitter struct {
	publisher core.EventPublisher
	logger    *slog.Logger
	clock     core.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewEmitter constructs an Emitter. A nil publisher results in Noop.
func NewEmitter(opts EmitterOptions) *Emitter {
	pub := opts.Publisher
	if pub == nil {
		pub = Noop{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		publisher: pub,
		logger:    logger.With("component", "event_emitter"),
		clock:     clock,
	}
}

// Emit publishes one event of type t carrying a snapshot of job.
func (e *Emitter) Emit(ctx context.Context, t model.EventType, job *model.Job) model.LifecycleEvent {
	evt := e.Build(t, job)
	e.Publish(ctx, evt)
	return evt
}

// Build snapshots job into an event of type t stamped with the emitter's clock.
func (e *Emitter) Build(t model.EventType, job *model.Job) model.LifecycleEvent {
	return NewEvent(t, job, e.clock.Now())
}

// Publish hands a built event to the publisher.
func (e *Emitter) Publish(ctx context.Context, evt model.LifecycleEvent) {
	if err := safePublish(ctx, e.publisher, evt); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			"event_type", string(evt.Type),
			"job_id", evt.JobID,
			"error", err,
		)
	}
}

// NewEvent builds a LifecycleEvent with a deep copy of job.
func NewEvent(t model.EventType, job *model.Job, now time.Time) model.LifecycleEvent {
	snap := job.Clone()
	evt := model.LifecycleEvent{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: now.UTC(),
		Job:        snap,
	}
	if snap != nil {
		evt.JobID = snap.ID
		evt.JobType = snap.Type
		evt.Owner = snap.Owner
	}
	return evt
}

// safePublish converts a publisher panic into an error.
func safePublish(ctx context.Context, pub core.EventPublisher, evt model.LifecycleEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return pub.Publish(ctx, evt)
}
