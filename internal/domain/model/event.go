package model

import "time"

// EventType names a lifecycle transition broadcast to subscribers.
type EventType string

const (
	// EventJobStarted is emitted when a pending job moves to processing.
	EventJobStarted EventType = "job:started"
	// EventJobProgress is emitted after every accepted progress update.
	EventJobProgress EventType = "job:progress"
	// EventJobCompleted is emitted when a handler finishes successfully.
	EventJobCompleted EventType = "job:completed"
	// EventJobFailed is emitted when an attempt fails.
	EventJobFailed EventType = "job:failed"
	// EventJobCancelled is emitted when a job is cancelled.
	EventJobCancelled EventType = "job:cancelled"
	// EventJobRetry is emitted when a failed job is rescheduled.
	EventJobRetry EventType = "job:retry"
)

// AllEventTypes lists every lifecycle event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventJobStarted,
		EventJobProgress,
		EventJobCompleted,
		EventJobFailed,
		EventJobCancelled,
		EventJobRetry,
	}
}

// Short returns the event name without the "job:" prefix, e.g. "started".
func (t EventType) Short() string {
	const prefix = "job:"
	s := string(t)
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

// LifecycleEvent carries a snapshot of a job taken right after a transition.
type LifecycleEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	JobType    JobType   `json:"job_type"`
	Owner      string    `json:"owner"`
	OccurredAt time.Time `json:"occurred_at"`
	Job        *Job      `json:"job"`
}
