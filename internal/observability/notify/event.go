package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
)

// JobFailurePayload describes a job that failed with no retries left.
type JobFailurePayload struct {
	JobID      string
	JobType    string
	Owner      string
	Error      string
	ErrorClass string
	Severity   string
	// Attempts is the number of executions made, including the first one.
	Attempts   int
	MaxRetries int
	OccurredAt time.Time
	Metadata   map[string]string
}

// Summary returns a one-line description used as alert title.
func (p JobFailurePayload) Summary() string {
	id := strings.TrimSpace(p.JobID)
	if id == "" {
		id = "unknown"
	}
	jobType := strings.TrimSpace(p.JobType)
	if jobType == "" {
		jobType = "unknown"
	}
	if p.Attempts > 0 {
		return fmt.Sprintf("Job %s (%s) failed after %d attempt(s)", id, jobType, p.Attempts)
	}
	return fmt.Sprintf("Job %s (%s) failed", id, jobType)
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
