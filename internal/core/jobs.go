// Package core holds the ports between the job engine services and their
// storage, transport and handler implementations.
package core

import (
	"context"
	"encoding/json"

	"github.com/target/jobengine/internal/domain/model"
)

// ProgressReporter is handed to a running handler to report progress for its job.
type ProgressReporter interface {
	// SetTotal records the total number of items once the handler knows it.
	SetTotal(ctx context.Context, total int) error
	// Report sets the processed count and adds success/failure deltas.
	Report(ctx context.Context, processed, successDelta, failedDelta int) error
	// Cancelled reports whether the job was cancelled while running.
	Cancelled(ctx context.Context) bool
}

// Handler executes one job type. A returned error fails the attempt.
type Handler interface {
	Handle(ctx context.Context, job *model.Job, progress ProgressReporter) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *model.Job, progress ProgressReporter) (json.RawMessage, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job *model.Job, progress ProgressReporter) (json.RawMessage, error) {
	return f(ctx, job, progress)
}
