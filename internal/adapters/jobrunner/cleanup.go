package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/domain/model"
)

// DefaultCleanupBatchSize bounds one delete statement of the retention sweep.
const DefaultCleanupBatchSize = 1000

// CleanupResult is the output recorded on a completed cleanup job.
type CleanupResult struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
	Batches int       `json:"batches"`
}

// CleanupHandler deletes terminal jobs older than the window named in the job input.
// It deletes in batches until a batch comes back short or the job is cancelled.
type CleanupHandler struct {
	janitor core.JobJanitor
	clock   core.Clock
	logger  *slog.Logger
}

// NewCleanupHandler constructs the built-in handler for model.JobTypeCleanup.
func NewCleanupHandler(janitor core.JobJanitor, clock core.Clock, logger *slog.Logger) (*CleanupHandler, error) {
	if janitor == nil {
		return nil, errors.New("job janitor is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupHandler{
		janitor: janitor,
		clock:   clock,
		logger:  logger.With("component", "cleanup_handler"),
	}, nil
}

// Handle implements core.Handler.
func (h *CleanupHandler) Handle(ctx context.Context, job *model.Job, progress core.ProgressReporter) (json.RawMessage, error) {
	in, err := model.DecodeInput[model.CleanupInput](job)
	if err != nil {
		return nil, err
	}

	batch := in.BatchSize
	if batch <= 0 {
		batch = DefaultCleanupBatchSize
	}
	result := CleanupResult{Cutoff: h.clock.Now().Add(-time.Duration(in.OlderThanHours) * time.Hour)}
	params := model.DeleteTerminalParams{
		Before:    result.Cutoff,
		Statuses:  in.TerminalStatuses(),
		BatchSize: batch,
	}

	for {
		if progress.Cancelled(ctx) {
			break
		}
		n, err := h.janitor.DeleteTerminalBefore(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("delete terminal jobs: %w", err)
		}
		result.Batches++
		result.Deleted += n
		if err := progress.Report(ctx, int(result.Deleted), int(n), 0); err != nil {
			h.logger.WarnContext(ctx, "cleanup progress not recorded", "id", job.ID, "error", err)
		}
		if n < int64(batch) {
			break
		}
	}

	h.logger.InfoContext(ctx, "cleanup finished",
		"id", job.ID,
		"deleted", result.Deleted,
		"batches", result.Batches,
		"cutoff", result.Cutoff,
	)
	return json.Marshal(result)
}
