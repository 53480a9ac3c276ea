package job

import (
	"errors"
	"math"
	"time"

	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
)

// ProgressUpdate is one progress report from a running handler.
type ProgressUpdate struct {
	Processed    int
	SuccessDelta int
	FailedDelta  int
}

// Validate rejects negative counts; counters never decrease.
func (u ProgressUpdate) Validate() error {
	if u.Processed < 0 {
		return apperrors.ValidationField("processed", "processed must be >= 0")
	}
	if u.SuccessDelta < 0 || u.FailedDelta < 0 {
		return apperrors.Validation("progress deltas must be >= 0")
	}
	return nil
}

var errNotProcessing = errors.New("progress can only be reported while processing")

// ApplyProgress updates counters, percentage and estimated completion of a processing job.
func ApplyProgress(j *model.Job, u ProgressUpdate, now time.Time) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if j.Status != model.JobStatusProcessing {
		return apperrors.Wrap(errNotProcessing, apperrors.ErrCodeInvalidTransition, "progress rejected")
	}

	processed := u.Processed
	if j.TotalItems != nil && processed > *j.TotalItems {
		processed = *j.TotalItems
	}
	j.ProcessedItems = processed
	j.SuccessItems += u.SuccessDelta
	j.FailedItems += u.FailedDelta

	if j.TotalItems != nil {
		j.Progress = Percent(processed, *j.TotalItems)
	}
	j.EstimatedCompletion = EstimateCompletion(j, now)
	j.UpdatedAt = now.UTC()
	return nil
}

// SetTotal fixes the total number of items once the handler knows it.
func SetTotal(j *model.Job, total int, now time.Time) error {
	if total < 0 {
		return apperrors.ValidationField("total_items", "total items must be >= 0")
	}
	if j.Status != model.JobStatusProcessing && j.Status != model.JobStatusPending {
		return apperrors.Wrap(errNotProcessing, apperrors.ErrCodeInvalidTransition, "total rejected")
	}
	t := total
	j.TotalItems = &t
	if j.ProcessedItems > total {
		j.ProcessedItems = total
	}
	j.Progress = Percent(j.ProcessedItems, total)
	j.EstimatedCompletion = EstimateCompletion(j, now)
	j.UpdatedAt = now.UTC()
	return nil
}

// Percent returns round(processed/total*100) clamped to [0,100]. An empty total counts as done.
func Percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(float64(processed) / float64(total) * 100))
	return min(max(p, 0), 100)
}

// EstimateCompletion extrapolates linearly from the processing rate since StartedAt.
// It returns nil when the total is unknown, nothing has been processed yet, or no time has elapsed.
func EstimateCompletion(j *model.Job, now time.Time) *time.Time {
	if j.TotalItems == nil || j.StartedAt == nil {
		return nil
	}
	elapsed := now.Sub(*j.StartedAt)
	if elapsed <= 0 || j.ProcessedItems <= 0 {
		return nil
	}
	rate := float64(j.ProcessedItems) / float64(elapsed)
	remaining := *j.TotalItems - j.ProcessedItems
	if remaining < 0 {
		remaining = 0
	}
	eta := now.Add(time.Duration(float64(remaining) / rate)).UTC()
	return &eta
}
