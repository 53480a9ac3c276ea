// Package job holds the lifecycle rules of a job: legal transitions, error log
// bookkeeping, progress math, retry policy and availability notifications.
package job

import (
	"encoding/json"
	"time"

	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
)

var transitions = map[model.JobStatus][]model.JobStatus{
	model.JobStatusPending:    {model.JobStatusProcessing, model.JobStatusCancelled},
	model.JobStatusProcessing: {model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled},
	model.JobStatusFailed:     {model.JobStatusPending},
}

// CanTransition reports whether the table allows moving from one status to another.
// Guards that depend on the job itself (retry budget) are checked by the intent functions.
func CanTransition(from, to model.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(j *model.Job, to model.JobStatus) error {
	if !CanTransition(j.Status, to) {
		return apperrors.InvalidTransition(string(j.Status), string(to))
	}
	return nil
}

// Start moves a pending job to processing and resets per-attempt counters.
func Start(j *model.Job, now time.Time) error {
	if err := checkTransition(j, model.JobStatusProcessing); err != nil {
		return err
	}
	j.Status = model.JobStatusProcessing
	started := now.UTC()
	j.StartedAt = &started
	j.CompletedAt = nil
	j.EstimatedCompletion = nil
	j.Output = nil
	j.Progress = 0
	j.ProcessedItems = 0
	j.SuccessItems = 0
	j.FailedItems = 0
	j.UpdatedAt = started
	return nil
}

// Complete records a successful handler result.
func Complete(j *model.Job, output json.RawMessage, now time.Time) error {
	if err := checkTransition(j, model.JobStatusCompleted); err != nil {
		return err
	}
	done := now.UTC()
	j.Status = model.JobStatusCompleted
	j.Output = output
	j.Progress = 100
	j.CompletedAt = &done
	j.EstimatedCompletion = nil
	clearLease(j)
	j.UpdatedAt = done
	return nil
}

// FailureInfo describes a failed attempt for the error log.
type FailureInfo struct {
	Message string
	Context map[string]any
}

// Fail marks a processing job as failed and appends an error log entry for the current attempt.
func Fail(j *model.Job, info FailureInfo, now time.Time) error {
	if err := checkTransition(j, model.JobStatusFailed); err != nil {
		return err
	}
	failed := now.UTC()
	j.Status = model.JobStatusFailed
	j.CompletedAt = &failed
	j.EstimatedCompletion = nil
	clearLease(j)
	AppendErrorLog(j, model.ErrorLogEntry{
		Timestamp: failed,
		Message:   info.Message,
		Attempt:   j.Attempt(),
		Context:   info.Context,
	})
	j.UpdatedAt = failed
	return nil
}

// Cancel moves a pending or processing job to cancelled.
func Cancel(j *model.Job, now time.Time) error {
	if err := checkTransition(j, model.JobStatusCancelled); err != nil {
		return err
	}
	cancelled := now.UTC()
	j.Status = model.JobStatusCancelled
	j.CompletedAt = &cancelled
	j.EstimatedCompletion = nil
	clearLease(j)
	j.UpdatedAt = cancelled
	return nil
}

// CanRetry reports whether a failed job still has retry budget.
func CanRetry(j *model.Job) bool {
	return j.Status == model.JobStatusFailed && j.RetryCount < j.MaxRetries
}

// Requeue moves a failed job back to pending, consuming one retry and scheduling it at runAt.
// The caller computes runAt from the incremented retry count.
func Requeue(j *model.Job, runAt, now time.Time) error {
	if err := checkTransition(j, model.JobStatusPending); err != nil {
		return err
	}
	if j.RetryCount >= j.MaxRetries {
		return apperrors.RetryExhausted(j.ID, j.MaxRetries)
	}
	j.RetryCount++
	j.Status = model.JobStatusPending
	j.StartedAt = nil
	j.CompletedAt = nil
	j.EstimatedCompletion = nil
	scheduled := runAt.UTC()
	j.ScheduledAt = &scheduled
	j.UpdatedAt = now.UTC()
	return nil
}

func clearLease(j *model.Job) {
	j.LeaseOwner = nil
	j.LeaseExpiresAt = nil
}
