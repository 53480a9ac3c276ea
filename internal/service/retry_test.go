package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainjob "github.com/target/jobengine/internal/domain/job"
	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
	"github.com/target/jobengine/internal/observability/notify"
	"github.com/target/jobengine/internal/service/failurenotifier"
)

// fail moves a processing job to failed the way the dispatcher does.
func (h *engineHarness) fail(t *testing.T, id, message string) *model.Job {
	t.Helper()
	job, _, err := h.jobs.transition(context.Background(), id, nil, model.EventJobFailed,
		func(j *model.Job, now time.Time) (bool, error) {
			return true, domainjob.Fail(j, domainjob.FailureInfo{Message: message}, now)
		})
	require.NoError(t, err)
	return job
}

func TestNewRetryController(t *testing.T) {
	_, err := NewRetryController(RetryControllerOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JobService is required")
}

func TestRetryController_LinearBackoff(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, importRequest("acme"))

	// Two earlier failures already consumed one retry each.
	for range 2 {
		h.start(t, job.ID)
		h.fail(t, job.ID, "timeout talking to upstream")
		_, err := h.retry.HandleFailure(context.Background(), job.ID, errors.New("timeout talking to upstream"))
		require.NoError(t, err)
	}

	stored, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	require.NotNil(t, stored.ScheduledAt)
	assert.Equal(t, testNow.Add(120*time.Second), *stored.ScheduledAt)
	assert.Len(t, stored.ErrorLog, 2)
	assert.Nil(t, stored.StartedAt)
	assert.Nil(t, stored.CompletedAt)
	assert.Nil(t, stored.EstimatedCompletion)
}

func TestRetryController_FirstRetryWaitsOneStep(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, importRequest("acme"))
	h.start(t, job.ID)
	h.fail(t, job.ID, "boom")

	outcome, err := h.retry.HandleFailure(context.Background(), job.ID, errors.New("boom"))
	require.NoError(t, err)

	assert.True(t, outcome.Decision.Retry)
	assert.Equal(t, time.Minute, outcome.Decision.Delay)
	assert.NoError(t, outcome.Exhausted)
	assert.Equal(t, model.JobStatusPending, outcome.Job.Status)
	assert.Equal(t, 1, outcome.Job.RetryCount)
	assert.Equal(t, model.EventJobRetry, h.events.last().Type)
	assert.Equal(t, 1, h.events.last().Job.RetryCount)
}

func TestRetryController_CustomPolicy(t *testing.T) {
	h := newHarness(t)
	retry, err := NewRetryController(RetryControllerOptions{
		Jobs:   h.jobs,
		Policy: domainjob.NewRetryPolicy(domainjob.LinearBackoff{Step: 5 * time.Second}),
		Logger: discardLogger(),
	})
	require.NoError(t, err)

	job := h.enqueue(t, importRequest("acme"))
	h.start(t, job.ID)
	h.fail(t, job.ID, "boom")

	outcome, err := retry.HandleFailure(context.Background(), job.ID, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(5*time.Second), *outcome.Job.ScheduledAt)
}

func TestRetryController_ExhaustedNotifies(t *testing.T) {
	h := newHarness(t)

	var (
		mu       sync.Mutex
		received []notify.JobFailurePayload
	)
	notifier := failurenotifier.NewService(failurenotifier.Options{
		Logger: discardLogger(),
		Sinks: []failurenotifier.SinkRegistration{{
			Name: "capture",
			Sink: notify.SinkFunc(func(_ context.Context, p notify.JobFailurePayload) error {
				mu.Lock()
				defer mu.Unlock()
				received = append(received, p)
				return nil
			}),
		}},
	})
	retry, err := NewRetryController(RetryControllerOptions{
		Jobs:            h.jobs,
		FailureNotifier: notifier,
		Logger:          discardLogger(),
		Metrics:         h.metrics,
	})
	require.NoError(t, err)

	zero := 0
	req := importRequest("acme")
	req.MaxRetries = &zero
	job := h.enqueue(t, req)
	h.start(t, job.ID)
	h.fail(t, job.ID, "schema mismatch")

	outcome, err := retry.HandleFailure(context.Background(), job.ID, apperrors.Handler(errors.New("schema mismatch")))
	require.NoError(t, err)

	assert.False(t, outcome.Decision.Retry)
	assert.True(t, apperrors.IsRetryExhausted(outcome.Exhausted))
	assert.Equal(t, model.JobStatusFailed, outcome.Job.Status)
	assert.Zero(t, outcome.Job.RetryCount)

	require.Len(t, received, 1)
	assert.Equal(t, job.ID, received[0].JobID)
	assert.Equal(t, "import", received[0].JobType)
	assert.Equal(t, 1, received[0].Attempts)
	assert.Len(t, h.metrics.Samples("job.retry_exhausted"), 1)
	assert.NotContains(t, h.events.types(job.ID), model.EventJobRetry)
}

func TestRetryController_IgnoresJobsThatAreNotFailed(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t, importRequest("acme"))

	outcome, err := h.retry.HandleFailure(context.Background(), job.ID, errors.New("late"))
	require.NoError(t, err)

	assert.False(t, outcome.Decision.Retry)
	assert.Equal(t, "job is pending", outcome.Decision.Reason)
	assert.NoError(t, outcome.Exhausted)
	assert.Equal(t, model.JobStatusPending, outcome.Job.Status)
	assert.Empty(t, h.events.types(job.ID))
}

func TestRetryController_UnknownJob(t *testing.T) {
	h := newHarness(t)

	_, err := h.retry.HandleFailure(context.Background(), "2f1d3c4b-0000-4000-8000-000000000000", errors.New("x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRetryController_RetryCountNeverExceedsBudget(t *testing.T) {
	h := newHarness(t)
	retries := 2
	req := importRequest("acme")
	req.MaxRetries = &retries
	job := h.enqueue(t, req)

	previous := 0
	for range 5 {
		current, err := h.jobs.Get(context.Background(), job.ID)
		require.NoError(t, err)
		if current.Status != model.JobStatusPending {
			break
		}
		h.start(t, job.ID)
		h.fail(t, job.ID, "boom")
		outcome, err := h.retry.HandleFailure(context.Background(), job.ID, errors.New("boom"))
		require.NoError(t, err)

		assert.GreaterOrEqual(t, outcome.Job.RetryCount, previous)
		assert.LessOrEqual(t, outcome.Job.RetryCount, outcome.Job.MaxRetries)
		previous = outcome.Job.RetryCount
	}

	final, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Equal(t, 2, final.RetryCount)
	assert.Len(t, final.ErrorLog, 3)
}
