package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobengine/internal/domain/model"
	apperrors "github.com/target/jobengine/internal/errors"
)

func processingJob(total *int, startedAt time.Time) *model.Job {
	j := newJob(model.JobStatusProcessing)
	j.TotalItems = total
	j.StartedAt = &startedAt
	return j
}

func intPtr(v int) *int { return &v }

func TestApplyProgress_ETA(t *testing.T) {
	j := processingJob(intPtr(100), t0)
	now := t0.Add(10 * time.Minute)

	require.NoError(t, ApplyProgress(j, ProgressUpdate{Processed: 50, SuccessDelta: 48, FailedDelta: 2}, now))

	assert.Equal(t, 50, j.Progress)
	assert.Equal(t, 50, j.ProcessedItems)
	assert.Equal(t, 48, j.SuccessItems)
	assert.Equal(t, 2, j.FailedItems)
	require.NotNil(t, j.EstimatedCompletion)
	assert.WithinDuration(t, now.Add(10*time.Minute), *j.EstimatedCompletion, time.Millisecond)
}

func TestApplyProgress_ETAUnsetWithoutRateOrTotal(t *testing.T) {
	t.Run("unknown total", func(t *testing.T) {
		j := processingJob(nil, t0)
		require.NoError(t, ApplyProgress(j, ProgressUpdate{Processed: 10}, t0.Add(time.Minute)))
		assert.Nil(t, j.EstimatedCompletion)
		assert.Zero(t, j.Progress)
	})

	t.Run("zero rate", func(t *testing.T) {
		j := processingJob(intPtr(10), t0)
		require.NoError(t, ApplyProgress(j, ProgressUpdate{Processed: 0}, t0.Add(time.Minute)))
		assert.Nil(t, j.EstimatedCompletion)
	})

	t.Run("no elapsed time", func(t *testing.T) {
		j := processingJob(intPtr(10), t0)
		require.NoError(t, ApplyProgress(j, ProgressUpdate{Processed: 5}, t0))
		assert.Nil(t, j.EstimatedCompletion)
	})
}

func TestApplyProgress_ClampsToTotal(t *testing.T) {
	j := processingJob(intPtr(20), t0)
	require.NoError(t, ApplyProgress(j, ProgressUpdate{Processed: 35}, t0.Add(time.Second)))
	assert.Equal(t, 20, j.ProcessedItems)
	assert.Equal(t, 100, j.Progress)
	require.NotNil(t, j.EstimatedCompletion)
	assert.Equal(t, t0.Add(time.Second), *j.EstimatedCompletion)
}

func TestApplyProgress_RoundsPercentage(t *testing.T) {
	j := processingJob(intPtr(3), t0)
	require.NoError(t, ApplyProgress(j, ProgressUpdate{Processed: 1}, t0.Add(time.Second)))
	assert.Equal(t, 33, j.Progress)
	require.NoError(t, ApplyProgress(j, ProgressUpdate{Processed: 2}, t0.Add(2*time.Second)))
	assert.Equal(t, 67, j.Progress)
}

func TestApplyProgress_Rejections(t *testing.T) {
	j := processingJob(intPtr(10), t0)
	assert.True(t, apperrors.IsValidation(ApplyProgress(j, ProgressUpdate{Processed: -1}, t0)))
	assert.True(t, apperrors.IsValidation(ApplyProgress(j, ProgressUpdate{Processed: 1, SuccessDelta: -1}, t0)))

	pending := newJob(model.JobStatusPending)
	assert.True(t, apperrors.IsInvalidTransition(ApplyProgress(pending, ProgressUpdate{Processed: 1}, t0)))
}

func TestApplyProgress_InvariantsOverManyUpdates(t *testing.T) {
	j := processingJob(intPtr(40), t0)
	for i, processed := range []int{0, 5, 17, 39, 40, 41, 100, 3} {
		require.NoError(t, ApplyProgress(j, ProgressUpdate{Processed: processed, SuccessDelta: 1}, t0.Add(time.Duration(i+1)*time.Second)))
		assert.GreaterOrEqual(t, j.Progress, 0)
		assert.LessOrEqual(t, j.Progress, 100)
		assert.LessOrEqual(t, j.ProcessedItems, *j.TotalItems)
	}
	assert.Equal(t, 8, j.SuccessItems)
}

func TestSetTotal(t *testing.T) {
	j := processingJob(nil, t0)
	j.ProcessedItems = 30
	require.NoError(t, SetTotal(j, 20, t0.Add(time.Minute)))
	require.NotNil(t, j.TotalItems)
	assert.Equal(t, 20, *j.TotalItems)
	assert.Equal(t, 20, j.ProcessedItems)
	assert.Equal(t, 100, j.Progress)

	assert.True(t, apperrors.IsValidation(SetTotal(j, -1, t0)))
	assert.True(t, apperrors.IsInvalidTransition(SetTotal(newJob(model.JobStatusCompleted), 5, t0)))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 10))
	assert.Equal(t, 50, Percent(5, 10))
	assert.Equal(t, 100, Percent(15, 10))
	assert.Equal(t, 100, Percent(0, 0))
}
