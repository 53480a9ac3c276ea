package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobengine/internal/domain/model"
)

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff{Step: time.Minute}
	assert.Equal(t, time.Minute, b.Delay(1))
	assert.Equal(t, 2*time.Minute, b.Delay(2))
	assert.Equal(t, 5*time.Minute, b.Delay(5))
	assert.Zero(t, b.Delay(-1))
}

func TestRetryPolicy_FirstRetryWaitsOneMinute(t *testing.T) {
	p := NewRetryPolicy(nil)
	j := newJob(model.JobStatusFailed)

	d, err := p.Apply(j, t0)
	require.NoError(t, err)
	assert.True(t, d.Retry)
	assert.Equal(t, time.Minute, d.Delay)
	assert.Equal(t, 1, j.RetryCount)
	assert.Equal(t, t0.Add(time.Minute), *j.ScheduledAt)
}

func TestRetryPolicy_SecondRetryWaitsTwoMinutes(t *testing.T) {
	p := NewRetryPolicy(LinearBackoff{Step: 60 * time.Second})
	j := newJob(model.JobStatusFailed)
	j.RetryCount = 1

	d, err := p.Apply(j, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, j.RetryCount)
	assert.Equal(t, model.JobStatusPending, j.Status)
	assert.Equal(t, 120*time.Second, d.Delay)
	assert.Equal(t, t0.Add(120*time.Second), *j.ScheduledAt)
}

func TestRetryPolicy_DelayTable(t *testing.T) {
	tests := []struct {
		before int
		after  int
		delay  time.Duration
	}{
		{before: 0, after: 1, delay: 60 * time.Second},
		{before: 1, after: 2, delay: 120 * time.Second},
		{before: 2, after: 3, delay: 180 * time.Second},
	}
	for _, tt := range tests {
		j := newJob(model.JobStatusFailed)
		j.MaxRetries = 5
		j.RetryCount = tt.before

		d, err := NewRetryPolicy(nil).Apply(j, t0)
		require.NoError(t, err)
		assert.Equal(t, tt.after, j.RetryCount)
		assert.Equal(t, tt.delay, d.Delay, "retry count %d before failure", tt.before)
		assert.Equal(t, t0.Add(tt.delay), *j.ScheduledAt)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := NewRetryPolicy(nil)
	j := newJob(model.JobStatusFailed)
	j.MaxRetries = 1
	j.RetryCount = 1

	d, err := p.Apply(j, t0)
	require.NoError(t, err)
	assert.False(t, d.Retry)
	assert.Equal(t, "retries exhausted", d.Reason)
	assert.Equal(t, model.JobStatusFailed, j.Status)
	assert.Equal(t, 1, j.RetryCount)
}

func TestRetryPolicy_ZeroBudgetNeverRetries(t *testing.T) {
	p := NewRetryPolicy(nil)
	j := newJob(model.JobStatusFailed)
	j.MaxRetries = 0

	assert.False(t, p.Decide(j, t0).Retry)
}

func TestRetryPolicy_RetryCountNeverExceedsMax(t *testing.T) {
	p := NewRetryPolicy(nil)
	j := newJob(model.JobStatusPending)
	j.MaxRetries = 2

	now := t0
	for range 5 {
		if j.Status == model.JobStatusPending {
			require.NoError(t, Start(j, now))
		}
		if j.Status != model.JobStatusProcessing {
			break
		}
		require.NoError(t, Fail(j, FailureInfo{Message: "boom"}, now))
		before := j.RetryCount
		_, err := p.Apply(j, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, j.RetryCount, before)
		assert.LessOrEqual(t, j.RetryCount, j.MaxRetries)
		now = now.Add(time.Hour)
	}

	assert.Equal(t, model.JobStatusFailed, j.Status)
	assert.Equal(t, 2, j.RetryCount)
	assert.Len(t, j.ErrorLog, 3)
}
