package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType_Valid(t *testing.T) {
	for _, jt := range AllJobTypes() {
		assert.True(t, jt.Valid(), jt)
	}
	assert.False(t, JobType("browser").Valid())
}

func TestJobType_UnmarshalText(t *testing.T) {
	var jt JobType
	require.NoError(t, jt.UnmarshalText([]byte(" Status_Update ")))
	assert.Equal(t, JobTypeStatusUpdate, jt)

	require.Error(t, jt.UnmarshalText([]byte("rules")))
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestPriority_TextRoundTrip(t *testing.T) {
	raw, err := json.Marshal(struct {
		P Priority `json:"p"`
	}{P: PriorityUrgent})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":"urgent"}`, string(raw))

	var out struct {
		P Priority `json:"p"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"p":"HIGH"}`), &out))
	assert.Equal(t, PriorityHigh, out.P)

	_, err = ParsePriority("critical")
	require.Error(t, err)
	assert.True(t, PriorityUrgent > PriorityHigh && PriorityHigh > PriorityNormal && PriorityNormal > PriorityLow)
}

func TestCreateJobRequest_Validate(t *testing.T) {
	bad := Priority(9)
	neg := -1

	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr string
	}{
		{
			name: "valid import",
			req: CreateJobRequest{
				Owner: "user-1",
				Type:  JobTypeImport,
				Input: json.RawMessage(`{"source_uri":"s3://bucket/a.csv","format":"csv"}`),
			},
		},
		{
			name:    "missing owner",
			req:     CreateJobRequest{Type: JobTypeImport, Input: json.RawMessage(`{}`)},
			wantErr: "owner is required",
		},
		{
			name:    "unknown type",
			req:     CreateJobRequest{Owner: "u", Type: "browser"},
			wantErr: "invalid job type",
		},
		{
			name: "invalid priority",
			req: CreateJobRequest{
				Owner: "u", Type: JobTypeCleanup, Priority: &bad,
				Input: json.RawMessage(`{"older_than_hours":1}`),
			},
			wantErr: "invalid priority",
		},
		{
			name: "negative max retries",
			req: CreateJobRequest{
				Owner: "u", Type: JobTypeCleanup, MaxRetries: &neg,
				Input: json.RawMessage(`{"older_than_hours":1}`),
			},
			wantErr: "max retries",
		},
		{
			name: "metadata must be an object",
			req: CreateJobRequest{
				Owner: "u", Type: JobTypeCleanup,
				Input:    json.RawMessage(`{"older_than_hours":1}`),
				Metadata: json.RawMessage(`[1,2]`),
			},
			wantErr: "metadata",
		},
		{
			name: "unknown input field",
			req: CreateJobRequest{
				Owner: "u", Type: JobTypeVerification,
				Input: json.RawMessage(`{"document_ids":["d1"],"extra":true}`),
			},
			wantErr: "unknown field",
		},
		{
			name: "input fails type validation",
			req: CreateJobRequest{
				Owner: "u", Type: JobTypeExport,
				Input: json.RawMessage(`{"format":"xml","destination":"s3://x"}`),
			},
			wantErr: "unsupported format",
		},
		{
			name:    "missing input",
			req:     CreateJobRequest{Owner: "u", Type: JobTypeStatusUpdate},
			wantErr: "input is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCreateJobRequest_Defaults(t *testing.T) {
	req := CreateJobRequest{}
	assert.Equal(t, PriorityNormal, req.PriorityOrDefault())
	assert.Equal(t, 3, req.MaxRetriesOrDefault())

	zero := 0
	high := PriorityHigh
	req = CreateJobRequest{MaxRetries: &zero, Priority: &high}
	assert.Equal(t, 0, req.MaxRetriesOrDefault())
	assert.Equal(t, PriorityHigh, req.PriorityOrDefault())
}

func TestDecodeInput(t *testing.T) {
	job := &Job{
		Type:  JobTypeCleanup,
		Input: json.RawMessage(`{"older_than_hours":24,"statuses":["completed"]}`),
	}
	in, err := DecodeInput[CleanupInput](job)
	require.NoError(t, err)
	assert.Equal(t, 24, in.OlderThanHours)
	assert.Equal(t, []JobStatus{JobStatusCompleted}, in.TerminalStatuses())

	job.Input = json.RawMessage(`{"older_than_hours":24,"statuses":["pending"]}`)
	_, err = DecodeInput[CleanupInput](job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not terminal")
}

func TestCleanupInput_DefaultStatuses(t *testing.T) {
	in := CleanupInput{OlderThanHours: 1}
	assert.ElementsMatch(t,
		[]JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
		in.TerminalStatuses())
}

func TestJob_CloneIsDeep(t *testing.T) {
	total := 10
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := &Job{
		ID:         "j1",
		Input:      json.RawMessage(`{"a":1}`),
		TotalItems: &total,
		StartedAt:  &now,
		ErrorLog: []ErrorLogEntry{
			{Message: "boom", Attempt: 1, Context: map[string]any{"k": "v"}},
		},
	}

	cp := orig.Clone()
	*cp.TotalItems = 99
	*cp.StartedAt = now.Add(time.Hour)
	cp.Input[2] = 'b'
	cp.ErrorLog[0].Message = "changed"
	cp.ErrorLog[0].Context["k"] = "changed"

	assert.Equal(t, 10, *orig.TotalItems)
	assert.Equal(t, now, *orig.StartedAt)
	assert.JSONEq(t, `{"a":1}`, string(orig.Input))
	assert.Equal(t, "boom", orig.ErrorLog[0].Message)
	assert.Equal(t, "v", orig.ErrorLog[0].Context["k"])
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestJob_Attempt(t *testing.T) {
	assert.Equal(t, 1, (&Job{}).Attempt())
	assert.Equal(t, 3, (&Job{RetryCount: 2}).Attempt())
}

func TestEventType_Short(t *testing.T) {
	assert.Equal(t, "started", EventJobStarted.Short())
	assert.Equal(t, "retry", EventJobRetry.Short())
	assert.Len(t, AllEventTypes(), 6)
}
