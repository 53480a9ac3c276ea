package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobengine/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	event := client.buildEvent(notify.JobFailurePayload{
		JobID:      "123",
		JobType:    "verification",
		Owner:      "acme",
		Error:      "boom",
		ErrorClass: "handler_error",
		Attempts:   2,
		MaxRetries: 1,
		Metadata:   map[string]string{"job_id": "ignored", "region": "eu"},
	})

	assert.Equal(t, "trigger", event["event_action"])
	assert.Equal(t, "jobengine:123", event["dedup_key"])

	section, ok := event["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, notify.SeverityCritical, section["severity"])
	assert.Equal(t, "jobengine", section["source"])
	assert.Equal(t, "job-runner", section["component"])
	assert.Equal(t, "acme", section["group"])
	assert.Equal(t, "Job 123 (verification) failed after 2 attempt(s)", section["summary"])

	custom, ok := section["custom_details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "123", custom["job_id"])
	assert.Equal(t, "eu", custom["region"])
	assert.Equal(t, 2, custom["attempts"])
}

func TestSendJobFailurePostsToEndpoint(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j-1", Severity: "ERROR"})
	require.NoError(t, err)
	assert.Equal(t, "rk", got["routing_key"])
	section, _ := got["payload"].(map[string]any)
	assert.Equal(t, "error", section["severity"])
}
