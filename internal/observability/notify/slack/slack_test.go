package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
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

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#alerts",
		Username:   "bot",
		Timeout:    time.Second,
	})
	require.NoError(t, err)

	msg := client.formatMessage(notify.JobFailurePayload{
		JobID:      "123",
		JobType:    "import",
		Owner:      "acme",
		Error:      "boom",
		ErrorClass: "handler_error",
		Attempts:   4,
		MaxRetries: 3,
		Metadata:   map[string]string{"batch": "b-7"},
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, "bot", msg["username"])
	assert.Equal(t, "#alerts", msg["channel"])

	text, ok := msg["text"].(string)
	require.True(t, ok)
	for _, want := range []string{"Job failure alert", "`123`", "(import)", "Owner: acme", "Attempts: 4/4", "boom", "handler_error", "batch: b-7", "2025-01-01T00:00:00Z"} {
		assert.Contains(t, text, want)
	}
}

func TestFormatMessageDefaults(t *testing.T) {
	client, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/services/test"})
	require.NoError(t, err)

	msg := client.formatMessage(notify.JobFailurePayload{})
	assert.Equal(t, "jobengine", msg["username"])
	_, hasChannel := msg["channel"]
	assert.False(t, hasChannel)
	text, _ := msg["text"].(string)
	assert.Contains(t, text, "`unknown`")
	assert.Contains(t, text, "Severity: critical")
	assert.NotContains(t, text, "Attempts")
}

func TestFormatJobValue(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		id     string
		want   string
	}{
		{name: "no prefix", id: "job-1", want: "`job-1`"},
		{name: "linked", prefix: "https://console.local/jobs", id: "job-1", want: "<https://console.local/jobs/job-1|job-1>"},
		{name: "invalid prefix", prefix: "not a url", id: "job-1", want: "`job-1`"},
		{name: "escaped", id: "a<b>", want: "`a&lt;b&gt;`"},
		{name: "blank", id: "  ", want: "`unknown`"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(Config{WebhookURL: "https://hooks.slack.com/x", JobURLPrefix: tc.prefix})
			require.NoError(t, err)
			assert.Equal(t, tc.want, client.formatJobValue(tc.id))
		})
	}
}

func TestSendJobFailureRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		var msg map[string]any
		assert.NoError(t, json.Unmarshal(body, &msg))
		if calls == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, RetryLimit: 1})
	require.NoError(t, err)

	require.NoError(t, client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j"}))
	assert.Equal(t, 2, calls)
}

func TestSendJobFailureSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "j"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "404") && strings.Contains(err.Error(), "no_service"), err.Error())
}
