package statsd

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePrefix(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  jobengine.worker  ": "jobengine.worker",
		"..foo..":              "foo",
		".":                    "",
		"":                     "",
	}
	for input, want := range tests {
		assert.Equal(t, want, sanitizePrefix(input), "input %q", input)
	}
}

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" job/transition ": "job_transition",
		"job..duration":    "job.duration",
		"multi  space":     "multi__space",
		"":                 "",
	}
	for input, want := range tests {
		assert.Equal(t, want, normalizeMetricName(input), "input %q", input)
	}
}

func TestFormatLine(t *testing.T) {
	t.Parallel()

	global := map[string]string{"env": "prod", " service ": " jobengine "}
	local := map[string]string{"result": " success ", "": "ignored", "env": "stage"}

	got := formatLine("jobengine.job.transition", "1", "c", global, local)
	assert.Equal(t, "jobengine.job.transition:1|c|#env:stage,result:success,service:jobengine", got)
	assert.Equal(t, "x:2|g", formatLine("x", "2", "g", nil, nil))
}

func TestClientWritesOverConnection(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{prefix: "jobengine", conn: clientConn, logger: discardLogger()}
	require.True(t, client.Enabled())

	lines := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := peerConn.Read(buf)
		lines <- string(buf[:n])
	}()

	client.Timing("job.duration", 1500*time.Millisecond, map[string]string{"job_type": "import"})
	assert.Equal(t, "jobengine.job.duration:1500|ms|#job_type:import", <-lines)

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())
	require.NoError(t, client.Close())
}

func TestNilAndDisabledClientsDropMetrics(t *testing.T) {
	t.Parallel()

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	assert.NotPanics(t, func() { nilClient.Count("x", 1, nil) })
	require.NoError(t, nilClient.Close())

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NotPanics(t, func() { client.Gauge("x", 1, nil) })
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd dial")
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder
	tags := map[string]string{"result": "success"}
	r.Count("job.transition", 1, tags)
	r.Timing("job.duration", 250*time.Millisecond, nil)
	tags["result"] = "mutated"

	counts := r.Samples("job.transition")
	require.Len(t, counts, 1)
	assert.Equal(t, "success", counts[0].Tags["result"])
	assert.InDelta(t, 250.0, r.Samples("job.duration")[0].Value, 0.001)
	assert.Len(t, r.Samples(""), 2)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
