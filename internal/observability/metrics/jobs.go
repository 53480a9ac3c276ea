// Package metrics defines the engine's metric names and tag conventions.
package metrics

import (
	"time"

	obserrors "github.com/target/jobengine/internal/observability/errors"
	"github.com/target/jobengine/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Metric names.
const (
	MetricTransition     = "job.transition"
	MetricDuration       = "job.duration"
	MetricQueueWait      = "job.queue_wait"
	MetricRetryExhausted = "job.retry_exhausted"
	MetricReclaimed      = "job.lease_reclaimed"
)

// JobMetric captures details about a job lifecycle transition for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Priority   string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits the transition counter and, when Duration is set, its timing.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Priority != "" {
		tags["priority"] = in.Priority
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count(MetricTransition, 1, tags)

	if in.Duration > 0 {
		sink.Timing(MetricDuration, in.Duration, CloneTags(tags))
	}
}

// EmitQueueWait records how long a job waited between becoming eligible and starting.
func EmitQueueWait(sink statsd.Sink, jobType, priority string, wait time.Duration) {
	if sink == nil || wait < 0 {
		return
	}
	sink.Timing(MetricQueueWait, wait, map[string]string{"job_type": jobType, "priority": priority})
}

// EmitCounter increments name tagged with the job type.
func EmitCounter(sink statsd.Sink, name, jobType string) {
	if sink == nil {
		return
	}
	sink.Count(name, 1, map[string]string{"job_type": jobType})
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
