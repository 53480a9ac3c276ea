// Package failurenotifier fans terminal job failures out to alerting sinks.
package failurenotifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/target/jobengine/internal/domain/model"
	obserrors "github.com/target/jobengine/internal/observability/errors"
	"github.com/target/jobengine/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// MutedTypes lists job types whose failures are logged but never sent to sinks.
	MutedTypes []model.JobType
	// SinkTimeout bounds each sink delivery; zero means the caller's context only.
	SinkTimeout time.Duration
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger      *slog.Logger
	sinks       []SinkRegistration
	muted       []model.JobType
	sinkTimeout time.Duration
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	return &Service{
		logger:      logger.With("component", "failure_notifier"),
		sinks:       sinks,
		muted:       slices.Clone(opts.MutedTypes),
		sinkTimeout: opts.SinkTimeout,
	}
}

// NotifyJobFailure fans the payload out to all sinks concurrently and waits for them.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if len(s.sinks) == 0 {
		return
	}

	if slices.Contains(s.muted, model.JobType(payload.JobType)) {
		s.logger.DebugContext(ctx, "failure notification muted for job type",
			"job_id", payload.JobID,
			"job_type", payload.JobType,
		)
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx := ctx
			if s.sinkTimeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(ctx, s.sinkTimeout)
				defer cancel()
			}
			if err := entry.Sink.SendJobFailure(sendCtx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}

// PayloadFromJob builds the notification for a job that failed with no retries left.
// String values of the job's metadata object are forwarded as payload metadata.
func PayloadFromJob(job *model.Job, cause error, occurredAt time.Time) notify.JobFailurePayload {
	payload := notify.JobFailurePayload{
		Severity:   notify.SeverityCritical,
		OccurredAt: occurredAt,
		ErrorClass: obserrors.Classify(cause),
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if job == nil {
		return payload
	}

	payload.JobID = job.ID
	payload.JobType = string(job.Type)
	payload.Owner = job.Owner
	payload.Attempts = job.Attempt()
	payload.MaxRetries = job.MaxRetries
	if payload.Error == "" && len(job.ErrorLog) > 0 {
		payload.Error = job.ErrorLog[len(job.ErrorLog)-1].Message
	}

	payload.Metadata = mergeMetadata(stringMetadata(job.Metadata), map[string]string{
		"priority":    job.Priority.String(),
		"retry_count": fmt.Sprint(job.RetryCount),
		"error_class": payload.ErrorClass,
	})
	return payload
}

func stringMetadata(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func copyMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		dst[k] = v
	}
	return dst
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := copyMetadata(base)
	if out == nil && len(extra) == 0 {
		return nil
	}
	if out == nil {
		out = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
