package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/target/jobengine/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeRunner runs the job runner workers.
	ServiceModeRunner ServiceMode = "runner"
	// ServiceModeReaper runs the lease reaper that reclaims abandoned jobs.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeRunner,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeRunner, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: runner, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// RunnerConfig contains job runner service configuration.
type RunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"RUNNER_CONCURRENCY" envDefault:"1"`

	// PollInterval is the fallback wait between dispatch attempts when no
	// availability notification arrives.
	PollInterval time.Duration `env:"RUNNER_POLL_INTERVAL" envDefault:"5s"`

	// JobTypes restricts which job types this runner dispatches. Empty means all registered types.
	JobTypes []model.JobType `env:"RUNNER_JOB_TYPES" envSeparator:","`

	// WorkerID identifies this process as a lease owner. Defaults to the hostname.
	WorkerID string `env:"RUNNER_WORKER_ID"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.PollInterval < 100*time.Millisecond {
		r.PollInterval = 100 * time.Millisecond
	}
	types := r.JobTypes[:0]
	for _, t := range r.JobTypes {
		if trimmed := model.JobType(strings.TrimSpace(string(t))); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	r.JobTypes = types
	r.WorkerID = strings.TrimSpace(r.WorkerID)
}

// ReaperConfig contains lease reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// BatchSize is the maximum number of expired leases to reclaim per query.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 5*time.Second {
		r.Interval = 5 * time.Second
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
