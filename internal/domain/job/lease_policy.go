package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// MinLease is the shortest lease a worker may hold on a job.
const MinLease = time.Second

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a usable duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default duration was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the requested duration was raised to MinLease.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy normalises lease durations for the optional claim-with-lease dispatch mode.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: max(defaultLease.Truncate(time.Second), MinLease)}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Duration  time.Duration
	Source    LeaseSource
	Requested time.Duration
}

// UsedDefault reports whether the policy fell back to the default lease.
func (d LeaseDecision) UsedDefault() bool {
	return d.Source == LeaseSourceDefault
}

// Clamped reports whether the requested value was raised to the minimum supported duration.
func (d LeaseDecision) Clamped() bool {
	return d.Source == LeaseSourceClamped
}

// ExpiresAt returns the lease expiry for a claim made at now.
func (d LeaseDecision) ExpiresAt(now time.Time) time.Time {
	return now.Add(d.Duration).UTC()
}

// Resolve normalises the requested duration to whole seconds, at least MinLease.
// A zero request selects the default lease.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request}
	switch {
	case request == 0:
		decision.Duration = p.Default()
		decision.Source = LeaseSourceDefault
	case request < MinLease:
		decision.Duration = MinLease
		decision.Source = LeaseSourceClamped
	default:
		decision.Duration = request.Truncate(time.Second)
		decision.Source = LeaseSourceExplicit
	}
	return decision
}
