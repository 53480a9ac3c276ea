package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/domain/model"
)

// Noop discards every event.
type Noop struct{}

// Publish implements core.EventPublisher.
func (Noop) Publish(context.Context, model.LifecycleEvent) error { return nil }

// Fanout publishes each event to every publisher in order.
// A failure in one publisher does not stop delivery to the rest.
type Fanout []core.EventPublisher

// Publish implements core.EventPublisher and joins all publisher errors.
func (f Fanout) Publish(ctx context.Context, evt model.LifecycleEvent) error {
	var errs []error
	for i, p := range f {
		if p == nil {
			continue
		}
		if err := safePublish(ctx, p, evt); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// BreakerOptions configures a Breaker.
type BreakerOptions struct {
	Name string
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// MinRequests and FailureRatio decide when the breaker trips.
	MinRequests  uint32
	FailureRatio float64
	Logger       *slog.Logger
}

// Breaker guards a remote publisher with a circuit breaker so an unreachable broker
// fails fast instead of stalling every transition.
type Breaker struct {
	next core.EventPublisher
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next core.EventPublisher, opts BreakerOptions) *Breaker {
	name := opts.Name
	if name == "" {
		name = "event-publisher"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	minReq := opts.MinRequests
	if minReq == 0 {
		minReq = 3
	}
	ratio := opts.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "event_breaker", "publisher", name)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minReq && failureRatio >= ratio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("publisher circuit state changed", "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{next: next, cb: cb}
}

// Publish implements core.EventPublisher. It returns gobreaker.ErrOpenState while open.
func (b *Breaker) Publish(ctx context.Context, evt model.LifecycleEvent) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, safePublish(ctx, b.next, evt)
	})
	return err
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
