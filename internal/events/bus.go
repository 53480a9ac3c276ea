package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/jobengine/internal/domain/model"
)

// Subscriber receives lifecycle events. Returned errors are logged by the bus.
type Subscriber func(ctx context.Context, evt model.LifecycleEvent) error

// SubscribeOptions selects which events a subscriber receives.
type SubscribeOptions struct {
	// Owner restricts delivery to one owner's jobs; empty subscribes to all owners.
	Owner string
	// Filter is an optional JMESPath expression evaluated against the JSON form of the event.
	// The event is delivered when the result is truthy, e.g. "job.priority == 'urgent'".
	Filter string
}

type subscription struct {
	id     uint64
	owner  string
	filter string
	fn     Subscriber
}

// Bus is an in-process publish/subscribe hub for lifecycle events.
// Delivery is synchronous and in subscription order; a failing or panicking
// subscriber never prevents delivery to the others.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With("component", "event_bus")}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(opts SubscribeOptions, fn Subscriber) (func(), error) {
	if fn == nil {
		return nil, errors.New("subscriber is required")
	}
	filter := strings.TrimSpace(opts.Filter)
	if filter != "" {
		if _, err := jmespath.Compile(filter); err != nil {
			return nil, fmt.Errorf("invalid filter expression: %w", err)
		}
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, owner: strings.TrimSpace(opts.Owner), filter: filter, fn: fn}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}, nil
}

// SubscribeChan delivers matching events on a buffered channel. Events are dropped
// when the buffer is full. The returned function unsubscribes and closes the channel.
func (b *Bus) SubscribeChan(opts SubscribeOptions, buffer int) (<-chan model.LifecycleEvent, func(), error) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan model.LifecycleEvent, buffer)
	var mu sync.Mutex
	closed := false

	unsubscribe, err := b.Subscribe(opts, func(ctx context.Context, evt model.LifecycleEvent) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case ch <- evt:
			return nil
		default:
			return fmt.Errorf("subscriber buffer full, dropped %s for job %s", evt.Type, evt.JobID)
		}
	})
	if err != nil {
		return nil, nil, err
	}

	return ch, func() {
		unsubscribe()
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}, nil
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s.id == id })
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish implements core.EventPublisher. Subscriber failures are logged, never returned.
func (b *Bus) Publish(ctx context.Context, evt model.LifecycleEvent) error {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	var doc any
	for _, sub := range subs {
		if sub.owner != "" && sub.owner != evt.Owner {
			continue
		}
		if sub.filter != "" {
			if doc == nil {
				var err error
				if doc, err = eventDocument(evt); err != nil {
					b.logger.WarnContext(ctx, "event not filterable", "job_id", evt.JobID, "error", err)
					continue
				}
			}
			if !b.matches(ctx, sub, doc) {
				continue
			}
		}

		delivered := evt
		delivered.Job = evt.Job.Clone()
		if err := deliver(ctx, sub.fn, delivered); err != nil {
			b.logger.WarnContext(ctx, "subscriber failed",
				"subscription", sub.id,
				"event_type", string(evt.Type),
				"job_id", evt.JobID,
				"error", err,
			)
		}
	}
	return nil
}

func (b *Bus) matches(ctx context.Context, sub *subscription, doc any) bool {
	res, err := jmespath.Search(sub.filter, doc)
	if err != nil {
		b.logger.WarnContext(ctx, "filter evaluation failed", "subscription", sub.id, "error", err)
		return false
	}
	return truthy(res)
}

func deliver(ctx context.Context, fn Subscriber, evt model.LifecycleEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return fn(ctx, evt)
}

func eventDocument(evt model.LifecycleEvent) (any, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// truthy applies JMESPath truthiness: false, null and empty values are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
