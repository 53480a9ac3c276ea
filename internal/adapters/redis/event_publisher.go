// Package redis provides Redis-based adapters for the job engine.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/jobengine/internal/domain/model"
)

const (
	defaultPrefix      = "jobengine:events"
	defaultSnapshotTTL = 24 * time.Hour
)

// EventPublisher publishes lifecycle events over Redis pub/sub.
// Every event goes to <prefix>:all and <prefix>:owner:<owner>, and the latest
// event of each job is kept under <prefix>:last:<job id> for SnapshotTTL.
type EventPublisher struct {
	client      redis.UniversalClient
	prefix      string
	snapshotTTL time.Duration
}

// PublisherOptions configures an EventPublisher.
type PublisherOptions struct {
	Prefix      string
	SnapshotTTL time.Duration
}

// NewEventPublisher creates a Redis event publisher.
func NewEventPublisher(client redis.UniversalClient, opts PublisherOptions) *EventPublisher {
	ttl := opts.SnapshotTTL
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &EventPublisher{
		client:      client,
		prefix:      normalizePrefix(opts.Prefix),
		snapshotTTL: ttl,
	}
}

// Publish implements core.EventPublisher.
func (p *EventPublisher) Publish(ctx context.Context, evt model.LifecycleEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, AllChannel(p.prefix), data)
		if evt.Owner != "" {
			pipe.Publish(ctx, OwnerChannel(p.prefix, evt.Owner), data)
		}
		if evt.JobID != "" {
			pipe.Set(ctx, snapshotKey(p.prefix, evt.JobID), data, p.snapshotTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// AllChannel is the channel receiving every event.
func AllChannel(prefix string) string {
	return normalizePrefix(prefix) + ":all"
}

// OwnerChannel is the channel receiving events for one owner's jobs.
func OwnerChannel(prefix, owner string) string {
	return normalizePrefix(prefix) + ":owner:" + owner
}

func snapshotKey(prefix, jobID string) string {
	return prefix + ":last:" + jobID
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return defaultPrefix
	}
	return prefix
}

// ErrNotFound is returned when no snapshot exists for a job.
type notFoundError struct{}

func (notFoundError) Error() string { return "event snapshot not found" }

var ErrNotFound error = notFoundError{}

// EventFeed consumes events published by EventPublisher, usually from another process.
type EventFeed struct {
	client redis.UniversalClient
	prefix string
}

// NewEventFeed creates a feed reader sharing the publisher's prefix.
func NewEventFeed(client redis.UniversalClient, prefix string) *EventFeed {
	return &EventFeed{client: client, prefix: normalizePrefix(prefix)}
}

// Latest returns the most recent event recorded for jobID.
func (f *EventFeed) Latest(ctx context.Context, jobID string) (model.LifecycleEvent, error) {
	if jobID == "" {
		return model.LifecycleEvent{}, ErrNotFound
	}
	data, err := f.client.Get(ctx, snapshotKey(f.prefix, jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.LifecycleEvent{}, ErrNotFound
		}
		return model.LifecycleEvent{}, fmt.Errorf("redis get: %w", err)
	}
	var evt model.LifecycleEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return model.LifecycleEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return evt, nil
}

// Watch subscribes to owner's channel (or every event when owner is empty) and calls fn
// for each event until ctx is done. Undecodable messages are skipped.
func (f *EventFeed) Watch(ctx context.Context, owner string, fn func(model.LifecycleEvent) error) error {
	channel := AllChannel(f.prefix)
	if owner != "" {
		channel = OwnerChannel(f.prefix, owner)
	}

	sub := f.client.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var evt model.LifecycleEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			if err := fn(evt); err != nil {
				return err
			}
		}
	}
}
