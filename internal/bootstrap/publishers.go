package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/jobengine/config"
	"github.com/target/jobengine/internal/adapters/kafka"
	"github.com/target/jobengine/internal/adapters/rabbitmq"
	redisadapter "github.com/target/jobengine/internal/adapters/redis"
	"github.com/target/jobengine/internal/core"
	"github.com/target/jobengine/internal/events"
)

// namedCloser is a resource released on shutdown.
type namedCloser struct {
	name   string
	closer io.Closer
}

// PublisherDeps groups dependencies for the remote event transports.
type PublisherDeps struct {
	Config      config.EventsConfig
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// remotePublishers holds the breaker-wrapped remote transports and the resources they own.
type remotePublishers struct {
	publishers []core.EventPublisher
	breakers   map[string]*events.Breaker
	closers    []namedCloser
}

// buildRemotePublishers connects every enabled remote transport and wraps each in a
// circuit breaker. On error the transports opened so far are closed.
func buildRemotePublishers(deps PublisherDeps) (*remotePublishers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	out := &remotePublishers{breakers: make(map[string]*events.Breaker)}

	add := func(name string, pub core.EventPublisher) {
		b := events.NewBreaker(pub, events.BreakerOptions{
			Name:         name,
			Timeout:      cfg.Breaker.Timeout,
			MinRequests:  cfg.Breaker.MinRequests,
			FailureRatio: cfg.Breaker.FailureRatio,
			Logger:       logger,
		})
		out.publishers = append(out.publishers, b)
		out.breakers[name] = b
		logger.Info("event transport enabled", "transport", name)
	}

	if cfg.Redis.Enabled {
		if deps.RedisClient == nil {
			return nil, errors.New("redis event transport requires a redis connection")
		}
		add("redis", redisadapter.NewEventPublisher(deps.RedisClient, redisadapter.PublisherOptions{
			Prefix:      cfg.Redis.Prefix,
			SnapshotTTL: cfg.Redis.SnapshotTTL,
		}))
	}

	if cfg.RabbitMQ.Enabled {
		pub, err := rabbitmq.Dial(cfg.RabbitMQ.URL, rabbitmq.Options{
			Exchange:       cfg.RabbitMQ.Exchange,
			ConfirmTimeout: cfg.RabbitMQ.ConfirmTimeout,
		})
		if err != nil {
			out.close(logger)
			return nil, fmt.Errorf("rabbitmq event transport: %w", err)
		}
		out.closers = append(out.closers, namedCloser{name: "rabbitmq publisher", closer: pub})
		add("rabbitmq", pub)
	}

	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(kafka.Options{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		if err != nil {
			out.close(logger)
			return nil, fmt.Errorf("kafka event transport: %w", err)
		}
		out.closers = append(out.closers, namedCloser{name: "kafka publisher", closer: pub})
		add("kafka", pub)
	}

	return out, nil
}

func (r *remotePublishers) close(logger *slog.Logger) {
	closeAll(r.closers, logger)
	r.closers = nil
}

// eventPublisher returns the publisher handed to the emitter: the bus first, so
// in-process subscribers are never delayed by a remote transport.
func eventPublisher(bus *events.Bus, remote *remotePublishers) core.EventPublisher {
	if remote == nil || len(remote.publishers) == 0 {
		return bus
	}
	fan := make(events.Fanout, 0, len(remote.publishers)+1)
	fan = append(fan, bus)
	fan = append(fan, remote.publishers...)
	return fan
}

func closeAll(closers []namedCloser, logger *slog.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.closer.Close(); err != nil && logger != nil {
			logger.Error("close failed", "resource", c.name, "error", err)
		}
	}
}
