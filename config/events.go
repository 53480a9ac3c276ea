package config

import (
	"strings"
	"time"
)

// EventsConfig selects the remote transports lifecycle events are published to.
// The in-process bus is always active.
type EventsConfig struct {
	Redis    RedisEventsConfig    `envPrefix:"EVENTS_REDIS_"`
	RabbitMQ RabbitMQEventsConfig `envPrefix:"EVENTS_RABBITMQ_"`
	Kafka    KafkaEventsConfig    `envPrefix:"EVENTS_KAFKA_"`
	Breaker  BreakerConfig        `envPrefix:"EVENTS_BREAKER_"`
}

// Sanitize normalises transport configuration and disables transports missing an endpoint.
func (c *EventsConfig) Sanitize() {
	c.Redis.sanitize()
	c.RabbitMQ.sanitize()
	c.Kafka.sanitize()
	c.Breaker.sanitize()
}

// AnyRemote reports whether at least one remote transport is enabled.
func (c *EventsConfig) AnyRemote() bool {
	return c.Redis.Enabled || c.RabbitMQ.Enabled || c.Kafka.Enabled
}

// RedisEventsConfig controls Redis pub/sub fan-out.
type RedisEventsConfig struct {
	Enabled     bool          `env:"ENABLED"      envDefault:"false"`
	Prefix      string        `env:"PREFIX"       envDefault:"jobengine:events"`
	SnapshotTTL time.Duration `env:"SNAPSHOT_TTL" envDefault:"24h"`
}

func (c *RedisEventsConfig) sanitize() {
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.SnapshotTTL < 0 {
		c.SnapshotTTL = 0
	}
}

// RabbitMQEventsConfig controls publishing to a RabbitMQ topic exchange.
type RabbitMQEventsConfig struct {
	Enabled        bool          `env:"ENABLED"         envDefault:"false"`
	URL            string        `env:"URL"`
	Exchange       string        `env:"EXCHANGE"        envDefault:"jobengine.events"`
	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"10s"`
}

func (c *RabbitMQEventsConfig) sanitize() {
	c.URL = strings.TrimSpace(c.URL)
	if c.URL == "" {
		c.Enabled = false
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 10 * time.Second
	}
}

// KafkaEventsConfig controls publishing to a Kafka topic.
type KafkaEventsConfig struct {
	Enabled      bool          `env:"ENABLED"       envDefault:"false"`
	Brokers      []string      `env:"BROKERS"       envSeparator:","`
	Topic        string        `env:"TOPIC"         envDefault:"jobengine.events"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
}

func (c *KafkaEventsConfig) sanitize() {
	brokers := c.Brokers[:0]
	for _, b := range c.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Brokers = brokers
	c.Topic = strings.TrimSpace(c.Topic)
	if len(c.Brokers) == 0 || c.Topic == "" {
		c.Enabled = false
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// BreakerConfig tunes the circuit breaker wrapped around every remote transport.
type BreakerConfig struct {
	Timeout      time.Duration `env:"TIMEOUT"       envDefault:"30s"`
	MinRequests  uint32        `env:"MIN_REQUESTS"  envDefault:"3"`
	FailureRatio float64       `env:"FAILURE_RATIO" envDefault:"0.6"`
}

func (c *BreakerConfig) sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MinRequests == 0 {
		c.MinRequests = 1
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.6
	}
}
