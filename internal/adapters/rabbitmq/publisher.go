// Package rabbitmq publishes lifecycle events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/target/jobengine/internal/domain/model"
)

const (
	defaultExchange       = "jobengine.events"
	defaultConfirmTimeout = 10 * time.Second
	// confirmBuffer holds confirms that arrive after their publish gave up waiting,
	// so the connection's reader is not blocked until the next publish drains them.
	confirmBuffer = 64
)

// Channel is the subset of *amqp.Channel used by the publisher.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	GetNextPublishSeqNo() uint64
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Options configures a Publisher.
type Options struct {
	Exchange       string
	ConfirmTimeout time.Duration
}

// Publisher sends each event to a durable topic exchange using routing key
// job.<type>.<event>, e.g. job.import.completed, and waits for the broker confirm.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	confirms chan amqp.Confirmation
	exchange string
	timeout  time.Duration
}

// Dial connects to url and returns a ready publisher that owns the connection.
func Dial(url string, opts Options) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := NewPublisher(ch, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares the exchange on ch and switches it to confirm mode.
func NewPublisher(ch Channel, opts Options) (*Publisher, error) {
	if ch == nil {
		return nil, errors.New("rabbitmq channel is required")
	}
	exchange := strings.TrimSpace(opts.Exchange)
	if exchange == "" {
		exchange = defaultExchange
	}
	timeout := opts.ConfirmTimeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-delete
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer))

	return &Publisher{ch: ch, confirms: confirms, exchange: exchange, timeout: timeout}, nil
}

// RoutingKey returns job.<type>.<event> for evt.
func RoutingKey(evt model.LifecycleEvent) string {
	jobType := string(evt.JobType)
	if jobType == "" {
		jobType = "unknown"
	}
	return "job." + jobType + "." + evt.Type.Short()
}

// Publish implements core.EventPublisher. It returns once the broker confirmed this event's
// delivery tag; confirms left over from earlier publishes that timed out are discarded.
func (p *Publisher) Publish(ctx context.Context, evt model.LifecycleEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tag := p.ch.GetNextPublishSeqNo()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(evt), false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    evt.ID,
			Timestamp:    evt.OccurredAt,
			Type:         string(evt.Type),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return p.awaitConfirm(ctx, tag, evt.ID)
}

func (p *Publisher) awaitConfirm(ctx context.Context, tag uint64, eventID string) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case confirmed, ok := <-p.confirms:
			if !ok {
				return errors.New("confirmation channel closed")
			}
			switch {
			case confirmed.DeliveryTag < tag:
				continue
			case confirmed.DeliveryTag > tag:
				return fmt.Errorf("confirmation for event %s (tag %d) was skipped", eventID, tag)
			case !confirmed.Ack:
				return fmt.Errorf("broker nacked event %s", eventID)
			default:
				return nil
			}
		case <-timer.C:
			return errors.New("publish confirmation timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the channel and, when created by Dial, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
