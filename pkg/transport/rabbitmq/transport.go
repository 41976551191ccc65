// Package rabbitmq delivers log batches to a RabbitMQ exchange. Delivery is
// asynchronous: SendEntries hands the batch to a background publish and
// reports completion over the returned channel, which keeps log buffers in
// batching mode.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/faaskit/telemetry-go/pkg/logging"
)

// channel is the slice of *amqp.Channel the transport uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Option is a functional option for configuring the transport.
type Option func(*config)

type config struct {
	exchange    string
	routingKey  string
	publishRate float64
}

// WithExchange sets the target exchange. Empty publishes to the default
// exchange.
func WithExchange(exchange string) Option {
	return func(c *config) {
		c.exchange = exchange
	}
}

// WithRoutingKey sets the routing key for every published entry.
func WithRoutingKey(key string) Option {
	return func(c *config) {
		if key != "" {
			c.routingKey = key
		}
	}
}

// WithPublishRate declares a sustained entries-per-second capacity hint.
func WithPublishRate(rate float64) Option {
	return func(c *config) {
		if rate > 0 {
			c.publishRate = rate
		}
	}
}

// Transport publishes serialized log entries to RabbitMQ, one message per
// entry. It implements logging.Transport.
type Transport struct {
	channel channel
	cfg     *config

	mu     sync.Mutex
	closed atomic.Bool
}

// New creates a RabbitMQ log transport over an open channel.
func New(ch *amqp.Channel, opts ...Option) (*Transport, error) {
	if ch == nil {
		return nil, ErrNoChannel
	}
	return newTransport(ch, opts...), nil
}

func newTransport(ch channel, opts ...Option) *Transport {
	cfg := &config{routingKey: "logs"}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Transport{channel: ch, cfg: cfg}
}

// SendEntries publishes the batch in the background and reports the joined
// outcome over the returned channel.
func (t *Transport) SendEntries(ctx context.Context, entries []*logging.Entry) (<-chan error, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	done := make(chan error, 1)
	go func() {
		done <- t.publish(ctx, entries)
	}()
	return done, nil
}

func (t *Transport) publish(ctx context.Context, entries []*logging.Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range entries {
		msg := amqp.Publishing{
			ContentType: "application/json",
			Body:        entry.Serialized,
			Headers: amqp.Table{
				"level": entry.Level.String(),
			},
		}
		if err := t.channel.PublishWithContext(ctx, t.cfg.exchange, t.cfg.routingKey, false, false, msg); err != nil {
			return fmt.Errorf("%w: %v", ErrPublishFailed, err)
		}
	}
	return nil
}

// PublishRate reports the configured capacity hint, zero when unset.
func (t *Transport) PublishRate() float64 {
	return t.cfg.publishRate
}

// Close closes the underlying channel. Subsequent sends fail with
// ErrTransportClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel.Close()
}
