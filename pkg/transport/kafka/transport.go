// Package kafka delivers event batches to Kafka topics over segmentio's
// kafka-go writer, with exponential-backoff retries per batch.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/faaskit/telemetry-go/pkg/events"
)

// writer is the slice of kafka.Writer the transport uses.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Transport publishes event batches to Kafka. It implements
// events.Transport; every call delivers one topic's batch as individual
// messages keyed by subject, so events for the same subject land on the
// same partition.
type Transport struct {
	writer writer
	cfg    *config
	closed atomic.Bool
}

// New creates a Kafka event transport.
func New(opts ...Option) (*Transport, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, ErrInvalidBrokers
	}
	if cfg.publishRate <= 0 {
		return nil, ErrInvalidRate
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.batchTimeout,
		WriteTimeout: cfg.writeTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.requiredAcks),
	}
	return newTransport(w, cfg), nil
}

func newTransport(w writer, cfg *config) *Transport {
	return &Transport{writer: w, cfg: cfg}
}

// SendEvents publishes one topic's batch. The batch is written atomically
// from the caller's point of view: either every message is acknowledged or
// an error is returned after the retry budget is spent.
func (t *Transport) SendEvents(ctx context.Context, topic string, evs []*events.Event) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if len(evs) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPublishFailed, err)
		}
		messages = append(messages, kafka.Message{
			Topic: t.cfg.topicPrefix + topic,
			Key:   []byte(ev.Meta.Subject),
			Value: value,
			Time:  time.Now(),
		})
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(t.newBackoff(), t.cfg.maxRetries),
		ctx,
	)
	err := backoff.Retry(func() error {
		return t.writer.WriteMessages(ctx, messages...)
	}, policy)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

// PublishRate reports the provisioned events-per-second throughput.
func (t *Transport) PublishRate() float64 {
	return t.cfg.publishRate
}

// Close closes the underlying writer. Subsequent sends fail with
// ErrTransportClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.writer.Close()
}

func (t *Transport) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.retryBackoff
	b.MaxInterval = t.cfg.maxBackoff
	return b
}
