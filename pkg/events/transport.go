package events

import "context"

// Transport durably delivers per-topic event batches, e.g. to a message
// bus. Delivery is at-least-once; deduplication is the transport's concern.
type Transport interface {
	// SendEvents delivers one topic's batch. The context carries the
	// transport-layer cancellation signal.
	SendEvents(ctx context.Context, topic string, events []*Event) error

	// PublishRate is the transport's maximum sustained publish rate in
	// events per second. It must be positive; the emitter's admission check
	// depends on it.
	PublishRate() float64
}
