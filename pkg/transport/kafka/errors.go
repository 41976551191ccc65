package kafka

import "errors"

var (
	// ErrInvalidBrokers indicates no broker addresses were provided.
	ErrInvalidBrokers = errors.New("at least one broker address is required")

	// ErrInvalidRate indicates a non-positive publish rate.
	ErrInvalidRate = errors.New("publish rate must be positive")

	// ErrTransportClosed indicates the transport has been closed.
	ErrTransportClosed = errors.New("kafka transport is closed")

	// ErrPublishFailed indicates a batch could not be delivered.
	ErrPublishFailed = errors.New("failed to publish events to kafka")
)
