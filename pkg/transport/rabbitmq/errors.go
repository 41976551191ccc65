package rabbitmq

import "errors"

var (
	// ErrNoChannel indicates the transport was built without a channel.
	ErrNoChannel = errors.New("rabbitmq: a channel is required")

	// ErrTransportClosed indicates the transport has been closed.
	ErrTransportClosed = errors.New("rabbitmq: transport is closed")

	// ErrPublishFailed indicates one or more entries could not be published.
	ErrPublishFailed = errors.New("rabbitmq: failed to publish log entries")
)
