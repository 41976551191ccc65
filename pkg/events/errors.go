package events

import "errors"

var (
	// ErrOverflow indicates the pending backlog could not be drained before
	// the request deadline at the transport's maximum publish rate. It is a
	// request-level failure for whoever emits.
	ErrOverflow = errors.New("event buffer overflow: backlog cannot drain before deadline")

	// ErrNoTransport indicates an emitter was built without a transport.
	ErrNoTransport = errors.New("event transport is required")

	// ErrInvalidRate indicates a transport with a non-positive publish rate.
	ErrInvalidRate = errors.New("event transport publish rate must be positive")
)
