package logging

import "errors"

var (
	// ErrUnknownLevel indicates a level name that is not part of the severity scale.
	ErrUnknownLevel = errors.New("unknown log level")

	// ErrNoTransport indicates a buffer or fanout was built without any transport.
	ErrNoTransport = errors.New("at least one log transport is required")

	// ErrSendFailed indicates a transport rejected a batch of entries.
	ErrSendFailed = errors.New("failed to send log entries")
)
