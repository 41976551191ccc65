package requestctx

import (
	"errors"
	"time"

	"github.com/faaskit/telemetry-go/pkg/clock"
	"github.com/faaskit/telemetry-go/pkg/events"
	"github.com/faaskit/telemetry-go/pkg/logging"
	"github.com/faaskit/telemetry-go/pkg/metrics"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultFallbackDelay = 15 * time.Second
)

var (
	// ErrNoLogTransport indicates a config without any log transport.
	ErrNoLogTransport = errors.New("at least one log transport is required")

	// ErrNoEventTransport indicates a config without an event transport.
	ErrNoEventTransport = errors.New("an event transport is required")
)

// CallMetadata is the optional per-call metadata supplied by the host.
type CallMetadata struct {
	// Operation is the logical name of the invoked function.
	Operation string

	// TimeoutSeconds overrides the configured default timeout. Zero means
	// no override. The configured cap still applies.
	TimeoutSeconds float64

	// Attributes are free-form host fields merged into the reserved "meta"
	// enrichment.
	Attributes map[string]any
}

// Config wires one request's telemetry scope.
type Config struct {
	// Env is the environment exposed to handler code.
	Env map[string]string

	// Client is the caller identity snapshot.
	Client ClientInfo

	// Meta is the optional call metadata.
	Meta CallMetadata

	// LogTransports receive every flushed log batch; multiple transports
	// are merged into a fan-out.
	LogTransports []logging.Transport

	// EventTransport receives per-topic event batches.
	EventTransport events.Transport

	// MinLogLevel is the logger's severity threshold.
	MinLogLevel logging.Level

	// DefaultTimeout applies when the call metadata carries no override.
	// Zero means 30 seconds.
	DefaultTimeout time.Duration

	// MaxTimeout caps the effective timeout when positive.
	MaxTimeout time.Duration

	// FallbackDelay is how long after the timeout fires the outer signal is
	// cancelled if flushing has not completed. Zero means 15 seconds.
	FallbackDelay time.Duration

	// Clock is the shared time source; nil creates a fresh one.
	Clock *clock.Clock

	// Metrics instruments the pipeline; nil discards.
	Metrics metrics.Recorder

	// FaultSink, when set, is rebound to this request's logger so uncaught
	// process-wide faults can still be recorded.
	FaultSink *FaultSink

	// BufferOptions are passed through to the log buffer.
	BufferOptions []logging.BufferOption

	// EmitterOptions are passed through to the event emitter.
	EmitterOptions []events.EmitterOption
}

// validate normalizes defaults and rejects incomplete configs.
func (c *Config) validate() error {
	if len(c.LogTransports) == 0 {
		return ErrNoLogTransport
	}
	if c.EventTransport == nil {
		return ErrNoEventTransport
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultTimeout
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = defaultFallbackDelay
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	return nil
}

// effectiveTimeout computes min(meta override or default, cap if configured).
func (c *Config) effectiveTimeout() time.Duration {
	timeout := c.DefaultTimeout
	if c.Meta.TimeoutSeconds > 0 {
		timeout = time.Duration(c.Meta.TimeoutSeconds * float64(time.Second))
	}
	if c.MaxTimeout > 0 && timeout > c.MaxTimeout {
		timeout = c.MaxTimeout
	}
	return timeout
}
