// Package requestctx wires a logger, an event emitter and deadline timers
// into one per-call telemetry scope, and guarantees a final flush on
// completion, abort or process-wide crash signals.
package requestctx

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/faaskit/telemetry-go/pkg/clock"
	"github.com/faaskit/telemetry-go/pkg/events"
	"github.com/faaskit/telemetry-go/pkg/logging"
	"github.com/faaskit/telemetry-go/pkg/metrics"
)

// Context is one request's telemetry scope. It is exclusively owned by the
// call it was created for and must be flushed exactly once when the call
// completes, then closed.
type Context struct {
	env     map[string]string
	clk     *clock.Clock
	log     *logging.Logger
	emitter *events.Emitter
	client  ClientInfo
	meta    CallMetadata

	// inner is the handler-visible signal, cancelled at the effective
	// timeout. outer is the transport-layer signal, cancelled only when
	// flushing itself cannot complete in time.
	inner       context.Context
	innerCancel context.CancelFunc
	outer       context.Context
	outerCancel context.CancelFunc

	timeout       time.Duration
	deadline      time.Time
	fallbackDelay time.Duration
	recorder      metrics.Recorder

	mu           sync.Mutex
	timeoutTimer *time.Timer
	abortTimer   *time.Timer
	timedOut     bool
	flushed      bool
	onSuccess    []func()
	succeeded    bool
}

// New builds the telemetry scope for one call: the effective timeout, the
// two cancellation signals, the enriched logger over a fan-out of the log
// transports, the event emitter sharing the call deadline, and the timeout
// timer. The parent context scopes the transport layer; its cancellation
// propagates to every transport call.
func New(parent context.Context, cfg Config) (*Context, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if parent == nil {
		parent = context.Background()
	}

	timeout := cfg.effectiveTimeout()
	client := cfg.Client.withDefaults()

	outer, outerCancel := context.WithCancel(parent)
	inner, innerCancel := context.WithCancel(outer)

	fanout, err := logging.NewFanout(cfg.LogTransports...)
	if err != nil {
		outerCancel()
		innerCancel()
		return nil, err
	}
	bufferOpts := append([]logging.BufferOption{logging.WithBufferMetrics(cfg.Metrics)}, cfg.BufferOptions...)
	buffer, err := logging.NewBuffer(outer, cfg.Clock, fanout, bufferOpts...)
	if err != nil {
		outerCancel()
		innerCancel()
		return nil, err
	}

	log := logging.New(buffer, cfg.MinLogLevel).EnrichReserved(reservedFields(parent, client, cfg.Meta)...)

	deadline := time.Now().Add(timeout)
	emitterOpts := append([]events.EmitterOption{events.WithEmitterMetrics(cfg.Metrics)}, cfg.EmitterOptions...)
	emitter, err := events.NewEmitter(outer, cfg.EventTransport, cfg.Clock, log, client.identity(), deadline, emitterOpts...)
	if err != nil {
		outerCancel()
		innerCancel()
		return nil, err
	}

	c := &Context{
		env:           cfg.Env,
		clk:           cfg.Clock,
		log:           log,
		emitter:       emitter,
		client:        client,
		meta:          cfg.Meta,
		inner:         inner,
		innerCancel:   innerCancel,
		outer:         outer,
		outerCancel:   outerCancel,
		timeout:       timeout,
		deadline:      deadline,
		fallbackDelay: cfg.FallbackDelay,
		recorder:      cfg.Metrics,
	}
	c.timeoutTimer = time.AfterFunc(timeout, c.onTimeout)

	if cfg.FaultSink != nil {
		cfg.FaultSink.Bind(log)
	}
	return c, nil
}

// reservedFields builds the host-controlled enrichment: operation id, client
// identity, call metadata, and the trace context when the parent carries a
// valid span.
func reservedFields(parent context.Context, client ClientInfo, meta CallMetadata) []logging.Field {
	fields := []logging.Field{
		logging.String("operationId", client.OperationID),
	}
	if c := client.reserved(); len(c) > 0 {
		fields = append(fields, logging.Any("client", c))
	}

	m := make(map[string]any, len(meta.Attributes)+1)
	if meta.Operation != "" {
		m["operation"] = meta.Operation
	}
	for k, v := range meta.Attributes {
		m[k] = v
	}
	if len(m) > 0 {
		fields = append(fields, logging.Any("meta", m))
	}

	if span := trace.SpanFromContext(parent); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			logging.String("trace_id", sc.TraceID().String()),
			logging.String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}

// onTimeout fires once at the effective timeout: it records the miss,
// cancels the handler-visible signal, kicks off a best-effort flush without
// awaiting it, and arms the fallback timer that cancels the outer signal if
// flushing has not completed by then.
func (c *Context) onTimeout() {
	c.mu.Lock()
	if c.flushed {
		c.mu.Unlock()
		return
	}
	c.timedOut = true
	c.abortTimer = time.AfterFunc(c.fallbackDelay, c.onAbort)
	c.mu.Unlock()

	c.recorder.RequestTimeout()
	c.log.Error("request deadline exceeded", nil,
		logging.Float64("timeoutSeconds", c.timeout.Seconds()),
	)
	c.innerCancel()

	go c.emitter.Flush(c.outer) //nolint:errcheck // best effort, not awaited
	go c.log.Flush(c.outer)     //nolint:errcheck // best effort, not awaited
}

// onAbort is the failsafe beyond the failsafe: transports honoring the outer
// signal get unblocked; transports ignoring it may still hang.
func (c *Context) onAbort() {
	c.mu.Lock()
	flushed := c.flushed
	c.mu.Unlock()
	if !flushed {
		c.outerCancel()
	}
}

// Flush retires the timeout timer, flushes the emitter, then the logger, and
// finally retires the fallback timer. The ordering hands all request events
// to their transport before the logs documenting final status go out. The
// wait context bounds how long the caller blocks; it does not cancel the
// sends themselves.
func (c *Context) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timeoutTimer != nil {
		c.timeoutTimer.Stop()
	}
	c.mu.Unlock()

	eventErr := c.emitter.Flush(ctx)
	logErr := c.log.Flush(ctx)

	c.mu.Lock()
	c.flushed = true
	if c.abortTimer != nil {
		c.abortTimer.Stop()
	}
	c.mu.Unlock()

	return errors.Join(eventErr, logErr)
}

// Close cancels both signals and releases the scope. Call it after Flush;
// closing earlier aborts in-flight transport I/O.
func (c *Context) Close() {
	c.innerCancel()
	c.outerCancel()
}

// Env looks up one environment value.
func (c *Context) Env(key string) (string, bool) {
	v, ok := c.env[key]
	return v, ok
}

// Log returns the request-scoped logger.
func (c *Context) Log() *logging.Logger {
	return c.log
}

// Ctx returns the handler-visible signal; it is cancelled when the request
// times out.
func (c *Context) Ctx() context.Context {
	return c.inner
}

// Now returns the current high-precision timestamp.
func (c *Context) Now() string {
	return c.clk.NowISO()
}

// Client returns the identity snapshot.
func (c *Context) Client() ClientInfo {
	return c.client
}

// Meta returns the call metadata.
func (c *Context) Meta() CallMetadata {
	return c.meta
}

// Deadline returns the request's absolute deadline.
func (c *Context) Deadline() time.Time {
	return c.deadline
}

// Emit buffers one domain event. An empty id gets a generated ULID. The
// overflow error is a request-level failure for the caller.
func (c *Context) Emit(topic, eventType, subject string, data any, id string) error {
	if id == "" {
		generated, err := ulid.New(ulid.Now(), rand.Reader)
		if err != nil {
			return err
		}
		id = generated.String()
	}
	return c.emitter.Emit(events.Metadata{
		Topic:   topic,
		Type:    eventType,
		Subject: subject,
		ID:      id,
	}, data)
}

// EventBarrier forces an event flush and awaits it, guaranteeing events are
// handed to the transport before a dependent response is returned.
func (c *Context) EventBarrier(ctx context.Context) error {
	return c.emitter.Flush(ctx)
}

// OnSuccess registers a callback run only if the call completes without
// error.
func (c *Context) OnSuccess(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onSuccess = append(c.onSuccess, fn)
	c.mu.Unlock()
}

// Succeed runs the registered success callbacks, once. The host calls it
// after the handler returns without error.
func (c *Context) Succeed() {
	c.mu.Lock()
	if c.succeeded {
		c.mu.Unlock()
		return
	}
	c.succeeded = true
	callbacks := make([]func(), len(c.onSuccess))
	copy(callbacks, c.onSuccess)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// TimedOut reports whether the request hit its deadline; the surrounding
// HTTP layer uses it to mark the response.
func (c *Context) TimedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timedOut
}
