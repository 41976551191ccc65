package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/faaskit/telemetry-go/pkg/clock"
	"github.com/faaskit/telemetry-go/pkg/logging"
	"github.com/faaskit/telemetry-go/pkg/metrics"
)

const (
	defaultMaxPerTopic = 64
	defaultMaxBytes    = 64_000
)

// flushOp is one flush round in the emitter's ordered chain. Rounds are
// chained strictly one after another; topics inside one round send
// concurrently.
type flushOp struct {
	done chan struct{}
}

// Emitter accumulates domain events grouped by topic for a single request
// and flushes per-topic batches to the transport. Emission is guarded by a
// predictive admission check against the request deadline.
type Emitter struct {
	mu        sync.Mutex
	ctx       context.Context
	transport Transport
	clk       *clock.Clock
	log       *logging.Logger
	recorder  metrics.Recorder

	deadline time.Time
	rate     float64
	identity Identity

	byTopic map[string][]*Event
	size    int
	pending int
	last    *flushOp

	maxPerTopic int
	maxBytes    int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithMaxEventsPerTopic sets the per-topic count above which the emitter
// auto-flushes.
func WithMaxEventsPerTopic(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.maxPerTopic = n
		}
	}
}

// WithMaxEventBytes sets the cumulative serialized size above which the
// emitter auto-flushes.
func WithMaxEventBytes(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// WithEmitterMetrics sets the instrumentation recorder.
func WithEmitterMetrics(r metrics.Recorder) EmitterOption {
	return func(e *Emitter) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEmitter creates an emitter for one request. The context carries the
// transport-layer cancellation signal, deadline is the request's absolute
// wall-clock deadline, identity is stamped onto every event, and log
// receives per-topic delivery failures as fatal entries.
func NewEmitter(ctx context.Context, transport Transport, clk *clock.Clock, log *logging.Logger, identity Identity, deadline time.Time, opts ...EmitterOption) (*Emitter, error) {
	if transport == nil {
		return nil, ErrNoTransport
	}
	rate := transport.PublishRate()
	if rate <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRate, rate)
	}
	if clk == nil {
		clk = clock.New()
	}
	e := &Emitter{
		ctx:         ctx,
		transport:   transport,
		clk:         clk,
		log:         log,
		recorder:    metrics.Noop{},
		deadline:    deadline,
		rate:        rate,
		identity:    identity,
		byTopic:     make(map[string][]*Event),
		maxPerTopic: defaultMaxPerTopic,
		maxBytes:    defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Emit buffers one event under its topic. It fails with ErrOverflow when the
// pending backlog alone could not be drained before the deadline at the
// transport's maximum publish rate; this is an admission check, not a queue
// cap, so it rejects proactively instead of buffering indefinitely. A nil
// data value omits the JSON body; anything else is serialized.
func (e *Emitter) Emit(meta Metadata, data any) error {
	var body json.RawMessage
	if data != nil {
		if raw, ok := data.(json.RawMessage); ok {
			body = raw
		} else {
			serialized, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("serialize event data: %w", err)
			}
			body = serialized
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := time.Until(e.deadline)
	if float64(e.pending)/e.rate > remaining.Seconds() {
		e.recorder.EventOverflow()
		return fmt.Errorf("%w: %d events pending, %s remaining at %.0f events/s",
			ErrOverflow, e.pending, remaining, e.rate)
	}

	event := &Event{
		EventTime: e.clk.NowISO(),
		Meta:      Meta{Type: meta.Type, Subject: meta.Subject, ID: meta.ID},
		IDs:       e.identity,
		JSON:      body,
	}
	e.byTopic[meta.Topic] = append(e.byTopic[meta.Topic], event)
	e.pending++
	e.size += event.Size()

	if len(e.byTopic[meta.Topic]) > e.maxPerTopic || e.size > e.maxBytes {
		e.startFlushLocked()
	}
	return nil
}

// Flush detaches the full per-topic buffer and blocks until the flush chain,
// including rounds already in flight, has completed. Per-topic delivery
// failures are logged as fatal entries and never fail the caller; the only
// error returned is the wait context's.
func (e *Emitter) Flush(ctx context.Context) error {
	e.mu.Lock()
	op := e.startFlushLocked()
	e.mu.Unlock()

	if op == nil {
		return nil
	}
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startFlushLocked detaches the buffered topics into one flush round chained
// after the round in flight.
func (e *Emitter) startFlushLocked() *flushOp {
	if len(e.byTopic) == 0 {
		return e.last
	}
	batch := e.byTopic
	e.byTopic = make(map[string][]*Event)
	e.size = 0

	prev := e.last
	op := &flushOp{done: make(chan struct{})}
	e.last = op
	go e.sendRound(batch, prev, op)
	return op
}

// sendRound waits for the previous round, then sends every topic's batch
// concurrently. The pending count is decremented per topic whether its send
// succeeded or not.
func (e *Emitter) sendRound(batch map[string][]*Event, prev, op *flushOp) {
	defer close(op.done)
	if prev != nil {
		<-prev.done
	}

	start := time.Now()
	var wg sync.WaitGroup
	for topic, events := range batch {
		wg.Add(1)
		go func(topic string, events []*Event) {
			defer wg.Done()
			err := e.transport.SendEvents(e.ctx, topic, events)

			e.mu.Lock()
			e.pending -= len(events)
			e.mu.Unlock()

			if err != nil && e.log != nil {
				e.log.Fatal("event batch delivery failed", err,
					logging.String("topic", topic),
					logging.Int("count", len(events)),
					logging.Any("events", events),
				)
			}
			e.recorder.EventsFlushed(topic, len(events))
		}(topic, events)
	}
	wg.Wait()
	e.recorder.FlushDuration("events", time.Since(start).Seconds())
}

// Pending returns the count of events admitted but not yet delivered.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}
