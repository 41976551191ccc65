package logging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/faaskit/telemetry-go/pkg/clock"
	"github.com/faaskit/telemetry-go/pkg/metrics"
)

const (
	defaultMaxEntries   = 8
	defaultMaxBytes     = 64_000
	defaultIdleInterval = 2 * time.Second
)

// mode is the buffer's transport-mode state machine. The mode is unknown
// until the first send's completion signal decides it: a transport that
// completes synchronously switches the buffer permanently to synchronous
// mode, anything else keeps it batching.
type mode int

const (
	modeUnknown mode = iota
	modeSynchronous
	modeBatching
)

// flushOp is one send in the buffer's ordered flush chain. done is closed
// when the send (and everything chained before it) has completed; any number
// of waiters may block on it.
type flushOp struct {
	done chan struct{}
}

// Buffer accumulates serialized log entries and decides when to hand them to
// its transport: on severity, on count, on size, or on an idle timer.
// Batches reach the transport strictly in collection order and never
// overlap.
type Buffer struct {
	mu        sync.Mutex
	ctx       context.Context
	clk       *clock.Clock
	transport Transport
	recorder  metrics.Recorder

	entries []*Entry
	size    int
	mode    mode
	probed  bool
	last    *flushOp
	errs    []error

	timer    *time.Timer
	timerGen uint64

	maxEntries   int
	maxBytes     int
	idleInterval time.Duration
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithMaxEntries sets the entry count above which a batching buffer flushes.
func WithMaxEntries(n int) BufferOption {
	return func(b *Buffer) {
		if n > 0 {
			b.maxEntries = n
		}
	}
}

// WithMaxBytes sets the cumulative serialized size above which a batching
// buffer flushes.
func WithMaxBytes(n int) BufferOption {
	return func(b *Buffer) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

// WithIdleInterval sets how long a batching buffer waits for further entries
// before flushing on its own.
func WithIdleInterval(d time.Duration) BufferOption {
	return func(b *Buffer) {
		if d > 0 {
			b.idleInterval = d
		}
	}
}

// WithBufferMetrics sets the instrumentation recorder.
func WithBufferMetrics(r metrics.Recorder) BufferOption {
	return func(b *Buffer) {
		if r != nil {
			b.recorder = r
		}
	}
}

// NewBuffer creates a buffer bound to one request's transport-layer context.
// The context is handed to every transport send so a stalled transport can be
// abandoned from outside.
func NewBuffer(ctx context.Context, clk *clock.Clock, transport Transport, opts ...BufferOption) (*Buffer, error) {
	if transport == nil {
		return nil, ErrNoTransport
	}
	if clk == nil {
		clk = clock.New()
	}
	b := &Buffer{
		ctx:          ctx,
		clk:          clk,
		transport:    transport,
		recorder:     metrics.Noop{},
		maxEntries:   defaultMaxEntries,
		maxBytes:     defaultMaxBytes,
		idleInterval: defaultIdleInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Collect serializes one record and appends it. Depending on the buffer's
// mode this triggers an immediate flush, a threshold flush, or (re)arms the
// idle timer. The first entry ever collected doubles as the transport-mode
// probe: it is flushed immediately and the presence of the send's done
// channel decides the mode.
func (b *Buffer) Collect(level Level, msg string, err error, reserved, custom map[string]any, caller []Field) {
	offset := b.clk.Now()
	entry := newEntry(offset, b.clk.HighPrecisionISO(offset), level, msg, err, reserved, custom, caller)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	b.size += entry.Size()

	switch b.mode {
	case modeSynchronous:
		b.startFlushLocked()
	case modeUnknown:
		if !b.probed {
			b.probed = true
			b.startFlushLocked()
			return
		}
		// Probe still in flight; batching rules apply meanwhile.
		b.batchPolicyLocked(level)
	case modeBatching:
		b.batchPolicyLocked(level)
	}
}

// batchPolicyLocked applies the batching-mode flush triggers: error-or-worse
// severity, entry count, or cumulative size; otherwise the idle timer is
// re-armed.
func (b *Buffer) batchPolicyLocked(level Level) {
	if level <= LevelError || len(b.entries) > b.maxEntries || b.size > b.maxBytes {
		b.startFlushLocked()
		return
	}
	b.armTimerLocked()
}

// Flush hands any pending entries to the transport and blocks until the full
// flush chain, including sends already in flight, has completed. With
// nothing pending and nothing in flight it returns immediately. Send
// failures accumulated since the last awaited flush are returned joined; the
// buffer never retries them.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	op := b.startFlushLocked()
	b.mu.Unlock()

	if op != nil {
		select {
		case <-op.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	err := errors.Join(b.errs...)
	b.errs = nil
	b.mu.Unlock()
	return err
}

// startFlushLocked detaches the pending batch and chains its send after the
// one in flight. It returns the chain's tail, or nil when nothing has ever
// been flushed and nothing is pending.
func (b *Buffer) startFlushLocked() *flushOp {
	if len(b.entries) == 0 {
		return b.last
	}
	b.stopTimerLocked()

	batch := b.entries
	b.entries = nil
	b.size = 0

	prev := b.last
	op := &flushOp{done: make(chan struct{})}
	b.last = op
	go b.send(batch, prev, op)
	return op
}

// send waits for the previous flush in the chain, then delivers one batch.
func (b *Buffer) send(batch []*Entry, prev, op *flushOp) {
	defer close(op.done)
	if prev != nil {
		<-prev.done
	}

	start := time.Now()
	ch, err := b.transport.SendEntries(b.ctx, batch)

	b.mu.Lock()
	if b.mode == modeUnknown {
		if ch == nil {
			b.mode = modeSynchronous
		} else {
			b.mode = modeBatching
		}
	}
	b.mu.Unlock()

	if err == nil && ch != nil {
		err = <-ch
	}
	if err != nil {
		b.mu.Lock()
		b.errs = append(b.errs, fmt.Errorf("%w: %v", ErrSendFailed, err))
		b.mu.Unlock()
	}

	b.recorder.EntriesFlushed(len(batch))
	b.recorder.FlushDuration("logbuffer", time.Since(start).Seconds())
}

func (b *Buffer) armTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timerGen++
	gen := b.timerGen
	b.timer = time.AfterFunc(b.idleInterval, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.timerGen != gen {
			return
		}
		b.timer = nil
		b.startFlushLocked()
	})
}

func (b *Buffer) stopTimerLocked() {
	if b.timer == nil {
		return
	}
	b.timer.Stop()
	b.timer = nil
	b.timerGen++
}

// Pending returns the number of not-yet-flushed entries.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
