package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/faaskit/telemetry-go/pkg/clock"
	"github.com/faaskit/telemetry-go/pkg/logging"
)

// fakeEventTransport records per-topic batches and can fail selected topics
// or hold every send until released through gate.
type fakeEventTransport struct {
	mu         sync.Mutex
	rate       float64
	sends      []sentBatch
	failTopics map[string]error
	gate       chan struct{}
	waiting    int
}

type sentBatch struct {
	topic  string
	events []*Event
}

func (f *fakeEventTransport) SendEvents(ctx context.Context, topic string, events []*Event) error {
	if f.gate != nil {
		f.mu.Lock()
		f.waiting++
		f.mu.Unlock()
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.sends = append(f.sends, sentBatch{topic: topic, events: events})
	err := f.failTopics[topic]
	f.mu.Unlock()
	return err
}

func (f *fakeEventTransport) PublishRate() float64 {
	return f.rate
}

func (f *fakeEventTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeEventTransport) topicEvents(topic string) []*Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*Event
	for _, s := range f.sends {
		if s.topic == topic {
			all = append(all, s.events...)
		}
	}
	return all
}

// memorySink is a synchronous log transport capturing serialized entries.
type memorySink struct {
	mu      sync.Mutex
	entries []*logging.Entry
}

func (m *memorySink) SendEntries(ctx context.Context, entries []*logging.Entry) (<-chan error, error) {
	m.mu.Lock()
	m.entries = append(m.entries, entries...)
	m.mu.Unlock()
	return nil, nil
}

func newTestLogger(t *testing.T) (*logging.Logger, *memorySink) {
	t.Helper()
	sink := &memorySink{}
	buffer, err := logging.NewBuffer(context.Background(), clock.New(), sink)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	return logging.New(buffer, logging.LevelTrace), sink
}

func newTestEmitter(t *testing.T, transport *fakeEventTransport, deadline time.Time, opts ...EmitterOption) *Emitter {
	t.Helper()
	log, _ := newTestLogger(t)
	e, err := NewEmitter(context.Background(), transport, clock.New(), log, Identity{OperationID: "op-1"}, deadline, opts...)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	return e
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// ============================================================================
// CONSTRUCTION
// ============================================================================

func TestNewEmitter_RequiresTransport(t *testing.T) {
	log, _ := newTestLogger(t)
	_, err := NewEmitter(context.Background(), nil, clock.New(), log, Identity{}, time.Now().Add(time.Minute))
	if !errors.Is(err, ErrNoTransport) {
		t.Errorf("expected ErrNoTransport, got %v", err)
	}
}

func TestNewEmitter_RequiresPositiveRate(t *testing.T) {
	log, _ := newTestLogger(t)
	_, err := NewEmitter(context.Background(), &fakeEventTransport{rate: 0}, clock.New(), log, Identity{}, time.Now().Add(time.Minute))
	if !errors.Is(err, ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate, got %v", err)
	}
}

// ============================================================================
// EMISSION AND ADMISSION CONTROL
// ============================================================================

func TestEmit_BuffersWithoutFlushing(t *testing.T) {
	transport := &fakeEventTransport{rate: 1000}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute))

	for i := 0; i < 10; i++ {
		if err := e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "o-1"}, map[string]int{"n": i}); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	if got := e.Pending(); got != 10 {
		t.Errorf("Pending = %d, want 10", got)
	}
	if transport.sendCount() != 0 {
		t.Error("no flush expected below thresholds")
	}
}

func TestEmit_OverflowWhenDeadlinePassed(t *testing.T) {
	transport := &fakeEventTransport{rate: 1000}
	e := newTestEmitter(t, transport, time.Now().Add(-time.Second))

	err := e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "o-1"}, nil)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow past the deadline, got %v", err)
	}
}

func TestEmit_OverflowWhenBacklogOutgrowsDeadline(t *testing.T) {
	// At 1 event/s with 100 ms remaining, one pending event is already more
	// backlog than the deadline can absorb.
	transport := &fakeEventTransport{rate: 1}
	e := newTestEmitter(t, transport, time.Now().Add(100*time.Millisecond))

	if err := e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "a"}, nil); err != nil {
		t.Fatalf("first emit should be admitted: %v", err)
	}
	err := e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "b"}, nil)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestEmit_OmitsBodyForNilData(t *testing.T) {
	transport := &fakeEventTransport{rate: 1000}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute))

	if err := e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "o-1"}, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sent := transport.topicEvents("orders")
	if len(sent) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sent))
	}
	if sent[0].JSON != nil {
		t.Errorf("JSON body should be omitted, got %s", sent[0].JSON)
	}

	wire, err := json.Marshal(sent[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(wire, &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := record["json"]; ok {
		t.Error("wire record must not carry a json key for nil data")
	}
	if record["eventTime"] == "" {
		t.Error("eventTime missing")
	}
}

func TestEmit_StampsIdentity(t *testing.T) {
	transport := &fakeEventTransport{rate: 1000}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute))

	if err := e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "o-1", ID: "evt-9"}, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sent := transport.topicEvents("orders")
	if len(sent) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sent))
	}
	if sent[0].IDs.OperationID != "op-1" {
		t.Errorf("identity not stamped: %+v", sent[0].IDs)
	}
	if sent[0].Meta.ID != "evt-9" || sent[0].Meta.Type != "created" || sent[0].Meta.Subject != "o-1" {
		t.Errorf("meta mismatch: %+v", sent[0].Meta)
	}
}

// ============================================================================
// AUTO-FLUSH AND FLUSH SEMANTICS
// ============================================================================

func TestEmit_AutoFlushAtTopicLimit(t *testing.T) {
	transport := &fakeEventTransport{rate: 100000}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute))

	for i := 0; i < 65; i++ {
		if err := e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "o"}, nil); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return transport.sendCount() == 1 }, "expected one automatic flush")
	if got := len(transport.topicEvents("orders")); got != 65 {
		t.Errorf("expected all 65 events in one batch, got %d", got)
	}
	waitFor(t, func() bool { return e.Pending() == 0 }, "buffer should be empty after the flush")
}

func TestEventSize_CountsWireEnvelope(t *testing.T) {
	bodyless := &Event{
		EventTime: "2025-03-14T09:26:53.1234567Z",
		Meta:      Meta{Type: "created", Subject: "o-1"},
		IDs:       Identity{OperationID: "op-1"},
	}
	if bodyless.Size() == 0 {
		t.Error("a bodyless event must still have a wire size")
	}

	body := json.RawMessage(`{"sku":"A1"}`)
	withBody := &Event{EventTime: bodyless.EventTime, Meta: bodyless.Meta, IDs: bodyless.IDs, JSON: body}
	if withBody.Size() <= len(body) {
		t.Errorf("Size = %d, want more than the %d-byte body alone", withBody.Size(), len(body))
	}
}

func TestEmit_AutoFlushAtByteLimit(t *testing.T) {
	transport := &fakeEventTransport{rate: 100000}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute), WithMaxEventBytes(300))

	// Bodyless events consume the byte budget through their envelope alone.
	for i := 0; i < 5; i++ {
		if err := e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "o"}, nil); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return transport.sendCount() >= 1 }, "expected an automatic flush on cumulative size")
}

func TestFlush_NoPendingIsNoop(t *testing.T) {
	transport := &fakeEventTransport{rate: 1000}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute))

	start := time.Now()
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("empty flush should return immediately")
	}
	if transport.sendCount() != 0 {
		t.Error("empty flush must not reach the transport")
	}
}

func TestFlush_TopicFailureIsIsolated(t *testing.T) {
	transport := &fakeEventTransport{
		rate:       1000,
		failTopics: map[string]error{"payments": errors.New("broker gone")},
	}
	log, sink := newTestLogger(t)
	e, err := NewEmitter(context.Background(), transport, clock.New(), log, Identity{}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	e.Emit(Metadata{Topic: "payments", Type: "captured", Subject: "p-1"}, nil)
	e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "o-1"}, nil)

	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("a per-topic failure must not fail the flush: %v", err)
	}

	if got := len(transport.topicEvents("orders")); got != 1 {
		t.Errorf("sibling topic should still deliver, got %d events", got)
	}
	if e.Pending() != 0 {
		t.Errorf("pending must drop regardless of outcome, got %d", e.Pending())
	}

	// The failed batch was recorded as a fatal entry.
	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		for _, entry := range sink.entries {
			if entry.Level == logging.LevelFatal {
				return true
			}
		}
		return false
	}, "expected a fatal entry for the failed topic")
}

func TestFlush_RoundsAreChained(t *testing.T) {
	gate := make(chan struct{})
	transport := &fakeEventTransport{rate: 1000, gate: gate}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute))

	e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "a"}, nil)
	firstDone := make(chan error, 1)
	go func() { firstDone <- e.Flush(context.Background()) }()

	// The first round must be in flight before the second emit, or both
	// events are detached into a single round.
	waitFor(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return transport.waiting == 1
	}, "first round should be in flight before the second emit")

	e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "b"}, nil)
	secondDone := make(chan error, 1)
	go func() { secondDone <- e.Flush(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	if transport.sendCount() != 0 {
		t.Fatal("gated transport should not have completed any send")
	}

	gate <- struct{}{}
	if err := <-firstDone; err != nil {
		t.Fatalf("first flush: %v", err)
	}
	waitFor(t, func() bool { return transport.sendCount() == 1 }, "first round should complete alone")

	gate <- struct{}{}
	if err := <-secondDone; err != nil {
		t.Fatalf("second flush: %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sends) != 2 {
		t.Fatalf("expected two rounds, got %d", len(transport.sends))
	}
	if transport.sends[0].events[0].Meta.Subject != "a" || transport.sends[1].events[0].Meta.Subject != "b" {
		t.Error("rounds delivered out of collection order")
	}
}

func TestFlush_TopicsWithinRoundRunConcurrently(t *testing.T) {
	gate := make(chan struct{})
	transport := &fakeEventTransport{rate: 1000, gate: gate}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute))

	e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "a"}, nil)
	e.Emit(Metadata{Topic: "payments", Type: "captured", Subject: "b"}, nil)

	done := make(chan error, 1)
	go func() { done <- e.Flush(context.Background()) }()

	// Both topic sends must be blocked on the gate at the same time.
	waitFor(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return transport.waiting == 2
	}, "expected both topic sends in flight concurrently")

	gate <- struct{}{}
	gate <- struct{}{}

	if err := <-done; err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if transport.sendCount() != 2 {
		t.Errorf("expected both topics delivered, got %d", transport.sendCount())
	}
}

func TestFlush_HonorsContext(t *testing.T) {
	gate := make(chan struct{})
	transport := &fakeEventTransport{rate: 1000, gate: gate}
	e := newTestEmitter(t, transport, time.Now().Add(time.Minute))

	e.Emit(Metadata{Topic: "orders", Type: "created", Subject: "a"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	close(gate)
}
