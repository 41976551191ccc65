package otlplog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"

	"github.com/faaskit/telemetry-go/pkg/logging"
)

type fakeLogger struct {
	embedded.Logger

	mu      sync.Mutex
	records []otellog.Record
}

func (f *fakeLogger) Emit(_ context.Context, record otellog.Record) {
	f.mu.Lock()
	f.records = append(f.records, record)
	f.mu.Unlock()
}

func (f *fakeLogger) Enabled(context.Context, otellog.EnabledParameters) bool { return true }

func (f *fakeLogger) all() []otellog.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]otellog.Record(nil), f.records...)
}

type fakeFlusher struct {
	flushErr error
	flushes  int
	shutdown bool
}

func (f *fakeFlusher) ForceFlush(context.Context) error { f.flushes++; return f.flushErr }
func (f *fakeFlusher) Shutdown(context.Context) error   { f.shutdown = true; return nil }

func await(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("send did not complete")
		return nil
	}
}

func TestSendEntries_EmitsRecords(t *testing.T) {
	logger := &fakeLogger{}
	transport := NewWithLogger(logger)

	done, err := transport.SendEntries(context.Background(), []*logging.Entry{
		{Level: logging.LevelError, Message: "boom", Err: errors.New("cause"), Serialized: []byte(`{"message":"boom"}`)},
		{Level: logging.LevelTrace, Message: "step", Serialized: []byte(`{"message":"step"}`)},
	})
	require.NoError(t, err)
	require.NotNil(t, done, "delivery must be asynchronous")
	require.NoError(t, await(t, done))

	records := logger.all()
	require.Len(t, records, 2)
	assert.Equal(t, otellog.SeverityError, records[0].Severity())
	assert.Equal(t, "error", records[0].SeverityText())
	assert.Equal(t, []byte(`{"message":"boom"}`), records[0].Body().AsBytes())
	assert.Equal(t, otellog.SeverityTrace, records[1].Severity())
}

func TestSendEntries_AwaitsProviderFlush(t *testing.T) {
	transport := NewWithLogger(&fakeLogger{})
	f := &fakeFlusher{flushErr: errors.New("collector unreachable")}
	transport.flusher = f

	done, err := transport.SendEntries(context.Background(), []*logging.Entry{
		{Level: logging.LevelInfo, Message: "m", Serialized: []byte(`{}`)},
	})
	require.NoError(t, err)
	assert.EqualError(t, await(t, done), "collector unreachable")
	assert.Equal(t, 1, f.flushes)
}

func TestShutdown_RejectsFurtherSends(t *testing.T) {
	transport := NewWithLogger(&fakeLogger{})
	f := &fakeFlusher{}
	transport.flusher = f

	require.NoError(t, transport.Shutdown(context.Background()))
	require.NoError(t, transport.Shutdown(context.Background()))
	assert.True(t, f.shutdown)

	_, err := transport.SendEntries(context.Background(), nil)
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestSeverityMapping(t *testing.T) {
	cases := map[logging.Level]otellog.Severity{
		logging.LevelFatal:   otellog.SeverityFatal,
		logging.LevelError:   otellog.SeverityError,
		logging.LevelWarning: otellog.SeverityWarn,
		logging.LevelInfo:    otellog.SeverityInfo,
		logging.LevelDebug:   otellog.SeverityDebug,
		logging.LevelTrace:   otellog.SeverityTrace,
	}
	for level, want := range cases {
		assert.Equal(t, want, severity(level))
	}
}
