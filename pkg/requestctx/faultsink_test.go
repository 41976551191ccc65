package requestctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faaskit/telemetry-go/pkg/clock"
	"github.com/faaskit/telemetry-go/pkg/logging"
)

func newSinkLogger(t *testing.T, transport logging.Transport) *logging.Logger {
	t.Helper()
	buffer, err := logging.NewBuffer(context.Background(), clock.New(), transport)
	require.NoError(t, err)
	return logging.New(buffer, logging.LevelTrace)
}

func TestFaultSink_ReportUsesBaseLogger(t *testing.T) {
	baseT := &stubLogTransport{}
	sink := NewFaultSink(newSinkLogger(t, baseT))

	sink.Report(errors.New("listener crashed"))

	require.Eventually(t, func() bool {
		return baseT.hasMessage("uncaught fault")
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFaultSink_RebindsToRequestLogger(t *testing.T) {
	baseT := &stubLogTransport{}
	sink := NewFaultSink(newSinkLogger(t, baseT))

	requestT := &stubLogTransport{}
	cfg := baseConfig(requestT, newStubEventTransport(1000))
	cfg.FaultSink = sink

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	sink.Report("worker exited")
	require.NoError(t, c.Flush(context.Background()))

	assert.True(t, requestT.hasMessage("uncaught fault"), "fault must land on the request logger")
	assert.False(t, baseT.hasMessage("uncaught fault"), "base logger is superseded after binding")
}

func TestFaultSink_ReportPanicCarriesStack(t *testing.T) {
	baseT := &stubLogTransport{}
	sink := NewFaultSink(newSinkLogger(t, baseT))

	sink.ReportPanic("nil map write", []byte("goroutine 1 [running]:\nmain.handler()"))

	require.Eventually(t, func() bool {
		return baseT.hasMessage("uncaught panic")
	}, 2*time.Second, 5*time.Millisecond)

	records := baseT.records(t)
	require.NotEmpty(t, records)
	fields, ok := records[len(records)-1]["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields["stack"], "main.handler")
}

func TestFaultSink_NilLoggerIsInert(t *testing.T) {
	sink := NewFaultSink(nil)
	assert.NotPanics(t, func() {
		sink.Report(errors.New("early crash"))
		sink.ReportPanic("early crash", nil)
	})
}
