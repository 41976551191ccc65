// Package otlplog exports log batches through the OpenTelemetry log SDK to
// an OTLP/gRPC collector. Delivery is asynchronous: entries are handed to
// the SDK and the done channel completes after the processor flush.
package otlplog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/faaskit/telemetry-go/pkg/logging"
)

// ErrTransportClosed indicates the transport has been shut down.
var ErrTransportClosed = errors.New("otlplog: transport is closed")

const instrumentationName = "github.com/faaskit/telemetry-go"

// Option is a functional option for configuring the transport.
type Option func(*config)

type config struct {
	endpoint     string
	insecure     bool
	exportPeriod time.Duration
}

// WithEndpoint sets the collector endpoint, host:port.
func WithEndpoint(endpoint string) Option {
	return func(c *config) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithInsecure disables transport security. Development only.
func WithInsecure() Option {
	return func(c *config) {
		c.insecure = true
	}
}

// WithExportPeriod sets the batch processor's export interval.
func WithExportPeriod(period time.Duration) Option {
	return func(c *config) {
		if period > 0 {
			c.exportPeriod = period
		}
	}
}

// flusher is the slice of *sdklog.LoggerProvider the transport awaits on.
type flusher interface {
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Transport emits every log entry as an OpenTelemetry log record. It
// implements logging.Transport with asynchronous completion.
type Transport struct {
	logger  otellog.Logger
	flusher flusher
	closed  atomic.Bool
}

// New builds an OTLP/gRPC exporter, a batching provider over it, and the
// transport.
func New(ctx context.Context, opts ...Option) (*Transport, error) {
	cfg := &config{endpoint: "localhost:4317", exportPeriod: time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	exporterOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		exporterOpts = append(exporterOpts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportInterval(cfg.exportPeriod),
		)),
	)
	return &Transport{
		logger:  provider.Logger(instrumentationName),
		flusher: provider,
	}, nil
}

// NewWithLogger wraps an existing OpenTelemetry logger. No flush is awaited
// on send; completion means the records were handed to the logger.
func NewWithLogger(logger otellog.Logger) *Transport {
	return &Transport{logger: logger}
}

// SendEntries emits the batch in the background; the done channel completes
// after the provider flush so delivery failures surface to the buffer.
func (t *Transport) SendEntries(ctx context.Context, entries []*logging.Entry) (<-chan error, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	done := make(chan error, 1)
	go func() {
		for _, entry := range entries {
			var record otellog.Record
			record.SetTimestamp(time.Now())
			record.SetSeverity(severity(entry.Level))
			record.SetSeverityText(entry.Level.String())
			record.SetBody(otellog.BytesValue(entry.Serialized))
			record.AddAttributes(otellog.String("message", entry.Message))
			if entry.Err != nil {
				record.AddAttributes(otellog.String("error", entry.Err.Error()))
			}
			t.logger.Emit(ctx, record)
		}
		if t.flusher != nil {
			done <- t.flusher.ForceFlush(ctx)
			return
		}
		done <- nil
	}()
	return done, nil
}

// Shutdown flushes and stops the provider. Subsequent sends fail with
// ErrTransportClosed.
func (t *Transport) Shutdown(ctx context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	if t.flusher == nil {
		return nil
	}
	return t.flusher.Shutdown(ctx)
}

// severity maps the telemetry scale onto OpenTelemetry's.
func severity(l logging.Level) otellog.Severity {
	switch l {
	case logging.LevelFatal:
		return otellog.SeverityFatal
	case logging.LevelError:
		return otellog.SeverityError
	case logging.LevelWarning:
		return otellog.SeverityWarn
	case logging.LevelInfo:
		return otellog.SeverityInfo
	case logging.LevelDebug:
		return otellog.SeverityDebug
	default:
		return otellog.SeverityTrace
	}
}
