// Package zaplog mirrors log batches into a zap logger, typically for local
// console output during development. Delivery completes before SendEntries
// returns, so a buffer fed only by this transport runs in synchronous mode.
package zaplog

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/faaskit/telemetry-go/pkg/logging"
)

// ErrNoLogger indicates the transport was built without a zap logger.
var ErrNoLogger = errors.New("zaplog: a zap logger is required")

// Transport writes each entry through a zap logger. It implements
// logging.Transport with purely synchronous completion.
type Transport struct {
	logger *zap.Logger
}

// New creates a zap-backed log transport.
func New(logger *zap.Logger) (*Transport, error) {
	if logger == nil {
		return nil, ErrNoLogger
	}
	return &Transport{logger: logger}, nil
}

// SendEntries logs every entry and returns (nil, nil): delivery is complete
// when the call returns.
func (t *Transport) SendEntries(_ context.Context, entries []*logging.Entry) (<-chan error, error) {
	for _, entry := range entries {
		fields := []zap.Field{
			zap.String("severity", entry.Level.String()),
			zap.ByteString("record", entry.Serialized),
		}
		if entry.Err != nil {
			fields = append(fields, zap.Error(entry.Err))
		}
		t.logger.Log(zapLevel(entry.Level), entry.Message, fields...)
	}
	return nil, nil
}

// zapLevel maps the telemetry severity scale onto zap's. Fatal maps to
// zap's error level: this transport mirrors records, it must never
// terminate the process.
func zapLevel(l logging.Level) zapcore.Level {
	switch l {
	case logging.LevelFatal, logging.LevelError:
		return zapcore.ErrorLevel
	case logging.LevelWarning:
		return zapcore.WarnLevel
	case logging.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
