package logging

import "context"

// Logger is a leveled logging facade over a shared Buffer. A Logger is an
// immutable value: deriving an enriched logger copies the enrichment maps and
// shares the underlying buffer. The minimum-severity threshold is fixed at
// construction.
type Logger struct {
	buffer    *Buffer
	threshold Level
	reserved  map[string]any
	custom    map[string]any
}

// New creates a logger with the given minimum severity.
func New(buffer *Buffer, threshold Level) *Logger {
	return &Logger{
		buffer:    buffer,
		threshold: threshold,
	}
}

// Enrich returns a logger whose custom enrichment includes the given fields.
// New fields win over existing ones; the receiver is unchanged.
func (l *Logger) Enrich(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	derived := l.clone()
	if derived.custom == nil {
		derived.custom = make(map[string]any, len(fields))
	}
	for _, f := range fields {
		derived.custom[f.Key] = f.Value
	}
	return derived
}

// EnrichReserved returns a logger whose reserved (host-controlled)
// enrichment includes the given fields. It is meant for the host attaching
// identity and call metadata, not for handler code.
func (l *Logger) EnrichReserved(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	derived := l.clone()
	if derived.reserved == nil {
		derived.reserved = make(map[string]any, len(fields))
	}
	for _, f := range fields {
		derived.reserved[f.Key] = f.Value
	}
	return derived
}

func (l *Logger) clone() *Logger {
	derived := &Logger{
		buffer:    l.buffer,
		threshold: l.threshold,
	}
	if len(l.reserved) > 0 {
		derived.reserved = make(map[string]any, len(l.reserved))
		for k, v := range l.reserved {
			derived.reserved[k] = v
		}
	}
	if len(l.custom) > 0 {
		derived.custom = make(map[string]any, len(l.custom))
		for k, v := range l.custom {
			derived.custom[k] = v
		}
	}
	return derived
}

// Trace logs at trace severity.
func (l *Logger) Trace(msg string, err error, fields ...Field) {
	l.log(LevelTrace, msg, err, fields)
}

// Debug logs at debug severity.
func (l *Logger) Debug(msg string, err error, fields ...Field) {
	l.log(LevelDebug, msg, err, fields)
}

// Info logs at info severity.
func (l *Logger) Info(msg string, err error, fields ...Field) {
	l.log(LevelInfo, msg, err, fields)
}

// Warning logs at warning severity.
func (l *Logger) Warning(msg string, err error, fields ...Field) {
	l.log(LevelWarning, msg, err, fields)
}

// Error logs at error severity.
func (l *Logger) Error(msg string, err error, fields ...Field) {
	l.log(LevelError, msg, err, fields)
}

// Fatal logs at fatal severity. Fatal entries pass every threshold.
func (l *Logger) Fatal(msg string, err error, fields ...Field) {
	l.log(LevelFatal, msg, err, fields)
}

// log gates on the threshold before any serialization work happens; a
// rejected call costs nothing.
func (l *Logger) log(level Level, msg string, err error, fields []Field) {
	if !level.Enabled(l.threshold) {
		return
	}
	l.buffer.Collect(level, msg, err, l.reserved, l.custom, fields)
}

// Flush delegates to the underlying buffer.
func (l *Logger) Flush(ctx context.Context) error {
	return l.buffer.Flush(ctx)
}

// Buffer exposes the shared buffer, for hosts that need to wire it directly.
func (l *Logger) Buffer() *Buffer {
	return l.buffer
}
