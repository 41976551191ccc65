package logging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one collected log record. It is immutable once created and owned
// by the buffer until handed to a transport.
type Entry struct {
	// Offset is the monotonic offset at which the entry was collected.
	Offset time.Duration

	// Level is the entry's severity.
	Level Level

	// Message is the raw log message.
	Message string

	// Err is the opaque error value the entry was collected with, if any.
	Err error

	// Serialized is the wire-format JSON record.
	Serialized []byte
}

// Size returns the serialized length of the entry.
func (e *Entry) Size() int {
	return len(e.Serialized)
}

// namer is implemented by errors that carry their own wire name.
type namer interface {
	Name() string
}

// stackTracer is implemented by errors that captured a stack trace.
type stackTracer interface {
	Stack() string
}

// detailer is implemented by errors that carry extra structured detail.
type detailer interface {
	Details() map[string]any
}

// serializeError converts an error value into its wire representation.
// Errors serialize to {message, name, stack?, ...details}; nil is omitted
// entirely by the caller.
func serializeError(err error) map[string]any {
	if err == nil {
		return nil
	}

	record := map[string]any{
		"message": err.Error(),
		"name":    fmt.Sprintf("%T", err),
	}
	if n, ok := err.(namer); ok {
		record["name"] = n.Name()
	}
	if s, ok := err.(stackTracer); ok {
		record["stack"] = s.Stack()
	}
	if d, ok := err.(detailer); ok {
		for k, v := range d.Details() {
			if k == "message" || k == "name" || k == "stack" {
				continue
			}
			record[k] = v
		}
	}
	return record
}

// newEntry serializes one record combining timestamp, level, message, error,
// reserved fields and the merged custom/caller fields. Caller fields win over
// custom fields on key collision; reserved fields live at the top level of
// the record, outside "fields".
func newEntry(offset time.Duration, timestamp string, level Level, msg string, err error, reserved, custom map[string]any, caller []Field) *Entry {
	record := make(map[string]any, len(reserved)+4)
	record["timestamp"] = timestamp
	record["level"] = level.String()
	record["message"] = msg
	if e := serializeError(err); e != nil {
		record["error"] = e
	}
	for k, v := range reserved {
		record[k] = v
	}

	if len(custom) > 0 || len(caller) > 0 {
		fields := make(map[string]any, len(custom)+len(caller))
		for k, v := range custom {
			fields[k] = v
		}
		for _, f := range caller {
			fields[f.Key] = f.Value
		}
		record["fields"] = fields
	}

	serialized, merr := json.Marshal(record)
	if merr != nil {
		// A field value that cannot marshal must not lose the entry.
		fallback := map[string]any{
			"timestamp":           timestamp,
			"level":               level.String(),
			"message":             msg,
			"serialization_error": merr.Error(),
		}
		serialized, _ = json.Marshal(fallback)
	}

	return &Entry{
		Offset:     offset,
		Level:      level,
		Message:    msg,
		Err:        err,
		Serialized: serialized,
	}
}
