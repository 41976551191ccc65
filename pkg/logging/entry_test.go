package logging

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecord(t *testing.T, e *Entry) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(e.Serialized, &record))
	return record
}

func TestNewEntry_RecordShape(t *testing.T) {
	e := newEntry(time.Millisecond, "2025-01-01T00:00:00.0000000Z", LevelInfo, "hello", nil, nil, nil, nil)

	record := decodeRecord(t, e)
	assert.Equal(t, "2025-01-01T00:00:00.0000000Z", record["timestamp"])
	assert.Equal(t, "info", record["level"])
	assert.Equal(t, "hello", record["message"])
	assert.NotContains(t, record, "error")
	assert.NotContains(t, record, "fields")
}

func TestNewEntry_MergePrecedence(t *testing.T) {
	reserved := map[string]any{"a": 1}
	custom := map[string]any{"a": 2, "b": 2}
	caller := []Field{{Key: "b", Value: 3}, {Key: "c", Value: 3}}

	e := newEntry(0, "ts", LevelInfo, "m", nil, reserved, custom, caller)
	record := decodeRecord(t, e)

	// Reserved fields live at the top level, untouched by custom/caller.
	assert.Equal(t, float64(1), record["a"])

	fields, ok := record["fields"].(map[string]any)
	require.True(t, ok, "fields object missing")
	assert.Equal(t, map[string]any{"a": float64(2), "b": float64(3), "c": float64(3)}, fields)
}

type boomError struct{}

func (boomError) Error() string { return "boom" }
func (boomError) Name() string  { return "TypeError" }
func (boomError) Stack() string { return "at main.go:1" }

func TestSerializeError_Named(t *testing.T) {
	e := newEntry(0, "ts", LevelError, "m", boomError{}, nil, nil, nil)
	record := decodeRecord(t, e)

	errObj, ok := record["error"].(map[string]any)
	require.True(t, ok, "error object missing")
	assert.Equal(t, "boom", errObj["message"])
	assert.Equal(t, "TypeError", errObj["name"])
	assert.Equal(t, "at main.go:1", errObj["stack"])
}

func TestSerializeError_Plain(t *testing.T) {
	e := newEntry(0, "ts", LevelError, "m", errors.New("plain failure"), nil, nil, nil)
	record := decodeRecord(t, e)

	errObj, ok := record["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "plain failure", errObj["message"])
	assert.NotEmpty(t, errObj["name"])
	assert.NotContains(t, errObj, "stack")
}

type detailedError struct{ code int }

func (d detailedError) Error() string { return "detailed" }
func (d detailedError) Details() map[string]any {
	return map[string]any{"code": d.code, "message": "must not clobber"}
}

func TestSerializeError_Details(t *testing.T) {
	e := newEntry(0, "ts", LevelError, "m", detailedError{code: 42}, nil, nil, nil)
	record := decodeRecord(t, e)

	errObj := record["error"].(map[string]any)
	assert.Equal(t, "detailed", errObj["message"], "details must not clobber message")
	assert.Equal(t, float64(42), errObj["code"])
}

func TestNewEntry_UnmarshalableField(t *testing.T) {
	caller := []Field{{Key: "bad", Value: make(chan int)}}
	e := newEntry(0, "ts", LevelInfo, "m", nil, nil, nil, caller)

	record := decodeRecord(t, e)
	assert.Equal(t, "m", record["message"])
	assert.Contains(t, record, "serialization_error")
}
