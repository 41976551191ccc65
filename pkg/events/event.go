// Package events buffers domain events per topic during one request and
// flushes them in batches to an event transport, with a deadline-based
// admission check so unbounded emission cannot stall a request past its
// deadline.
package events

import "encoding/json"

// Metadata identifies one emitted event. Topic selects the buffer the event
// is grouped under; it is not part of the wire record.
type Metadata struct {
	Topic   string
	Type    string
	Subject string
	// ID is optional; the host fills one in when empty.
	ID string
}

// Identity is the client identity snapshot attached to every event. It is
// captured once at request-context creation and never mutated.
type Identity struct {
	OperationID string `json:"operationId,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
	ClientIP    string `json:"clientIp,omitempty"`
	ClientPort  string `json:"clientPort,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
}

// Meta is the wire form of Metadata with the topic excluded.
type Meta struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	ID      string `json:"id,omitempty"`
}

// Event is one buffered event in wire form.
type Event struct {
	EventTime string          `json:"eventTime"`
	Meta      Meta            `json:"meta"`
	IDs       Identity        `json:"ids"`
	JSON      json.RawMessage `json:"json,omitempty"`
}

// Size returns the event's contribution to the buffer's byte budget: the
// full serialized wire record, envelope included, so bodyless events still
// count.
func (e *Event) Size() int {
	serialized, err := json.Marshal(e)
	if err != nil {
		return len(e.JSON)
	}
	return len(serialized)
}
