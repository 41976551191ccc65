package requestctx

import (
	"github.com/google/uuid"

	"github.com/faaskit/telemetry-go/pkg/events"
)

// ClientInfo is the caller identity snapshot for one request. It is captured
// once at context creation, never mutated, and attached to every event and
// to the reserved log enrichment.
type ClientInfo struct {
	OperationID string
	ClientID    string
	ClientIP    string
	ClientPort  string
	UserAgent   string
}

// withDefaults fills in a generated operation id when the host supplied none.
func (c ClientInfo) withDefaults() ClientInfo {
	if c.OperationID == "" {
		c.OperationID = uuid.NewString()
	}
	return c
}

// identity converts the snapshot into the event wire form.
func (c ClientInfo) identity() events.Identity {
	return events.Identity{
		OperationID: c.OperationID,
		ClientID:    c.ClientID,
		ClientIP:    c.ClientIP,
		ClientPort:  c.ClientPort,
		UserAgent:   c.UserAgent,
	}
}

// reserved renders the client portion of the reserved log enrichment.
func (c ClientInfo) reserved() map[string]any {
	client := make(map[string]any, 4)
	if c.ClientID != "" {
		client["id"] = c.ClientID
	}
	if c.ClientIP != "" {
		client["ip"] = c.ClientIP
	}
	if c.ClientPort != "" {
		client["port"] = c.ClientPort
	}
	if c.UserAgent != "" {
		client["userAgent"] = c.UserAgent
	}
	return client
}
