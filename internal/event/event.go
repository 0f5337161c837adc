// Package event defines the envelope carried through the dispatch pipeline
// and the process-wide suppression filter applied to it.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the dataType of an automation-client event.
type Kind string

const (
	KindQR            Kind = "qr"
	KindAuthenticated Kind = "authenticated"
	KindReady         Kind = "ready"
	KindDisconnected  Kind = "disconnected"
	KindMessage       Kind = "message"
	KindMessageAck    Kind = "message_ack"
	KindMedia         Kind = "media"
	KindStateChange   Kind = "change_state"
)

// Envelope is one dispatch-worthy occurrence. It is immutable once built and
// never persisted; the payload is forwarded verbatim.
type Envelope struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	DataType  Kind            `json:"dataType"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an envelope for a session event. The id is used only for log
// correlation across the webhook and websocket sinks.
func New(sessionID string, kind Kind, data json.RawMessage) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		DataType:  kind,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
