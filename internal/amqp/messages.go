package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cardbook/internal/core"
)

// EventMessage is the wire form of a domain event. MessageID is unique per
// publish and is what consumers deduplicate on.
type EventMessage struct {
	MessageID  string    `json:"message_id"`
	Type       string    `json:"type"`
	CardID     int64     `json:"card_id"`
	InvoiceID  int64     `json:"invoice_id,omitempty"`
	PurchaseID int64     `json:"purchase_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEventMessage wraps e with a fresh message id.
func NewEventMessage(e core.Event) *EventMessage {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &EventMessage{
		MessageID:  uuid.NewString(),
		Type:       e.Type.String(),
		CardID:     e.CardID,
		InvoiceID:  e.InvoiceID,
		PurchaseID: e.PurchaseID,
		Status:     e.Status.String(),
		Timestamp:  at,
	}
}

// Event converts the message back into a domain event.
func (m *EventMessage) Event() core.Event {
	return core.Event{
		Type:       core.EventType(m.Type),
		CardID:     m.CardID,
		InvoiceID:  m.InvoiceID,
		PurchaseID: m.PurchaseID,
		Status:     core.InvoiceStatus(m.Status),
		At:         m.Timestamp,
	}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes a message and rejects ones without an id or type.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.MessageID == "" || msg.Type == "" {
		return nil, fmt.Errorf("event message missing id or type")
	}
	return &msg, nil
}
