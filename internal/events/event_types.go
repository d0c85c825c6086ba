package events

import (
	"time"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketChannelAssigned EventType = "ticket_channel_assigned"
	EventMessageRelayed        EventType = "message_relayed"
	EventMessageQueued         EventType = "message_queued"
)

// Event represents a domain event emitted by the bridge core.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	TicketID  string       `json:"ticket_id"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   interface{}  `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	UserID      string `json:"user_id"`
	CategoryID  string `json:"category_id"`
	ExternalKey string `json:"external_key"`
}

// TicketStatusChangedPayload payload. Ticket is a snapshot taken after the change.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Ticket    *domain.Ticket      `json:"-"`
}

// TicketChannelAssignedPayload payload.
type TicketChannelAssignedPayload struct {
	ChannelRef string `json:"channel_ref"`
}

// MessagePayload is shared by relay and queue events.
type MessagePayload struct {
	MessageID   string                  `json:"message_id"`
	Direction   domain.MessageDirection `json:"direction"`
	Side        domain.Side             `json:"side"`
	BodyPreview string                  `json:"body_preview"`
}
