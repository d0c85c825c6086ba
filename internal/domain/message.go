package domain

import "time"

// MessageDirection says which way a message travels through the bridge.
type MessageDirection string

const (
	// DirectionInbound is user -> staff (origin to destination).
	DirectionInbound MessageDirection = "inbound"
	// DirectionOutbound is staff -> user (destination to origin).
	DirectionOutbound MessageDirection = "outbound"
)

// DeliveryStatus tracks relay progress of a persisted message.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Message is one relayed chat message, persisted before any relay attempt.
type Message struct {
	ID             string
	TicketID       string
	Direction      MessageDirection
	OriginID       string
	Content        string
	DeliveryStatus DeliveryStatus
	EnqueuedAt     time.Time
	DeliveredAt    *time.Time
}

// Side returns the adapter side the message must be delivered to.
func (m *Message) Side() Side {
	if m.Direction == DirectionOutbound {
		return SideOrigin
	}
	return SideDestination
}

// QueueEntry is the in-memory form of a message awaiting delivery.
type QueueEntry struct {
	MessageID  string           `json:"message_id"`
	TicketID   string           `json:"ticket_id"`
	Direction  MessageDirection `json:"direction"`
	OriginID   string           `json:"origin_id"`
	Content    string           `json:"content"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// EntryFor builds the queue entry for a persisted message.
func EntryFor(msg *Message) QueueEntry {
	return QueueEntry{
		MessageID:  msg.ID,
		TicketID:   msg.TicketID,
		Direction:  msg.Direction,
		OriginID:   msg.OriginID,
		Content:    msg.Content,
		EnqueuedAt: msg.EnqueuedAt,
	}
}
