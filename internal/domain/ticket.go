package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen         TicketStatus = "open"
	TicketStatusClaimed      TicketStatus = "claimed"
	TicketStatusPendingClose TicketStatus = "pending_close"
	TicketStatusClosed       TicketStatus = "closed"
	TicketStatusTranscript   TicketStatus = "transcript"
	TicketStatusDeleted      TicketStatus = "deleted"
)

// NonTerminalStatuses lists the statuses in which a user's ticket is still live.
var NonTerminalStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusClaimed,
	TicketStatusPendingClose,
}

// Terminal reports whether no further conversation can happen on the ticket.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketStatusClosed, TicketStatusTranscript, TicketStatusDeleted:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusClaimed, TicketStatusPendingClose,
		TicketStatusClosed, TicketStatusTranscript, TicketStatusDeleted:
		return true
	}
	return false
}

// Ticket is the aggregate for one support conversation.
type Ticket struct {
	ID                    string
	ExternalKey           string
	UserID                string
	CategoryID            string
	Status                TicketStatus
	DestinationChannelRef string
	ClaimedBy             *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ClosedAt              *time.Time
}

// HasChannel reports whether the destination-side channel exists.
func (t *Ticket) HasChannel() bool {
	return t != nil && t.DestinationChannelRef != ""
}

// Clone returns a copy safe to hand to callers.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ClaimedBy != nil {
		claimed := *t.ClaimedBy
		cp.ClaimedBy = &claimed
	}
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		cp.ClosedAt = &closed
	}
	return &cp
}
