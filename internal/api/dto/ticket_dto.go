package dto

import (
	"time"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// TicketSummary response.
type TicketSummary struct {
	ID          string              `json:"id"`
	ExternalKey string              `json:"external_key"`
	UserID      string              `json:"user_id"`
	CategoryID  string              `json:"category_id"`
	Status      domain.TicketStatus `json:"status"`
	ChannelRef  string              `json:"channel_ref,omitempty"`
	ClaimedBy   *string             `json:"claimed_by"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	ClosedAt    *time.Time          `json:"closed_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Messages []MessageResponse `json:"messages"`
}

// MessageResponse represents one relayed message.
type MessageResponse struct {
	ID             string                  `json:"id"`
	Direction      domain.MessageDirection `json:"direction"`
	OriginID       string                  `json:"origin_id"`
	Content        string                  `json:"content"`
	DeliveryStatus domain.DeliveryStatus   `json:"delivery_status"`
	EnqueuedAt     time.Time               `json:"enqueued_at"`
	DeliveredAt    *time.Time              `json:"delivered_at"`
}

// QueueResponse lists pending deliveries per side, keyed by ticket id.
type QueueResponse struct {
	Depth       int                            `json:"depth"`
	Origin      map[string][]domain.QueueEntry `json:"origin"`
	Destination map[string][]domain.QueueEntry `json:"destination"`
}

// NewTicketSummary maps a ticket to its response form.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:          t.ID,
		ExternalKey: t.ExternalKey,
		UserID:      t.UserID,
		CategoryID:  t.CategoryID,
		Status:      t.Status,
		ChannelRef:  t.DestinationChannelRef,
		ClaimedBy:   t.ClaimedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		ClosedAt:    t.ClosedAt,
	}
}

// NewTicketDetail maps a ticket and its history.
func NewTicketDetail(t *domain.Ticket, msgs []domain.Message) TicketDetailResponse {
	out := TicketDetailResponse{
		TicketSummary: NewTicketSummary(t),
		Messages:      make([]MessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, MessageResponse{
			ID:             m.ID,
			Direction:      m.Direction,
			OriginID:       m.OriginID,
			Content:        m.Content,
			DeliveryStatus: m.DeliveryStatus,
			EnqueuedAt:     m.EnqueuedAt,
			DeliveredAt:    m.DeliveredAt,
		})
	}
	return out
}
