package service

import (
	"context"

	"github.com/spec-kit/ticket-bridge/internal/bridge"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/repository"
)

// BridgeControl is the slice of the bridge the admin API drives.
type BridgeControl interface {
	HealthCheck() bridge.Health
	QueuedEntries(side domain.Side) map[string][]domain.QueueEntry
	ForceCloseTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)
	ArchiveTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)
}

// AdminService coordinates operator workflows.
type AdminService struct {
	bridge   BridgeControl
	tickets  repository.TicketRepository
	messages repository.MessageRepository
}

// AdminDependencies bundles collaborators for the admin service.
type AdminDependencies struct {
	Bridge      BridgeControl
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
}

// QueueStatus is the pending work on both sides.
type QueueStatus struct {
	Depth       int
	Origin      map[string][]domain.QueueEntry
	Destination map[string][]domain.QueueEntry
}

// NewAdminService builds the service.
func NewAdminService(deps AdminDependencies) *AdminService {
	return &AdminService{
		bridge:   deps.Bridge,
		tickets:  deps.TicketRepo,
		messages: deps.MessageRepo,
	}
}

// Health returns the bridge snapshot.
func (s *AdminService) Health() bridge.Health {
	return s.bridge.HealthCheck()
}

// Queue returns everything waiting for delivery.
func (s *AdminService) Queue() QueueStatus {
	origin := s.bridge.QueuedEntries(domain.SideOrigin)
	destination := s.bridge.QueuedEntries(domain.SideDestination)
	depth := 0
	for _, entries := range origin {
		depth += len(entries)
	}
	for _, entries := range destination {
		depth += len(entries)
	}
	return QueueStatus{Depth: depth, Origin: origin, Destination: destination}
}

// GetTicket loads a ticket with its message history.
func (s *AdminService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, []domain.Message, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	return t, msgs, nil
}

// CloseTicket force-closes a ticket regardless of who claimed it.
func (s *AdminService) CloseTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.bridge.ForceCloseTicket(ctx, ticketID)
}

// ArchiveTicket turns a closed ticket into a transcript.
func (s *AdminService) ArchiveTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.bridge.ArchiveTicket(ctx, ticketID)
}
