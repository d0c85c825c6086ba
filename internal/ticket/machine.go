// Package ticket owns ticket status transitions and the mapping between a
// ticket, its user and its destination channel.
package ticket

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/events"
	"github.com/spec-kit/ticket-bridge/internal/platform"
	"github.com/spec-kit/ticket-bridge/internal/repository"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

// Machine applies ticket transitions. Transitions on one ticket are
// serialized; different tickets proceed in parallel.
type Machine struct {
	tickets     repository.TicketRepository
	categories  repository.CategoryRepository
	channels    platform.ChannelManager
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	now         func() time.Time
	sendTimeout time.Duration

	ticketLocks *KeyedMutex
	userLocks   *KeyedMutex
}

// Dependencies bundles collaborators for the machine.
type Dependencies struct {
	TicketRepo   repository.TicketRepository
	CategoryRepo repository.CategoryRepository
	// Channels moves destination channels on archive. Nil skips the move.
	Channels   platform.ChannelManager
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Now        func() time.Time
	// SendTimeout bounds each channel move. Defaults to 10s.
	SendTimeout time.Duration
}

// NewMachine constructs the machine.
func NewMachine(deps Dependencies) *Machine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.SendTimeout <= 0 {
		deps.SendTimeout = 10 * time.Second
	}
	return &Machine{
		tickets:     deps.TicketRepo,
		categories:  deps.CategoryRepo,
		channels:    deps.Channels,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger.Named("ticket"),
		now:         deps.Now,
		sendTimeout: deps.SendTimeout,
		ticketLocks: NewKeyedMutex(),
		userLocks:   NewKeyedMutex(),
	}
}

// Get loads a ticket.
func (m *Machine) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := m.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapRepoError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// FindByChannel maps a destination channel back to its ticket.
func (m *Machine) FindByChannel(ctx context.Context, channelRef string) (*domain.Ticket, error) {
	ticket, err := m.tickets.FindByChannelRef(ctx, channelRef)
	if err != nil {
		return nil, mapRepoError(err, "ticket", map[string]any{"channel_ref": channelRef})
	}
	return ticket, nil
}

// FindLiveForUser returns the user's ticket in a non-terminal status.
func (m *Machine) FindLiveForUser(ctx context.Context, userID string) (*domain.Ticket, error) {
	ticket, err := m.tickets.FindOpenForUser(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err, "ticket", map[string]any{"user_id": userID})
	}
	return ticket, nil
}

// Category resolves a category id.
func (m *Machine) Category(categoryID string) (*domain.Category, error) {
	category, err := m.categories.Get(categoryID)
	if err != nil {
		return nil, apperrors.NewCategoryNotFound(categoryID)
	}
	return category, nil
}

// ResolveOrCreate returns the user's live ticket or opens a new one. The
// boolean reports whether a ticket was created.
func (m *Machine) ResolveOrCreate(ctx context.Context, userID, categoryID string) (*domain.Ticket, bool, error) {
	if _, err := m.Category(categoryID); err != nil {
		return nil, false, err
	}

	unlock := m.userLocks.Lock(userID)
	defer unlock()

	existing, err := m.tickets.FindOpenForUser(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, apperrors.NewPersistenceError(err)
	}

	ticket := &domain.Ticket{
		ExternalKey: generateTicketKey(),
		UserID:      userID,
		CategoryID:  categoryID,
		Status:      domain.TicketStatusOpen,
	}
	if err := m.tickets.Create(ctx, ticket); err != nil {
		if errors.Is(err, repository.ErrLiveTicketExists) {
			existing, findErr := m.tickets.FindOpenForUser(ctx, userID)
			if findErr != nil {
				return nil, false, apperrors.NewPersistenceError(findErr)
			}
			return existing, false, nil
		}
		return nil, false, apperrors.NewPersistenceError(err)
	}

	m.logger.Info("ticket opened",
		zap.String("ticket_id", ticket.ID),
		zap.String("external_key", ticket.ExternalKey),
		zap.String("category_id", categoryID))
	m.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    domain.UserActor(userID),
		Payload: events.TicketCreatedPayload{
			UserID:      userID,
			CategoryID:  categoryID,
			ExternalKey: ticket.ExternalKey,
		},
	})
	return ticket, true, nil
}

// AssignChannel records the destination channel. A ticket that already has
// one keeps it and is returned unchanged.
func (m *Machine) AssignChannel(ctx context.Context, ticketID, channelRef string) (*domain.Ticket, error) {
	unlock := m.ticketLocks.Lock(ticketID)
	assigned, err := m.tickets.AssignChannel(ctx, ticketID, channelRef)
	if err != nil {
		unlock()
		return nil, mapRepoError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	ticket, err := m.tickets.GetByID(ctx, ticketID)
	unlock()
	if err != nil {
		return nil, mapRepoError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	if !assigned {
		m.logger.Warn("ticket already has a channel",
			zap.String("ticket_id", ticketID),
			zap.String("channel_ref", ticket.DestinationChannelRef),
			zap.String("rejected_ref", channelRef))
		return ticket, nil
	}
	m.publishEvent(ctx, events.Event{
		Type:     events.EventTicketChannelAssigned,
		TicketID: ticketID,
		Actor:    domain.SystemActor(),
		Payload:  events.TicketChannelAssignedPayload{ChannelRef: channelRef},
	})
	return ticket, nil
}

// Claim assigns an open ticket to a staff member. Claiming again by the
// same staff member is a no-op.
func (m *Machine) Claim(ctx context.Context, ticketID, staffID string) (*domain.Ticket, error) {
	return m.transition(ctx, ticketID, domain.StaffActor(staffID), domain.TicketStatusClaimed,
		func(t *domain.Ticket) (bool, error) {
			switch t.Status {
			case domain.TicketStatusOpen:
				t.ClaimedBy = &staffID
				return true, nil
			case domain.TicketStatusClaimed:
				if t.ClaimedBy != nil && *t.ClaimedBy == staffID {
					return false, nil
				}
			}
			return false, invalid(t, domain.TicketStatusClaimed)
		})
}

// Unclaim returns a claimed ticket to the open pool. Only the claimer may
// unclaim.
func (m *Machine) Unclaim(ctx context.Context, ticketID, staffID string) (*domain.Ticket, error) {
	return m.transition(ctx, ticketID, domain.StaffActor(staffID), domain.TicketStatusOpen,
		func(t *domain.Ticket) (bool, error) {
			if t.Status != domain.TicketStatusClaimed {
				return false, invalid(t, domain.TicketStatusOpen)
			}
			if t.ClaimedBy == nil || *t.ClaimedBy != staffID {
				return false, apperrors.NewForbidden("ticket is claimed by another staff member")
			}
			t.ClaimedBy = nil
			return true, nil
		})
}

// RequestClose marks a live ticket as awaiting closure.
func (m *Machine) RequestClose(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	return m.transition(ctx, ticketID, actor, domain.TicketStatusPendingClose,
		func(t *domain.Ticket) (bool, error) {
			switch t.Status {
			case domain.TicketStatusOpen, domain.TicketStatusClaimed:
				return true, nil
			case domain.TicketStatusPendingClose:
				return false, nil
			}
			return false, invalid(t, domain.TicketStatusPendingClose)
		})
}

// CancelClose withdraws a close request, back to claimed when a claimer
// exists and open otherwise.
func (m *Machine) CancelClose(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	return m.transition(ctx, ticketID, actor, "",
		func(t *domain.Ticket) (bool, error) {
			if t.Status != domain.TicketStatusPendingClose {
				return false, invalid(t, domain.TicketStatusOpen)
			}
			return true, nil
		})
}

// Close closes a live ticket. Closing a ticket that is already terminal
// succeeds without change, so concurrent close paths never fail each other.
// Staff cannot close a ticket claimed by someone else.
func (m *Machine) Close(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	return m.transition(ctx, ticketID, actor, domain.TicketStatusClosed,
		func(t *domain.Ticket) (bool, error) {
			if t.Status.Terminal() {
				return false, nil
			}
			if actor.Kind == domain.ActorStaff && t.ClaimedBy != nil && *t.ClaimedBy != actor.ID {
				return false, apperrors.NewForbidden("ticket is claimed by another staff member")
			}
			return true, nil
		})
}

// ForceClose is the administrative close. It bypasses claim checks but
// still goes through the same transition.
func (m *Machine) ForceClose(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return m.Close(ctx, ticketID, domain.SystemActor())
}

// Archive turns a closed ticket into a transcript, moving its channel under
// the category's transcript parent first. A failed move leaves the ticket
// closed. The move runs outside the ticket lock; the status is checked
// again before it is persisted.
func (m *Machine) Archive(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	current, err := m.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if changed, err := archivable(current); err == nil && changed {
		if err := m.moveToTranscripts(ctx, current); err != nil {
			return current, err
		}
	}
	return m.transition(ctx, ticketID, actor, domain.TicketStatusTranscript, archivable)
}

func archivable(t *domain.Ticket) (bool, error) {
	switch t.Status {
	case domain.TicketStatusTranscript:
		return false, nil
	case domain.TicketStatusClosed:
		return true, nil
	}
	return false, invalid(t, domain.TicketStatusTranscript)
}

// Delete marks a live ticket deleted, used when its channel disappears.
func (m *Machine) Delete(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	return m.transition(ctx, ticketID, actor, domain.TicketStatusDeleted,
		func(t *domain.Ticket) (bool, error) {
			switch t.Status {
			case domain.TicketStatusDeleted:
				return false, nil
			case domain.TicketStatusClosed, domain.TicketStatusTranscript:
				return false, invalid(t, domain.TicketStatusDeleted)
			}
			return true, nil
		})
}

func (m *Machine) moveToTranscripts(ctx context.Context, t *domain.Ticket) error {
	if m.channels == nil || !t.HasChannel() {
		return nil
	}
	category, err := m.categories.Get(t.CategoryID)
	if err != nil || category.TranscriptParentRef == "" {
		return nil
	}
	moveCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	if err := m.channels.MoveChannel(moveCtx, t.DestinationChannelRef, category.TranscriptParentRef); err != nil {
		m.logger.Warn("transcript move failed",
			zap.String("ticket_id", t.ID),
			zap.String("channel_ref", t.DestinationChannelRef),
			zap.Error(err))
		return err
	}
	return nil
}

// transition runs apply under the ticket lock and persists the result when
// apply reports a change. to is the target status; empty means apply sets
// it.
func (m *Machine) transition(ctx context.Context, ticketID string, actor domain.Actor, to domain.TicketStatus, apply func(*domain.Ticket) (bool, error)) (*domain.Ticket, error) {
	unlock := m.ticketLocks.Lock(ticketID)

	ticket, err := m.tickets.GetByID(ctx, ticketID)
	if err != nil {
		unlock()
		return nil, mapRepoError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	old := ticket.Status

	changed, err := apply(ticket)
	if err != nil {
		unlock()
		if apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
			m.logger.Info("transition rejected",
				zap.String("ticket_id", ticketID),
				zap.String("status", string(old)),
				zap.String("requested", string(to)),
				zap.String("actor", string(actor.Kind)))
		}
		return ticket, err
	}
	if !changed {
		unlock()
		return ticket, nil
	}

	switch {
	case to != "":
		ticket.Status = to
	case ticket.ClaimedBy != nil:
		ticket.Status = domain.TicketStatusClaimed
	default:
		ticket.Status = domain.TicketStatusOpen
	}
	if ticket.Status == domain.TicketStatusClosed || ticket.Status == domain.TicketStatusDeleted {
		now := m.now()
		ticket.ClosedAt = &now
	}
	if err := m.tickets.UpdateStatus(ctx, ticket); err != nil {
		unlock()
		return nil, apperrors.NewPersistenceError(err)
	}
	snapshot := ticket.Clone()
	unlock()

	m.logger.Info("ticket status changed",
		zap.String("ticket_id", ticketID),
		zap.String("from", string(old)),
		zap.String("to", string(snapshot.Status)),
		zap.String("actor", string(actor.Kind)),
		zap.String("actor_id", actor.ID))
	m.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticketID,
		Actor:    actor,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: old,
			NewStatus: snapshot.Status,
			Ticket:    snapshot,
		},
	})
	return ticket, nil
}

func invalid(t *domain.Ticket, to domain.TicketStatus) error {
	details := map[string]any{"ticket_id": t.ID}
	if t.ClaimedBy != nil {
		details["claimed_by"] = *t.ClaimedBy
	}
	return apperrors.NewInvalidTransition(string(t.Status), string(to), details)
}

func mapRepoError(err error, resource string, details map[string]any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, details)
	}
	return apperrors.NewPersistenceError(err)
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (m *Machine) publishEvent(ctx context.Context, event events.Event) {
	if m.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	_ = m.dispatcher.Publish(ctx, event)
}
