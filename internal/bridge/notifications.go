package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/events"
)

const (
	noticeNoOpenTicket = "You have no open ticket. Send a message to open one."
	noticeDegraded     = "Your message is saved. Staff will see it once connectivity is restored."
)

func noticeTicketOpened(t *domain.Ticket) string {
	return fmt.Sprintf("Ticket %s opened. Staff will reply here; send /close when you are done.", t.ExternalKey)
}

func noticeTicketClosed(t *domain.Ticket) string {
	return fmt.Sprintf("Ticket %s has been closed. Send a new message any time to open another one.", t.ExternalKey)
}

func noticeCloseRequested(t *domain.Ticket) string {
	return fmt.Sprintf("Staff would like to close ticket %s. Reply /close to confirm, or keep writing to continue.", t.ExternalKey)
}

func noticeUnknownCategory(categoryID string) string {
	return fmt.Sprintf("Unknown category %q.", categoryID)
}

func noticeTicketInactive(t *domain.Ticket) string {
	return fmt.Sprintf("Ticket %s is %s; messages here are no longer relayed.", t.ExternalKey, t.Status)
}

// registerHandlers subscribes the manager to ticket lifecycle events.
func (m *Manager) registerHandlers() {
	m.dispatcher.Subscribe(events.EventTicketCreated, m.handleTicketCreated)
	m.dispatcher.Subscribe(events.EventTicketStatusChanged, m.handleTicketStatusChanged)
}

func (m *Manager) handleTicketCreated(_ context.Context, event events.Event) error {
	m.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

// handleTicketStatusChanged sends the notices tied to a transition and
// drops queues of tickets that reached a terminal status. It runs for every
// close path, so the closing notice is sent exactly once per close.
func (m *Manager) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok || payload.Ticket == nil {
		return nil
	}
	t := payload.Ticket

	switch payload.NewStatus {
	case domain.TicketStatusClosed:
		m.notifyUser(ctx, t, noticeTicketClosed(t))
		m.reply(ctx, domain.SideDestination, t.DestinationChannelRef, fmt.Sprintf("Ticket closed by %s.", describeActor(event.Actor)))
	case domain.TicketStatusPendingClose:
		m.notifyUser(ctx, t, noticeCloseRequested(t))
	}

	if payload.NewStatus.Terminal() {
		dropped := m.queues[domain.SideOrigin].Discard(ctx, t.ID) + m.queues[domain.SideDestination].Discard(ctx, t.ID)
		if dropped > 0 {
			m.logger.Info("queued messages dropped for terminal ticket",
				zap.String("ticket_id", t.ID),
				zap.String("status", string(payload.NewStatus)),
				zap.Int("dropped", dropped))
		}
		m.noticeMu.Lock()
		delete(m.degraded, t.ID)
		m.noticeMu.Unlock()
	}
	return nil
}

// NotifyOriginUserOfDegradedService tells the ticket's user that their
// message is saved while staff are unreachable. It sends at most once per
// destination outage per ticket; a notice that could not be delivered is
// tried again on the next message.
func (m *Manager) NotifyOriginUserOfDegradedService(ctx context.Context, ticketID string) {
	epoch := m.trackers[domain.SideDestination].Epoch()

	m.noticeMu.Lock()
	previous, seen := m.degraded[ticketID]
	if seen && previous == epoch {
		m.noticeMu.Unlock()
		return
	}
	m.degraded[ticketID] = epoch
	m.noticeMu.Unlock()

	sent := false
	if t, err := m.machine.Get(ctx, ticketID); err != nil {
		m.logger.Warn("degraded notice skipped", zap.String("ticket_id", ticketID), zap.Error(err))
	} else {
		sent = m.notifyUser(ctx, t, noticeDegraded)
	}
	if sent {
		return
	}

	m.noticeMu.Lock()
	if m.degraded[ticketID] == epoch {
		if seen {
			m.degraded[ticketID] = previous
		} else {
			delete(m.degraded, ticketID)
		}
	}
	m.noticeMu.Unlock()
}

func (m *Manager) notifyUser(ctx context.Context, t *domain.Ticket, content string) bool {
	user, err := m.users.GetByID(ctx, t.UserID)
	if err != nil {
		m.logger.Warn("notice recipient lookup failed", zap.String("ticket_id", t.ID), zap.Error(err))
		return false
	}
	return m.reply(ctx, domain.SideOrigin, user.OriginPlatformID, content)
}

func describeActor(actor domain.Actor) string {
	switch actor.Kind {
	case domain.ActorUser:
		return "the user"
	case domain.ActorStaff:
		return "<@" + actor.ID + ">"
	}
	return "an administrator"
}
