package bridge

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/events"
	"github.com/spec-kit/ticket-bridge/internal/observability"
	"github.com/spec-kit/ticket-bridge/internal/platform"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

const previewLength = 48

// OnInboundFromOrigin handles a user message: resolve or open the user's
// ticket, persist the message, then relay it to staff or queue it. A
// returned error means the event was not accepted.
func (m *Manager) OnInboundFromOrigin(ctx context.Context, ev platform.InboundEvent) error {
	user, err := m.resolveUser(ctx, ev)
	if err != nil {
		return err
	}

	categoryID := m.cfg.DefaultCategory
	if cmd := ev.CommandHint; cmd != nil {
		switch cmd.Name {
		case "close":
			return m.closeFromOrigin(ctx, user)
		case "start", "new":
			if arg := cmd.Arg(0); arg != "" {
				categoryID = arg
			}
			_, err := m.openTicket(ctx, user, categoryID)
			return err
		}
	}

	t, err := m.openTicket(ctx, user, categoryID)
	if err != nil || t == nil {
		return err
	}

	unlock := m.routes.Lock(t.ID)
	defer unlock()

	msg := &domain.Message{
		TicketID:  t.ID,
		Direction: domain.DirectionInbound,
		OriginID:  ev.SourceUserID,
		Content:   ev.Content,
	}
	if err := m.messages.Insert(ctx, msg); err != nil {
		m.logger.Error("persist inbound message failed", zap.String("ticket_id", t.ID), zap.Error(err))
		return apperrors.NewPersistenceError(err)
	}
	return m.relay(ctx, t, msg)
}

// OnInboundFromDestination handles staff traffic in a ticket channel:
// commands drive the ticket machine, anything else is relayed to the user.
func (m *Manager) OnInboundFromDestination(ctx context.Context, ev platform.InboundEvent) error {
	t, err := m.machine.FindByChannel(ctx, ev.ChannelRef)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if ev.CommandHint != nil {
		if handled, err := m.handleCommand(ctx, t, ev); handled {
			return err
		}
	}

	if t.Status.Terminal() {
		m.reply(ctx, domain.SideDestination, ev.ChannelRef, noticeTicketInactive(t))
		return nil
	}

	unlock := m.routes.Lock(t.ID)
	defer unlock()

	msg := &domain.Message{
		TicketID:  t.ID,
		Direction: domain.DirectionOutbound,
		OriginID:  ev.SourceUserID,
		Content:   ev.Content,
	}
	if err := m.messages.Insert(ctx, msg); err != nil {
		m.logger.Error("persist outbound message failed", zap.String("ticket_id", t.ID), zap.Error(err))
		return apperrors.NewPersistenceError(err)
	}
	return m.relay(ctx, t, msg)
}

// openTicket resolves the user's live ticket, sending the opening notice
// when one is created. An unknown category is answered, not rejected, and
// yields a nil ticket.
func (m *Manager) openTicket(ctx context.Context, user *domain.User, categoryID string) (*domain.Ticket, error) {
	t, created, err := m.machine.ResolveOrCreate(ctx, user.ID, categoryID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeCategoryNotFound) {
			m.reply(ctx, domain.SideOrigin, user.OriginPlatformID, noticeUnknownCategory(categoryID))
			return nil, nil
		}
		return nil, err
	}
	if created {
		m.reply(ctx, domain.SideOrigin, user.OriginPlatformID, noticeTicketOpened(t))
		if m.trackers[domain.SideDestination].Available() {
			createCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
			_, err := m.ensureChannel(createCtx, t)
			cancel()
			if err != nil {
				m.observeSendFailure(domain.SideDestination, err)
			}
		}
	}
	return t, nil
}

func (m *Manager) closeFromOrigin(ctx context.Context, user *domain.User) error {
	t, err := m.machine.FindLiveForUser(ctx, user.ID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			m.reply(ctx, domain.SideOrigin, user.OriginPlatformID, noticeNoOpenTicket)
			return nil
		}
		return err
	}
	_, err = m.machine.Close(ctx, t.ID, domain.UserActor(user.ID))
	if apperrors.IsCode(err, apperrors.CodePersistence) {
		return err
	}
	return nil
}

func (m *Manager) resolveUser(ctx context.Context, ev platform.InboundEvent) (*domain.User, error) {
	user, err := m.users.GetByOriginID(ctx, ev.SourceUserID)
	switch {
	case err == nil:
		if ev.DisplayName != "" && ev.DisplayName != user.DisplayName {
			if err := m.users.UpdateDisplayName(ctx, user.ID, ev.DisplayName); err != nil {
				m.logger.Warn("refresh display name failed", zap.String("user_id", user.ID), zap.Error(err))
			} else {
				user.DisplayName = ev.DisplayName
			}
		}
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		user = &domain.User{OriginPlatformID: ev.SourceUserID, DisplayName: ev.DisplayName}
		if err := m.users.Create(ctx, user); err != nil {
			return nil, apperrors.NewPersistenceError(err)
		}
		m.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("origin_id", ev.SourceUserID))
		return user, nil
	default:
		return nil, apperrors.NewPersistenceError(err)
	}
}

// relay delivers msg now when the target side is up and nothing for the
// ticket is waiting ahead of it; otherwise it queues. Callers hold the
// ticket's route lock.
func (m *Manager) relay(ctx context.Context, t *domain.Ticket, msg *domain.Message) error {
	side := msg.Side()
	tracker := m.trackers[side]
	q := m.queues[side]

	if tracker.Available() && q.Len(t.ID) == 0 {
		err := m.deliver(ctx, side, t.ID, msg.Content)
		switch {
		case err == nil:
			m.settled(ctx, side, msg, domain.DeliveryStatusDelivered)
			return nil
		case errors.Is(err, platform.ErrUndeliverable):
			m.logger.Warn("message undeliverable", zap.String("ticket_id", t.ID), zap.String("message_id", msg.ID), zap.Error(err))
			m.settled(ctx, side, msg, domain.DeliveryStatusFailed)
			return nil
		default:
			m.observeSendFailure(side, err)
		}
	}

	if err := q.Enqueue(ctx, domain.EntryFor(msg)); err != nil {
		return err
	}
	m.metrics.RecordRelay(string(side), "queued")
	m.publishMessageEvent(ctx, events.EventMessageQueued, side, msg)

	if tracker.Available() {
		go m.drainTicket(side, t.ID)
	} else if side == domain.SideDestination {
		m.NotifyOriginUserOfDegradedService(ctx, t.ID)
	}
	return nil
}

// deliver sends content for a ticket to one side with the send timeout.
func (m *Manager) deliver(ctx context.Context, side domain.Side, ticketID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()

	t, err := m.machine.Get(sendCtx, ticketID)
	if err != nil {
		return err
	}

	var target string
	var adapter platform.Messenger
	switch side {
	case domain.SideDestination:
		if target, err = m.ensureChannel(sendCtx, t); err != nil {
			return err
		}
		adapter = m.destination
	default:
		user, err := m.users.GetByID(sendCtx, t.UserID)
		if err != nil {
			return apperrors.NewPersistenceError(err)
		}
		target = user.OriginPlatformID
		adapter = m.origin
	}

	if _, err := adapter.SendMessage(sendCtx, target, content); err != nil {
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) && !apperrors.IsTransient(err) {
			return apperrors.NewTransientPlatformError(adapter.Name(), err)
		}
		return err
	}
	return nil
}

// ensureChannel returns the ticket's destination channel, creating it on
// first use. A ticket's channel is assigned once and never replaced.
func (m *Manager) ensureChannel(ctx context.Context, t *domain.Ticket) (string, error) {
	if t.HasChannel() {
		return t.DestinationChannelRef, nil
	}
	category, err := m.machine.Category(t.CategoryID)
	if err != nil {
		return "", err
	}
	ref, err := m.destination.CreateChannel(ctx, t, category)
	if err != nil {
		return "", err
	}
	updated, err := m.machine.AssignChannel(ctx, t.ID, ref)
	if err != nil {
		return "", err
	}
	*t = *updated
	return t.DestinationChannelRef, nil
}

// sendQueued is the drain send function for one side.
func (m *Manager) sendQueued(side domain.Side) func(context.Context, domain.QueueEntry) error {
	return func(ctx context.Context, entry domain.QueueEntry) error {
		if err := m.deliver(ctx, side, entry.TicketID, entry.Content); err != nil {
			return err
		}
		m.metrics.RecordRelay(string(side), "relayed")
		m.publishMessageEvent(ctx, events.EventMessageRelayed, side, &domain.Message{
			ID:        entry.MessageID,
			TicketID:  entry.TicketID,
			Direction: entry.Direction,
			Content:   entry.Content,
		})
		return nil
	}
}

func (m *Manager) drainSide(side domain.Side) {
	ctx := m.baseContext()
	for _, res := range m.queues[side].DrainAll(ctx, m.sendQueued(side)) {
		if res.Err != nil {
			m.observeSendFailure(side, res.Err)
			return
		}
	}
}

func (m *Manager) drainTicket(side domain.Side, ticketID string) {
	ctx := m.baseContext()
	res := m.queues[side].Drain(ctx, ticketID, m.sendQueued(side))
	if res.Err != nil {
		m.observeSendFailure(side, res.Err)
	}
}

// observeSendFailure feeds platform failures to the side's tracker.
// Datastore and lookup errors say nothing about the platform.
func (m *Manager) observeSendFailure(side domain.Side, err error) {
	if errors.Is(err, context.Canceled) || apperrors.IsCode(err, apperrors.CodePersistence) ||
		apperrors.IsNotFound(err) || errors.Is(err, platform.ErrUndeliverable) {
		m.logger.Warn("relay failed", zap.String("side", string(side)), zap.Error(err))
		return
	}
	m.metrics.RecordRelay(string(side), "failed")
	m.trackers[side].ReportFailure(err)
}

func (m *Manager) settled(ctx context.Context, side domain.Side, msg *domain.Message, status domain.DeliveryStatus) {
	if err := m.messages.UpdateDeliveryStatus(ctx, msg.ID, status); err != nil {
		m.logger.Warn("update delivery status failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	msg.DeliveryStatus = status
	if status == domain.DeliveryStatusDelivered {
		m.metrics.RecordRelay(string(side), "relayed")
		m.publishMessageEvent(ctx, events.EventMessageRelayed, side, msg)
		return
	}
	m.metrics.RecordRelay(string(side), "failed")
}

// reply sends a bridge notice directly, best effort, and reports whether it
// was delivered. Notices are not persisted or queued.
func (m *Manager) reply(ctx context.Context, side domain.Side, target, content string) bool {
	if target == "" || !m.trackers[side].Available() {
		m.logger.Debug("notice skipped", zap.String("side", string(side)), zap.String("notice", observability.Preview(content, previewLength)))
		return false
	}
	adapter := m.adapters()[side]
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()
	if _, err := adapter.SendMessage(sendCtx, target, content); err != nil {
		m.logger.Warn("notice not delivered", zap.String("side", string(side)), zap.Error(err))
		if !errors.Is(err, platform.ErrUndeliverable) {
			m.observeSendFailure(side, err)
		}
		return false
	}
	return true
}

func (m *Manager) publishMessageEvent(ctx context.Context, eventType events.EventType, side domain.Side, msg *domain.Message) {
	_ = m.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  msg.TicketID,
		Actor:     domain.SystemActor(),
		Timestamp: m.now(),
		Payload: events.MessagePayload{
			MessageID:   msg.ID,
			Direction:   msg.Direction,
			Side:        side,
			BodyPreview: observability.Preview(strings.TrimSpace(msg.Content), previewLength),
		},
	})
}
