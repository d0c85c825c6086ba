package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

// Restore rebuilds both queues after a restart. Undelivered messages in
// the datastore are merged with checkpointed entries; entries of tickets
// that are gone or terminal are failed and dropped.
func (m *Manager) Restore(ctx context.Context) error {
	undelivered, err := m.messages.ListUndelivered(ctx)
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}

	live := make(map[string]bool)
	isLive := func(ticketID string) bool {
		if ok, seen := live[ticketID]; seen {
			return ok
		}
		t, err := m.machine.Get(ctx, ticketID)
		live[ticketID] = err == nil && !t.Status.Terminal()
		return live[ticketID]
	}

	for side, q := range m.queues {
		known := make(map[string]bool)
		var entries []domain.QueueEntry
		for i := range undelivered {
			msg := &undelivered[i]
			if msg.Side() != side {
				continue
			}
			known[msg.ID] = true
			if !isLive(msg.TicketID) {
				if err := m.messages.UpdateDeliveryStatus(ctx, msg.ID, domain.DeliveryStatusFailed); err != nil {
					m.logger.Warn("fail stale message", zap.String("message_id", msg.ID), zap.Error(err))
				}
				continue
			}
			entries = append(entries, domain.EntryFor(msg))
		}

		checkpointed, err := q.Checkpointed(ctx)
		if err != nil {
			m.logger.Warn("queue checkpoint unreadable", zap.String("side", string(side)), zap.Error(err))
		}
		for _, entry := range checkpointed {
			if known[entry.MessageID] || !isLive(entry.TicketID) {
				continue
			}
			// Settled in the datastore after the checkpoint was written.
			if _, err := m.messages.GetByID(ctx, entry.MessageID); err == nil {
				continue
			}
			known[entry.MessageID] = true
			entries = append(entries, entry)
		}

		q.Restore(ctx, entries)
		if len(entries) > 0 {
			m.logger.Info("pending messages recovered", zap.String("side", string(side)), zap.Int("count", len(entries)))
		}
	}
	return nil
}
