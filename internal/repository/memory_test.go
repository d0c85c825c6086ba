package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

func TestMemoryTicketsRejectSecondLiveTicket(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tickets := store.Tickets()

	first := &domain.Ticket{UserID: "u1", CategoryID: "general", Status: domain.TicketStatusOpen}
	require.NoError(t, tickets.Create(ctx, first))

	second := &domain.Ticket{UserID: "u1", CategoryID: "general", Status: domain.TicketStatusOpen}
	require.ErrorIs(t, tickets.Create(ctx, second), ErrLiveTicketExists)

	first.Status = domain.TicketStatusClosed
	require.NoError(t, tickets.UpdateStatus(ctx, first))
	require.NoError(t, tickets.Create(ctx, second))
}

func TestMemoryAssignChannelOnlyOnce(t *testing.T) {
	ctx := context.Background()
	tickets := NewMemoryStore().Tickets()

	ticket := &domain.Ticket{UserID: "u1", CategoryID: "general", Status: domain.TicketStatusOpen}
	require.NoError(t, tickets.Create(ctx, ticket))

	assigned, err := tickets.AssignChannel(ctx, ticket.ID, "chan-1")
	require.NoError(t, err)
	require.True(t, assigned)

	assigned, err = tickets.AssignChannel(ctx, ticket.ID, "chan-2")
	require.NoError(t, err)
	require.False(t, assigned)

	found, err := tickets.FindByChannelRef(ctx, "chan-1")
	require.NoError(t, err)
	require.Equal(t, ticket.ID, found.ID)

	_, err = tickets.FindByChannelRef(ctx, "chan-2")
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemoryMessagesListUndeliveredInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	messages := NewMemoryStore().Messages()

	var ids []string
	for _, body := range []string{"a", "b", "c"} {
		msg := &domain.Message{TicketID: "t1", Direction: domain.DirectionInbound, Content: body}
		require.NoError(t, messages.Insert(ctx, msg))
		ids = append(ids, msg.ID)
	}
	require.NoError(t, messages.UpdateDeliveryStatus(ctx, ids[1], domain.DeliveryStatusDelivered))

	pending, err := messages.ListUndelivered(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "a", pending[0].Content)
	require.Equal(t, "c", pending[1].Content)
}
