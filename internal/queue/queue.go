// Package queue holds messages waiting for an unavailable adapter, ordered
// per ticket.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/platform"
	"github.com/spec-kit/ticket-bridge/internal/repository"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

// maxParallelDrains bounds how many tickets DrainAll works on at once.
const maxParallelDrains = 8

// SendFunc delivers one entry. Returning platform.ErrUndeliverable fails
// that entry and moves on; any other error stops the drain.
type SendFunc func(ctx context.Context, entry domain.QueueEntry) error

// DrainResult summarizes one drain of one ticket.
type DrainResult struct {
	TicketID  string
	Delivered int
	Failed    int
	Remaining int
	Err       error
}

// Queue holds the pending entries of every ticket for one target side.
type Queue struct {
	side       domain.Side
	messages   repository.MessageRepository
	checkpoint Checkpointer
	logger     *zap.Logger

	mu      sync.Mutex
	tickets map[string]*ticketQueue
}

type ticketQueue struct {
	// drain serializes drains of the same ticket.
	drain     sync.Mutex
	entries   []domain.QueueEntry
	discarded bool
}

// Dependencies bundles queue collaborators.
type Dependencies struct {
	Messages   repository.MessageRepository
	Checkpoint Checkpointer
	Logger     *zap.Logger
}

// New creates the queue for messages bound to side.
func New(side domain.Side, deps Dependencies) *Queue {
	if deps.Checkpoint == nil {
		deps.Checkpoint = NoopCheckpoint{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Queue{
		side:       side,
		messages:   deps.Messages,
		checkpoint: deps.Checkpoint,
		logger:     deps.Logger.Named("queue").With(zap.String("side", string(side))),
		tickets:    make(map[string]*ticketQueue),
	}
}

// Side returns the side entries are delivered to.
func (q *Queue) Side() domain.Side { return q.side }

// Enqueue persists the message as queued and appends it to its ticket's
// queue. The datastore write happens first; a failure leaves the queue
// untouched.
func (q *Queue) Enqueue(ctx context.Context, entry domain.QueueEntry) error {
	if err := q.messages.UpdateDeliveryStatus(ctx, entry.MessageID, domain.DeliveryStatusQueued); err != nil {
		return apperrors.NewPersistenceError(err)
	}

	q.mu.Lock()
	tq := q.ticketLocked(entry.TicketID)
	tq.entries = append(tq.entries, entry)
	depth := len(tq.entries)
	q.mu.Unlock()

	if err := q.checkpoint.Append(ctx, q.side, entry); err != nil {
		q.logger.Warn("queue checkpoint append failed", zap.String("ticket_id", entry.TicketID), zap.Error(err))
	}
	q.logger.Debug("message queued",
		zap.String("ticket_id", entry.TicketID),
		zap.String("message_id", entry.MessageID),
		zap.Int("ticket_depth", depth))
	return nil
}

// Len returns the number of entries queued for a ticket.
func (q *Queue) Len(ticketID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if tq, ok := q.tickets[ticketID]; ok {
		return len(tq.entries)
	}
	return 0
}

// Depth returns the number of entries across all tickets.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, tq := range q.tickets {
		total += len(tq.entries)
	}
	return total
}

// Tickets returns the ids of tickets with a non-empty queue.
func (q *Queue) Tickets() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.tickets))
	for id, tq := range q.tickets {
		if len(tq.entries) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Entries returns a copy of a ticket's queue in delivery order.
func (q *Queue) Entries(ticketID string) []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.tickets[ticketID]
	if !ok {
		return nil
	}
	return append([]domain.QueueEntry(nil), tq.entries...)
}

// Drain delivers a ticket's entries in enqueue order and stops at the
// first failure, leaving it and everything after it queued.
func (q *Queue) Drain(ctx context.Context, ticketID string, send SendFunc) DrainResult {
	result := DrainResult{TicketID: ticketID}

	q.mu.Lock()
	tq, ok := q.tickets[ticketID]
	q.mu.Unlock()
	if !ok {
		return result
	}

	tq.drain.Lock()
	defer tq.drain.Unlock()

	for {
		q.mu.Lock()
		if tq.discarded || len(tq.entries) == 0 {
			q.mu.Unlock()
			break
		}
		head := tq.entries[0]
		q.mu.Unlock()

		err := send(ctx, head)
		switch {
		case err == nil:
			q.settle(ctx, tq, head, domain.DeliveryStatusDelivered)
			result.Delivered++
		case errors.Is(err, platform.ErrUndeliverable):
			q.logger.Warn("queued message undeliverable",
				zap.String("ticket_id", ticketID),
				zap.String("message_id", head.MessageID),
				zap.Error(err))
			q.settle(ctx, tq, head, domain.DeliveryStatusFailed)
			result.Failed++
		default:
			result.Err = err
		}
		if result.Err != nil {
			break
		}
	}

	q.mu.Lock()
	result.Remaining = len(tq.entries)
	if result.Remaining == 0 && q.tickets[ticketID] == tq {
		delete(q.tickets, ticketID)
	}
	q.mu.Unlock()

	if result.Delivered > 0 || result.Err != nil {
		q.logger.Info("queue drained",
			zap.String("ticket_id", ticketID),
			zap.Int("delivered", result.Delivered),
			zap.Int("failed", result.Failed),
			zap.Int("remaining", result.Remaining),
			zap.Error(result.Err))
	}
	return result
}

// DrainAll drains every non-empty ticket queue. Tickets drain concurrently,
// each one serially.
func (q *Queue) DrainAll(ctx context.Context, send SendFunc) []DrainResult {
	ids := q.Tickets()
	results := make([]DrainResult, len(ids))

	var g errgroup.Group
	g.SetLimit(maxParallelDrains)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = q.Drain(ctx, id, send)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Discard drops a ticket's queue and marks its entries failed. A drain in
// progress finishes its current send and then stops.
func (q *Queue) Discard(ctx context.Context, ticketID string) int {
	q.mu.Lock()
	tq, ok := q.tickets[ticketID]
	if !ok {
		q.mu.Unlock()
		return 0
	}
	dropped := tq.entries
	tq.entries = nil
	tq.discarded = true
	delete(q.tickets, ticketID)
	q.mu.Unlock()

	for _, entry := range dropped {
		if err := q.messages.UpdateDeliveryStatus(ctx, entry.MessageID, domain.DeliveryStatusFailed); err != nil {
			q.logger.Warn("mark discarded message failed", zap.String("message_id", entry.MessageID), zap.Error(err))
		}
	}
	if err := q.checkpoint.Clear(ctx, q.side, ticketID); err != nil {
		q.logger.Warn("queue checkpoint clear failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
	if len(dropped) > 0 {
		q.logger.Info("queue discarded", zap.String("ticket_id", ticketID), zap.Int("dropped", len(dropped)))
	}
	return len(dropped)
}

// Checkpointed returns the entries held by the checkpoint store.
func (q *Queue) Checkpointed(ctx context.Context) ([]domain.QueueEntry, error) {
	return q.checkpoint.Load(ctx, q.side)
}

// Restore replaces in-memory state with entries recovered at startup and
// rewrites the checkpoint to match.
func (q *Queue) Restore(ctx context.Context, entries []domain.QueueEntry) {
	sorted := append([]domain.QueueEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EnqueuedAt.Before(sorted[j].EnqueuedAt) })

	q.mu.Lock()
	previous := make([]string, 0, len(q.tickets))
	for id := range q.tickets {
		previous = append(previous, id)
	}
	q.tickets = make(map[string]*ticketQueue)
	for _, entry := range sorted {
		tq := q.ticketLocked(entry.TicketID)
		tq.entries = append(tq.entries, entry)
	}
	q.mu.Unlock()

	cleared := make(map[string]bool)
	for _, id := range previous {
		cleared[id] = true
	}
	for _, entry := range sorted {
		cleared[entry.TicketID] = true
	}
	for id := range cleared {
		if err := q.checkpoint.Clear(ctx, q.side, id); err != nil {
			q.logger.Warn("queue checkpoint clear failed", zap.String("ticket_id", id), zap.Error(err))
		}
	}
	for _, entry := range sorted {
		if err := q.checkpoint.Append(ctx, q.side, entry); err != nil {
			q.logger.Warn("queue checkpoint append failed", zap.String("ticket_id", entry.TicketID), zap.Error(err))
		}
	}
	q.logger.Info("queue restored", zap.Int("entries", len(sorted)))
}

// settle records the outcome of the head entry and pops it, unless a
// discard already emptied the queue.
func (q *Queue) settle(ctx context.Context, tq *ticketQueue, head domain.QueueEntry, status domain.DeliveryStatus) {
	if err := q.messages.UpdateDeliveryStatus(ctx, head.MessageID, status); err != nil {
		q.logger.Warn("update delivery status failed",
			zap.String("message_id", head.MessageID),
			zap.String("status", string(status)),
			zap.Error(err))
	}

	q.mu.Lock()
	popped := len(tq.entries) > 0 && tq.entries[0].MessageID == head.MessageID
	if popped {
		tq.entries = tq.entries[1:]
	}
	q.mu.Unlock()

	if popped {
		if err := q.checkpoint.PopHead(ctx, q.side, head.TicketID); err != nil {
			q.logger.Warn("queue checkpoint pop failed", zap.String("ticket_id", head.TicketID), zap.Error(err))
		}
	}
}

func (q *Queue) ticketLocked(ticketID string) *ticketQueue {
	tq, ok := q.tickets[ticketID]
	if !ok {
		tq = &ticketQueue{}
		q.tickets[ticketID] = tq
	}
	return tq
}
