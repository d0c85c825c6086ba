package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// MessageRepository manages relayed messages.
type MessageRepository interface {
	Insert(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus) error
	// ListUndelivered returns pending and queued messages in enqueue order.
	ListUndelivered(ctx context.Context) ([]domain.Message, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

const messageColumns = `id, ticket_id, direction, origin_id, content, delivery_status, enqueued_at, delivered_at`

func (r *messageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	const query = `
        INSERT INTO messages (ticket_id, direction, origin_id, content, delivery_status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, enqueued_at`
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = domain.DeliveryStatusPending
	}
	return r.pool.QueryRow(ctx, query,
		msg.TicketID,
		msg.Direction,
		msg.OriginID,
		msg.Content,
		msg.DeliveryStatus,
	).Scan(&msg.ID, &msg.EnqueuedAt)
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	var msg domain.Message
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.Direction,
		&msg.OriginID,
		&msg.Content,
		&msg.DeliveryStatus,
		&msg.EnqueuedAt,
		&msg.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus) error {
	const query = `
        UPDATE messages SET delivery_status=$1,
            delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END
        WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *messageRepository) ListUndelivered(ctx context.Context) ([]domain.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages
        WHERE delivery_status IN ('pending','queued') ORDER BY enqueued_at ASC, id ASC`
	return r.list(ctx, query)
}

func (r *messageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE ticket_id=$1 ORDER BY enqueued_at ASC`
	return r.list(ctx, query, ticketID)
}

func (r *messageRepository) list(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.Direction,
			&msg.OriginID,
			&msg.Content,
			&msg.DeliveryStatus,
			&msg.EnqueuedAt,
			&msg.DeliveredAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
