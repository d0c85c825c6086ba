package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// ErrLiveTicketExists is returned by Create when the user already has a
// ticket in a non-terminal status.
var ErrLiveTicketExists = errors.New("user already has a live ticket")

const uniqueViolation = "23505"

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	FindOpenForUser(ctx context.Context, userID string) (*domain.Ticket, error)
	FindByChannelRef(ctx context.Context, channelRef string) (*domain.Ticket, error)
	UpdateStatus(ctx context.Context, ticket *domain.Ticket) error
	// AssignChannel sets the destination channel once. It reports false
	// when the ticket already had a channel.
	AssignChannel(ctx context.Context, ticketID, channelRef string) (bool, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, external_key, user_id, category_id, status, COALESCE(destination_channel_ref, ''),
               claimed_by, created_at, updated_at, closed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (external_key, user_id, category_id, status)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.ExternalKey,
		ticket.UserID,
		ticket.CategoryID,
		ticket.Status,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "tickets_one_live_per_user" {
		return ErrLiveTicketExists
	}
	return err
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, claimed_by=$2, closed_at=$3, updated_at=NOW()
        WHERE id=$4
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.Status,
		ticket.ClaimedBy,
		ticket.ClosedAt,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	return err
}

func (r *ticketRepository) AssignChannel(ctx context.Context, ticketID, channelRef string) (bool, error) {
	const query = `
        UPDATE tickets SET destination_channel_ref=$1, updated_at=NOW()
        WHERE id=$2 AND destination_channel_ref IS NULL`
	cmd, err := r.pool.Exec(ctx, query, channelRef, ticketID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) FindOpenForUser(ctx context.Context, userID string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets
        WHERE user_id=$1 AND status IN ('open','claimed','pending_close')
        ORDER BY created_at DESC LIMIT 1`
	return r.fetchSingle(ctx, query, userID)
}

func (r *ticketRepository) FindByChannelRef(ctx context.Context, channelRef string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE destination_channel_ref=$1`
	return r.fetchSingle(ctx, query, channelRef)
}

func (r *ticketRepository) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status='closed' AND closed_at < $1
        ORDER BY closed_at ASC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, query, arg))
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.UserID,
		&ticket.CategoryID,
		&ticket.Status,
		&ticket.DestinationChannelRef,
		&ticket.ClaimedBy,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
