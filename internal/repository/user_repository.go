package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// UserRepository defines persistence access for end-users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByOriginID(ctx context.Context, originPlatformID string) (*domain.User, error)
	UpdateDisplayName(ctx context.Context, id, displayName string) error
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

// Create inserts the user, or returns the existing row when another event
// for the same origin identity won the race.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (origin_platform_id, display_name)
        VALUES ($1, $2)
        ON CONFLICT (origin_platform_id) DO UPDATE SET origin_platform_id = EXCLUDED.origin_platform_id
        RETURNING id, display_name, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		user.OriginPlatformID,
		user.DisplayName,
	).Scan(&user.ID, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	const query = `UPDATE users SET display_name=$1, updated_at=NOW() WHERE id=$2`

	cmd, err := r.pool.Exec(ctx, query, displayName, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `
        SELECT id, origin_platform_id, display_name, created_at, updated_at
        FROM users WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *userRepository) GetByOriginID(ctx context.Context, originPlatformID string) (*domain.User, error) {
	const query = `
        SELECT id, origin_platform_id, display_name, created_at, updated_at
        FROM users WHERE origin_platform_id=$1`
	return r.fetchSingle(ctx, query, originPlatformID)
}

func (r *userRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.OriginPlatformID,
		&user.DisplayName,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}
