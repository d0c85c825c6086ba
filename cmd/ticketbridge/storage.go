package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/observability"
	"github.com/spec-kit/ticket-bridge/internal/persistence"
	"github.com/spec-kit/ticket-bridge/internal/repository"
)

// storage is the repository set chosen at startup.
type storage struct {
	postgres *persistence.Postgres
	users    repository.UserRepository
	tickets  repository.TicketRepository
	messages repository.MessageRepository
}

// openStorage connects Postgres and applies migrations, or falls back to
// the in-memory store when no DSN is configured.
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, cfg.App.Name, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if !pg.Enabled() {
		mem := repository.NewMemoryStore()
		return &storage{postgres: pg, users: mem.Users(), tickets: mem.Tickets(), messages: mem.Messages()}, nil
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg, cfg.Postgres.MigrationsDir, logger); err != nil {
			pg.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool := pg.PoolHandle()
	return &storage{
		postgres: pg,
		users:    repository.NewUserRepository(pool),
		tickets:  repository.NewTicketRepository(pool),
		messages: repository.NewMessageRepository(pool),
	}, nil
}

func (s *storage) Close() {
	s.postgres.Close()
}

// bootstrap loads configuration and builds the process logger.
func bootstrap(process string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, process)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
