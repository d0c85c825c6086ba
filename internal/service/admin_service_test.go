package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/ticket-bridge/internal/auth"
	"github.com/spec-kit/ticket-bridge/internal/bridge"
	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/repository"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

type stubBridge struct {
	queued map[domain.Side]map[string][]domain.QueueEntry
}

func (s stubBridge) HealthCheck() bridge.Health { return bridge.Health{} }

func (s stubBridge) QueuedEntries(side domain.Side) map[string][]domain.QueueEntry {
	return s.queued[side]
}

func (s stubBridge) ForceCloseTicket(context.Context, string) (*domain.Ticket, error) {
	return nil, nil
}

func (s stubBridge) ArchiveTicket(context.Context, string) (*domain.Ticket, error) {
	return nil, nil
}

func TestQueueCountsBothSides(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewAdminService(AdminDependencies{
		Bridge: stubBridge{queued: map[domain.Side]map[string][]domain.QueueEntry{
			domain.SideOrigin:      {"a": {{MessageID: "1"}}},
			domain.SideDestination: {"a": {{MessageID: "2"}, {MessageID: "3"}}, "b": {{MessageID: "4"}}},
		}},
		TicketRepo:  store.Tickets(),
		MessageRepo: store.Messages(),
	})

	status := svc.Queue()
	require.Equal(t, 4, status.Depth)
	require.Len(t, status.Destination, 2)
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("operator-pass", bcrypt.MinCost)
	require.NoError(t, err)
	svc := NewAuthService(config.AuthConfig{
		JWTSecret:         "secret",
		TokenTTL:          time.Hour,
		AdminUsername:     "ops",
		AdminPasswordHash: hash,
	})
	ctx := context.Background()

	token, _, err := svc.Login(ctx, "ops", "operator-pass")
	require.NoError(t, err)
	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)
	require.Equal(t, auth.RoleAdmin, claims.Role)

	_, _, err = svc.Login(ctx, "someone", "operator-pass")
	require.True(t, apperrors.IsCode(err, apperrors.CodeUnauthorized))
	_, _, err = svc.Login(ctx, "ops", "wrong-pass")
	require.True(t, apperrors.IsCode(err, apperrors.CodeUnauthorized))

	disabled := NewAuthService(config.AuthConfig{JWTSecret: "secret", AdminUsername: "ops"})
	_, _, err = disabled.Login(ctx, "ops", "operator-pass")
	require.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))
}
