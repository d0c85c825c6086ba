package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/ticket-bridge/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bridge/internal/auth"
	"github.com/spec-kit/ticket-bridge/internal/bridge"
	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/observability"
	"github.com/spec-kit/ticket-bridge/internal/repository"
	"github.com/spec-kit/ticket-bridge/internal/service"
	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

type fakeBridge struct {
	health bridge.Health
	queued map[domain.Side]map[string][]domain.QueueEntry
	closed []string
}

func (f *fakeBridge) HealthCheck() bridge.Health { return f.health }

func (f *fakeBridge) QueuedEntries(side domain.Side) map[string][]domain.QueueEntry {
	return f.queued[side]
}

func (f *fakeBridge) ForceCloseTicket(_ context.Context, ticketID string) (*domain.Ticket, error) {
	if ticketID == "missing" {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	f.closed = append(f.closed, ticketID)
	return &domain.Ticket{ID: ticketID, Status: domain.TicketStatusClosed}, nil
}

func (f *fakeBridge) ArchiveTicket(_ context.Context, ticketID string) (*domain.Ticket, error) {
	return nil, apperrors.NewInvalidTransition(string(domain.TicketStatusOpen), string(domain.TicketStatusTranscript), nil)
}

type testServer struct {
	app    *fiber.App
	bridge *fakeBridge
	store  *repository.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hash, err := auth.HashPassword("s3cret-pass", bcrypt.MinCost)
	require.NoError(t, err)

	fb := &fakeBridge{
		health: bridge.Health{
			OriginAvailable:      true,
			DestinationAvailable: false,
			QueueDepth:           1,
			Origin:               domain.AdapterState{Side: domain.SideOrigin, Status: domain.ConnectionConnected, Available: true},
			Destination:          domain.AdapterState{Side: domain.SideDestination, Status: domain.ConnectionReconnecting},
		},
		queued: map[domain.Side]map[string][]domain.QueueEntry{
			domain.SideDestination: {"t-1": {{MessageID: "m-1", TicketID: "t-1", Content: "hello"}}},
		},
	}
	store := repository.NewMemoryStore()
	authService := service.NewAuthService(config.AuthConfig{
		JWTSecret:         "test-secret",
		TokenTTL:          time.Hour,
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
	})
	adminService := service.NewAdminService(service.AdminDependencies{
		Bridge:      fb,
		TicketRepo:  store.Tickets(),
		MessageRepo: store.Messages(),
	})

	metrics := observability.NewMetrics()
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("ticket-bridge", "test", fb, metrics, nil),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(adminService),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager()),
	})
	return &testServer{app: app, bridge: fb, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp.StatusCode, payload
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	status, body := s.do(t, fiber.MethodPost, "/auth/login", "", `{"username":"admin","password":"s3cret-pass"}`)
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestLiveAndReady(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodGet, "/health/live", "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "alive", body["status"])

	status, body = s.do(t, fiber.MethodGet, "/health/ready", "", "")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "ready", body["status"])

	s.bridge.health.Destination.Status = domain.ConnectionFatal
	status, _ = s.do(t, fiber.MethodGet, "/health/ready", "", "")
	require.Equal(t, fiber.StatusServiceUnavailable, status)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, fiber.MethodPost, "/auth/login", "", `{"username":"admin","password":"nope"}`)
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.Equal(t, apperrors.CodeUnauthorized, body["error"].(map[string]any)["code"])

	status, _ = s.do(t, fiber.MethodPost, "/auth/login", "", `{"username":"admin"}`)
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, fiber.MethodPost, "/admin/tickets/t-1/close", "", "")
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.Empty(t, s.bridge.closed)

	status, _ = s.do(t, fiber.MethodGet, "/admin/queue", "garbage", "")
	require.Equal(t, fiber.StatusUnauthorized, status)
}

func TestViewerCannotClose(t *testing.T) {
	s := newTestServer(t)
	token, _, err := auth.NewTokenManager("test-secret", time.Hour).GenerateToken("auditor", auth.RoleViewer)
	require.NoError(t, err)

	status, _ := s.do(t, fiber.MethodGet, "/admin/queue", token, "")
	require.Equal(t, fiber.StatusOK, status)

	status, _ = s.do(t, fiber.MethodPost, "/admin/tickets/t-1/close", token, "")
	require.Equal(t, fiber.StatusForbidden, status)
	require.Empty(t, s.bridge.closed)
}

func TestQueueAndTicketOperations(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)

	status, body := s.do(t, fiber.MethodGet, "/admin/queue", token, "")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	require.EqualValues(t, 1, data["depth"])

	status, body = s.do(t, fiber.MethodPost, "/admin/tickets/t-1/close", token, "")
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "closed", body["data"].(map[string]any)["status"])
	require.Equal(t, []string{"t-1"}, s.bridge.closed)

	status, _ = s.do(t, fiber.MethodPost, "/admin/tickets/missing/close", token, "")
	require.Equal(t, fiber.StatusNotFound, status)

	status, body = s.do(t, fiber.MethodPost, "/admin/tickets/t-1/archive", token, "")
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, apperrors.CodeInvalidTransition, body["error"].(map[string]any)["code"])
}

func TestGetTicketIncludesMessages(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t)
	ctx := context.Background()

	tk := &domain.Ticket{ExternalKey: "TCK-0001", UserID: "u-1", CategoryID: "general", Status: domain.TicketStatusOpen}
	require.NoError(t, s.store.Tickets().Create(ctx, tk))
	require.NoError(t, s.store.Messages().Insert(ctx, &domain.Message{
		TicketID:       tk.ID,
		Direction:      domain.DirectionInbound,
		OriginID:       "42",
		Content:        "help",
		DeliveryStatus: domain.DeliveryStatusDelivered,
	}))

	status, body := s.do(t, fiber.MethodGet, "/admin/tickets/"+tk.ID, token, "")
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	require.Equal(t, "TCK-0001", data["external_key"])
	require.Len(t, data["messages"], 1)

	status, _ = s.do(t, fiber.MethodGet, "/admin/tickets/unknown", token, "")
	require.Equal(t, fiber.StatusNotFound, status)
}

func TestRequestIDEchoedOnErrors(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(fiber.MethodGet, "/admin/queue", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-123")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "req-123", resp.Header.Get(fiber.HeaderXRequestID))

	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "req-123", body["error"]["request_id"])
}
