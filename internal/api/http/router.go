package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bridge/internal/api/http/handlers"
	"github.com/spec-kit/ticket-bridge/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/login", cfg.Auth.Login)

	admin := app.Group("/admin", cfg.AuthMiddleware.Handle)
	admin.Get("/queue", auth.RequireRole(auth.RoleAdmin, auth.RoleViewer), cfg.Tickets.Queue)
	admin.Get("/tickets/:id", auth.RequireRole(auth.RoleAdmin, auth.RoleViewer), cfg.Tickets.GetTicket)
	admin.Post("/tickets/:id/close", auth.RequireRole(auth.RoleAdmin), cfg.Tickets.CloseTicket)
	admin.Post("/tickets/:id/archive", auth.RequireRole(auth.RoleAdmin), cfg.Tickets.ArchiveTicket)
}
