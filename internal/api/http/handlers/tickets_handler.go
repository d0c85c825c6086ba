package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bridge/internal/api/dto"
	"github.com/spec-kit/ticket-bridge/internal/service"
)

// TicketsHandler serves operator ticket and queue endpoints.
type TicketsHandler struct {
	admin *service.AdminService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(adminService *service.AdminService) *TicketsHandler {
	return &TicketsHandler{admin: adminService}
}

// Queue GET /admin/queue.
func (h *TicketsHandler) Queue(c *fiber.Ctx) error {
	status := h.admin.Queue()
	return c.JSON(fiber.Map{"data": dto.QueueResponse{
		Depth:       status.Depth,
		Origin:      status.Origin,
		Destination: status.Destination,
	}})
}

// GetTicket GET /admin/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	t, msgs, err := h.admin.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(t, msgs)})
}

// CloseTicket POST /admin/tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	t, err := h.admin.CloseTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketSummary(t)})
}

// ArchiveTicket POST /admin/tickets/:id/archive.
func (h *TicketsHandler) ArchiveTicket(c *fiber.Ctx) error {
	t, err := h.admin.ArchiveTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketSummary(t)})
}
