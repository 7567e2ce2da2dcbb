package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

// ArchiveHandler serves archived tickets and the audit trail.
type ArchiveHandler struct {
	tickets repository.TicketRepository
	audit   repository.AuditRepository
}

// NewArchiveHandler constructs handler.
func NewArchiveHandler(tickets repository.TicketRepository, audit repository.AuditRepository) *ArchiveHandler {
	return &ArchiveHandler{tickets: tickets, audit: audit}
}

// ListArchived GET /api/archive?limit=.
func (h *ArchiveHandler) ListArchived(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	guildID := ""
	if principal != nil {
		guildID = principal.GuildID
	}
	archived, err := h.tickets.ListArchived(c.UserContext(), guildID, parseInt(c.Query("limit"), 50))
	if err != nil {
		return err
	}
	items := make([]dto.ArchivedTicketResponse, 0, len(archived))
	for i := range archived {
		items = append(items, dto.NewArchivedTicketResponse(&archived[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetArchived GET /api/archive/:channel.
func (h *ArchiveHandler) GetArchived(c *fiber.Ctx) error {
	archived, err := h.tickets.GetArchived(c.UserContext(), c.Params("channel"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewArchivedTicketResponse(archived)})
}

// ListAudit GET /api/tickets/:channel/audit.
func (h *ArchiveHandler) ListAudit(c *fiber.Ctx) error {
	entries, err := h.audit.ListAudit(c.UserContext(), c.Params("channel"))
	if err != nil {
		return err
	}
	items := make([]dto.AuditEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.NewAuditEntryResponse(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}
