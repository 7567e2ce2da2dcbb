package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// TicketsHandler exposes lifecycle actions to operators.
type TicketsHandler struct {
	service   *service.TicketService
	tickets   repository.TicketRepository
	transport transport.Transport
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, tickets repository.TicketRepository, t transport.Transport) *TicketsHandler {
	return &TicketsHandler{service: ticketService, tickets: tickets, transport: t}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	guild, actor, err := operator(c, h.transport)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticketType, err := domain.ParseTicketType(req.Type)
	if err != nil {
		return err
	}
	input := service.CreateInput{Type: ticketType, Guild: guild, Actor: actor}
	if req.RequesterID != "" && req.RequesterID != actor.ID {
		if !actor.Elevated {
			return domain.ErrForbidden
		}
		member, err := h.transport.Member(c.UserContext(), guild.ID, req.RequesterID)
		if err != nil {
			return apperrors.NewNotFound("member", map[string]any{"user_id": req.RequesterID})
		}
		input.Requester = member
	}

	result, err := h.service.Create(c.UserContext(), input)
	if err != nil {
		return err
	}
	resp := dto.CreateTicketResponse{Ticket: dto.NewTicketResponse(result.Ticket)}
	if result.Challenge != nil {
		resp.Challenge = result.Challenge.String()
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": resp})
}

// GetTicket GET /api/tickets/:channel.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.Get(c.UserContext(), c.Params("channel"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListOpen GET /api/tickets.
func (h *TicketsHandler) ListOpen(c *fiber.Ctx) error {
	guild, _, err := operator(c, h.transport)
	if err != nil {
		return err
	}
	tickets, err := h.tickets.ListOpen(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		if tickets[i].GuildID == guild.ID {
			items = append(items, dto.NewTicketResponse(&tickets[i]))
		}
	}
	return c.JSON(fiber.Map{"data": items})
}

// CloseTicket POST /api/tickets/:channel/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	in, err := h.action(c)
	if err != nil {
		return err
	}
	result, err := h.service.Close(c.UserContext(), in)
	if err != nil {
		return err
	}
	participants := make([]string, 0, len(result.Participants))
	for _, p := range result.Participants {
		participants = append(participants, p.ID)
	}
	return c.JSON(fiber.Map{"data": dto.CloseTicketResponse{
		Ticket:         dto.NewTicketResponse(result.Ticket),
		TranscriptSent: result.TranscriptSent,
		ViewerURL:      result.ViewerURL,
		Participants:   participants,
		MessageCount:   result.MessageCount,
	}})
}

// ReopenTicket POST /api/tickets/:channel/reopen.
func (h *TicketsHandler) ReopenTicket(c *fiber.Ctx) error {
	in, err := h.action(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Reopen(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// DeleteTicket DELETE /api/tickets/:channel.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	in, err := h.action(c)
	if err != nil {
		return err
	}
	archived, err := h.service.Delete(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewArchivedTicketResponse(archived)})
}

// SetAutoclose PUT /api/tickets/:channel/autoclose.
func (h *TicketsHandler) SetAutoclose(c *fiber.Ctx) error {
	in, err := h.action(c)
	if err != nil {
		return err
	}
	var req dto.AutocloseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.service.SetAutoclose(c.UserContext(), in, *req.Enabled); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// AutoMessage POST /api/tickets/:channel/auto-message.
func (h *TicketsHandler) AutoMessage(c *fiber.Ctx) error {
	in, err := h.action(c)
	if err != nil {
		return err
	}
	if err := h.service.AutoMessage(c.UserContext(), in); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// AddMember POST /api/tickets/:channel/members/:user.
func (h *TicketsHandler) AddMember(c *fiber.Ctx) error {
	in, member, err := h.memberAction(c)
	if err != nil {
		return err
	}
	if err := h.service.AddMember(c.UserContext(), in, member); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// RemoveMember DELETE /api/tickets/:channel/members/:user.
func (h *TicketsHandler) RemoveMember(c *fiber.Ctx) error {
	in, member, err := h.memberAction(c)
	if err != nil {
		return err
	}
	if err := h.service.RemoveMember(c.UserContext(), in, member); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// SendTranscript POST /api/tickets/:channel/transcript.
func (h *TicketsHandler) SendTranscript(c *fiber.Ctx) error {
	in, err := h.action(c)
	if err != nil {
		return err
	}
	var req dto.TranscriptRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ref, err := h.service.SendTranscript(c.UserContext(), in, req.DestinationChannelID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.TranscriptResponse{
		MessageID:     ref.LogMessageID,
		AttachmentURL: ref.AttachmentURL,
		ViewerURL:     ref.ViewerURL,
		Digest:        ref.Digest,
		MessageCount:  ref.MessageCount,
	}})
}

// PostPanel POST /api/panels.
func (h *TicketsHandler) PostPanel(c *fiber.Ctx) error {
	guild, actor, err := operator(c, h.transport)
	if err != nil {
		return err
	}
	var req dto.PanelRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	in := service.ActionInput{Guild: guild, Actor: actor, ChannelID: req.ChannelID}
	if err := h.service.PostPanel(c.UserContext(), in); err != nil {
		return err
	}
	return c.SendStatus(http.StatusCreated)
}

func (h *TicketsHandler) action(c *fiber.Ctx) (service.ActionInput, error) {
	guild, actor, err := operator(c, h.transport)
	if err != nil {
		return service.ActionInput{}, err
	}
	return service.ActionInput{Guild: guild, Actor: actor, ChannelID: c.Params("channel")}, nil
}

func (h *TicketsHandler) memberAction(c *fiber.Ctx) (service.ActionInput, domain.Member, error) {
	in, err := h.action(c)
	if err != nil {
		return in, domain.Member{}, err
	}
	member, err := h.transport.Member(c.UserContext(), in.Guild.ID, c.Params("user"))
	if err != nil {
		return in, domain.Member{}, apperrors.NewNotFound("member", map[string]any{"user_id": c.Params("user")})
	}
	return in, *member, nil
}
