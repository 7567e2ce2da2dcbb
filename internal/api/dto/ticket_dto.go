package dto

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// CreateTicketRequest payload. RequesterID opens the ticket on behalf of
// another member and needs the admin claim.
type CreateTicketRequest struct {
	Type        string `json:"type" validate:"required,oneof=help submit misc"`
	RequesterID string `json:"requester_id"`
}

// AutocloseRequest payload.
type AutocloseRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// TranscriptRequest payload.
type TranscriptRequest struct {
	DestinationChannelID string `json:"destination_channel_id" validate:"required"`
}

// PanelRequest payload.
type PanelRequest struct {
	ChannelID string `json:"channel_id" validate:"required"`
}

// TicketResponse represents a live ticket.
type TicketResponse struct {
	ChannelID      string              `json:"channel_id"`
	ChannelName    string              `json:"channel_name"`
	GuildID        string              `json:"guild_id"`
	OwnerID        string              `json:"owner_id"`
	Type           domain.TicketType   `json:"type"`
	Status         domain.TicketStatus `json:"status"`
	Autoclose      string              `json:"autoclose"`
	SequenceNumber int                 `json:"sequence_number"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// CreateTicketResponse is returned by ticket creation.
type CreateTicketResponse struct {
	Ticket    TicketResponse `json:"ticket"`
	Challenge string         `json:"challenge,omitempty"`
}

// CloseTicketResponse is returned by ticket closure.
type CloseTicketResponse struct {
	Ticket         TicketResponse `json:"ticket"`
	TranscriptSent bool           `json:"transcript_sent"`
	ViewerURL      string         `json:"viewer_url,omitempty"`
	Participants   []string       `json:"participants"`
	MessageCount   int            `json:"message_count"`
}

// ArchivedTicketResponse represents an archived ticket.
type ArchivedTicketResponse struct {
	TicketResponse
	ArchivedAt time.Time `json:"archived_at"`
}

// TranscriptResponse points at a delivered transcript.
type TranscriptResponse struct {
	MessageID     string `json:"message_id"`
	AttachmentURL string `json:"attachment_url"`
	ViewerURL     string `json:"viewer_url"`
	Digest        string `json:"digest"`
	MessageCount  int    `json:"message_count"`
}

// AuditEntryResponse is one audit log row.
type AuditEntryResponse struct {
	ID        string             `json:"id"`
	ChannelID string             `json:"channel_id"`
	GuildID   string             `json:"guild_id"`
	ActorID   string             `json:"actor_id"`
	Action    domain.AuditAction `json:"action"`
	Detail    map[string]any     `json:"detail,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ChannelID:      t.ChannelID,
		ChannelName:    t.ChannelName,
		GuildID:        t.GuildID,
		OwnerID:        t.UserID,
		Type:           t.Type,
		Status:         t.Status,
		Autoclose:      autocloseLabel(t.Checked),
		SequenceNumber: t.SequenceNumber,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// NewArchivedTicketResponse maps an archived ticket.
func NewArchivedTicketResponse(a *domain.ArchivedTicket) ArchivedTicketResponse {
	return ArchivedTicketResponse{
		TicketResponse: NewTicketResponse(&a.Ticket),
		ArchivedAt:     a.ArchivedAt,
	}
}

// NewAuditEntryResponse maps an audit entry.
func NewAuditEntryResponse(e *domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:        e.ID,
		ChannelID: e.ChannelID,
		GuildID:   e.GuildID,
		ActorID:   e.ActorID,
		Action:    e.Action,
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt,
	}
}

func autocloseLabel(state domain.CheckedState) string {
	switch state {
	case domain.CheckedWarned:
		return "warned"
	case domain.CheckedDisabled:
		return "disabled"
	default:
		return "enabled"
	}
}
