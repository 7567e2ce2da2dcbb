package events

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated          EventType = "ticket_created"
	EventTicketClosed           EventType = "ticket_closed"
	EventTicketReopened         EventType = "ticket_reopened"
	EventTicketDeleted          EventType = "ticket_deleted"
	EventTicketMemberAdded      EventType = "ticket_member_added"
	EventTicketMemberRemoved    EventType = "ticket_member_removed"
	EventTicketAutocloseChanged EventType = "ticket_autoclose_changed"
)

// AllEventTypes lists every event the lifecycle engine publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketClosed,
	EventTicketReopened,
	EventTicketDeleted,
	EventTicketMemberAdded,
	EventTicketMemberRemoved,
	EventTicketAutocloseChanged,
}

// AuditAction maps the event to its audit log action.
func (t EventType) AuditAction() domain.AuditAction {
	switch t {
	case EventTicketCreated:
		return domain.AuditCreated
	case EventTicketClosed:
		return domain.AuditClosed
	case EventTicketReopened:
		return domain.AuditReopened
	case EventTicketDeleted:
		return domain.AuditDeleted
	case EventTicketMemberAdded:
		return domain.AuditMemberAdded
	case EventTicketMemberRemoved:
		return domain.AuditMemberRemoved
	default:
		return domain.AuditAutoclose
	}
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Elevated bool   `json:"elevated"`
}

// Event represents a lifecycle event emitted by the engine.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	GuildID     string    `json:"guild_id"`
	Actor       Actor     `json:"actor"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Type           domain.TicketType `json:"type"`
	SequenceNumber int               `json:"sequence_number"`
	OwnerID        string            `json:"owner_id"`
	Challenge      string            `json:"challenge,omitempty"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	OwnerID        string `json:"owner_id"`
	TranscriptSent bool   `json:"transcript_sent"`
	ViewerURL      string `json:"viewer_url,omitempty"`
	Participants   int    `json:"participants"`
	MessageCount   int    `json:"message_count"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	OwnerID string `json:"owner_id"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	Type           domain.TicketType   `json:"type"`
	SequenceNumber int                 `json:"sequence_number"`
	Status         domain.TicketStatus `json:"status"`
}

// TicketMemberPayload payload.
type TicketMemberPayload struct {
	MemberID string `json:"member_id"`
}

// TicketAutoclosePayload payload.
type TicketAutoclosePayload struct {
	Checked domain.CheckedState `json:"checked"`
}
