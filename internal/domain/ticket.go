package domain

import "time"

// TicketType enumerates the kinds of tickets a user may open.
type TicketType string

const (
	TicketTypeHelp   TicketType = "help"
	TicketTypeSubmit TicketType = "submit"
	TicketTypeMisc   TicketType = "misc"
)

// TicketTypes lists every recognised type in display order.
var TicketTypes = []TicketType{TicketTypeHelp, TicketTypeSubmit, TicketTypeMisc}

// Valid reports whether t is one of the recognised ticket types.
func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeHelp, TicketTypeSubmit, TicketTypeMisc:
		return true
	}
	return false
}

// ParseTicketType validates a raw type name.
func ParseTicketType(raw string) (TicketType, error) {
	t := TicketType(raw)
	if !t.Valid() {
		return "", ErrInvalidTicketType
	}
	return t, nil
}

// TicketStatus enumerates the live lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// CheckedState tracks the autoclose sweep, independent of status.
type CheckedState int

const (
	CheckedEnabled  CheckedState = 0
	CheckedWarned   CheckedState = 1
	CheckedDisabled CheckedState = 2
)

// Ticket is one live ticket row.
type Ticket struct {
	ChannelID      string
	ChannelName    string
	GuildID        string
	UserID         string
	Type           TicketType
	Status         TicketStatus
	Checked        CheckedState
	SequenceNumber int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ArchivedTicket is the historical copy of a deleted ticket.
type ArchivedTicket struct {
	Ticket
	ArchivedAt time.Time
}

// Challenge is an entry of the read-only challenges table.
type Challenge struct {
	ID       int
	Title    string
	Author   string
	Category string
	Blooded  bool
}

func (c Challenge) String() string {
	return c.Category + "/" + c.Title
}
