package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTicketType        = errors.New("invalid ticket type")
	ErrMaxUserTickets           = errors.New("maximum tickets for user reached")
	ErrMaxChannelTickets        = errors.New("ticket category is full")
	ErrNotATicket               = errors.New("channel is not a ticket")
	ErrAlreadyClosed            = errors.New("ticket is already closed")
	ErrAlreadyOpen              = errors.New("ticket is already open")
	ErrMissingLogInfrastructure = errors.New("ticket log infrastructure missing")
	ErrTranscriptDeliveryFailed = errors.New("transcript could not be delivered")
	ErrDuplicateChannel         = errors.New("channel already registered as a ticket")
	ErrRateLimited              = errors.New("ticket creation rate limited")
	ErrForbidden                = errors.New("insufficient permissions")
	ErrBotRequester             = errors.New("tickets cannot be created for bots")
	ErrAlreadyMember            = errors.New("member already in ticket")
	ErrNotMember                = errors.New("member not in ticket")
	ErrTargetIsAdmin            = errors.New("member is an admin")
)

// QuotaExceededError carries the counts behind a quota denial.
type QuotaExceededError struct {
	Type    TicketType
	Current int
	Limit   int
	Err     error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%v (%d/%d for %s)", e.Err, e.Current, e.Limit, e.Type)
}

func (e *QuotaExceededError) Unwrap() error {
	return e.Err
}

// MissingLogError describes which piece of log infrastructure is absent.
type MissingLogError struct {
	What string
}

func (e *MissingLogError) Error() string {
	return e.What + " does not exist"
}

func (e *MissingLogError) Unwrap() error {
	return ErrMissingLogInfrastructure
}
