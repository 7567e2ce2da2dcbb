// Package errorutil maps lifecycle errors onto user-facing codes, messages
// and HTTP statuses shared by the REST API and chat replies.
package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	return NewDomainError("NOT_FOUND", fmt.Sprintf("%s not found", resource), http.StatusNotFound, details)
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

type mapping struct {
	target  error
	code    string
	message string
	status  int
}

var mappings = []mapping{
	{domain.ErrInvalidTicketType, "INVALID_TICKET_TYPE", "possible ticket types are help, submit, and misc", http.StatusBadRequest},
	{domain.ErrMaxChannelTickets, "MAX_CHANNEL_TICKETS", "There are over 50 channels in the selected category. Please contact a server admin.", http.StatusConflict},
	{domain.ErrNotATicket, "NOT_A_TICKET", "Channel is not a ticket", http.StatusNotFound},
	{domain.ErrAlreadyClosed, "ALREADY_CLOSED", "Channel is already closed", http.StatusConflict},
	{domain.ErrAlreadyOpen, "ALREADY_OPEN", "Channel is already open", http.StatusConflict},
	{domain.ErrTranscriptDeliveryFailed, "TRANSCRIPT_DELIVERY_FAILED", "Transcript could not be sent to DMs", http.StatusBadGateway},
	{domain.ErrDuplicateChannel, "DUPLICATE_CHANNEL", "Channel is already a ticket", http.StatusConflict},
	{domain.ErrRateLimited, "RATE_LIMITED", "Tickets are being created too quickly, try again in a few seconds", http.StatusTooManyRequests},
	{domain.ErrForbidden, "FORBIDDEN", "You do not have enough permissions to run this command", http.StatusForbidden},
	{domain.ErrBotRequester, "BOT_REQUESTER", "tickets cannot be created for bots", http.StatusBadRequest},
	{domain.ErrAlreadyMember, "ALREADY_MEMBER", "User is already in this ticket", http.StatusConflict},
	{domain.ErrNotMember, "NOT_MEMBER", "User is not in this ticket", http.StatusConflict},
	{domain.ErrTargetIsAdmin, "TARGET_IS_ADMIN", "User is an admin", http.StatusConflict},
	{transport.ErrNotFound, "NOT_FOUND", "channel, role or member not found", http.StatusNotFound},
	{context.DeadlineExceeded, "TIMEOUT", "request timed out", http.StatusGatewayTimeout},
}

// ToDomainError converts any error into a DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	var quota *domain.QuotaExceededError
	if errors.As(err, &quota) {
		return &DomainError{
			Code:       "MAX_USER_TICKETS",
			Message:    fmt.Sprintf("You have reached the maximum limit (%d/%d) for this ticket type", quota.Current, quota.Limit),
			HTTPStatus: http.StatusConflict,
			Details:    map[string]any{"current": quota.Current, "limit": quota.Limit, "type": string(quota.Type)},
			Err:        err,
		}
	}
	var missing *domain.MissingLogError
	if errors.As(err, &missing) {
		return &DomainError{
			Code:       "MISSING_LOG_INFRASTRUCTURE",
			Message:    missing.Error(),
			HTTPStatus: http.StatusPreconditionFailed,
			Err:        err,
		}
	}
	if errors.Is(err, domain.ErrMaxUserTickets) {
		return &DomainError{
			Code:       "MAX_USER_TICKETS",
			Message:    "You have reached the maximum limit for this ticket type",
			HTTPStatus: http.StatusConflict,
			Err:        err,
		}
	}

	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return &DomainError{Code: m.code, Message: m.message, HTTPStatus: m.status, Err: err}
		}
	}

	return NewInternalError(err).(*DomainError)
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// UserMessage returns the text shown to a chat user for err.
func UserMessage(err error) string {
	de := ToDomainError(err)
	if de == nil {
		return ""
	}
	if de.HTTPStatus >= http.StatusInternalServerError && de.Code == "INTERNAL_ERROR" {
		return "Something went wrong, please contact a server admin."
	}
	return de.Message
}
