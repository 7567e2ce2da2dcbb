package repository

import (
	"context"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// TicketRepository encapsulates live ticket, archive and challenge
// persistence. Lookups and updates on unknown channels fail with
// domain.ErrNotATicket.
type TicketRepository interface {
	CountByTypeAndUser(ctx context.Context, ticketType domain.TicketType, userID string) (int, error)
	// NextSequenceNumber allocates max(existing)+1 for the type, counting
	// archived tickets too so numbers are never reused. Safe under
	// concurrent callers.
	NextSequenceNumber(ctx context.Context, ticketType domain.TicketType) (int, error)
	Insert(ctx context.Context, ticket *domain.Ticket) error

	Get(ctx context.Context, channelID string) (*domain.Ticket, error)
	GetStatus(ctx context.Context, channelID string) (domain.TicketStatus, error)
	GetOwnerID(ctx context.Context, channelID string) (string, error)
	GetTicketType(ctx context.Context, channelID string) (domain.TicketType, error)
	GetSequenceNumber(ctx context.Context, channelID string) (int, error)
	GetChannelName(ctx context.Context, channelID string) (string, error)

	UpdateStatus(ctx context.Context, channelID string, status domain.TicketStatus) error
	UpdateChannelName(ctx context.Context, channelID, name string) error
	UpdateCheckedState(ctx context.Context, channelID string, state domain.CheckedState) error

	// ArchiveAndDelete copies the row into the archive and removes it from
	// the live table in one transaction.
	ArchiveAndDelete(ctx context.Context, channelID string) error
	GetArchived(ctx context.Context, channelID string) (*domain.ArchivedTicket, error)
	ListArchived(ctx context.Context, guildID string, limit int) ([]domain.ArchivedTicket, error)

	ListOpen(ctx context.Context) ([]domain.Ticket, error)
	ListChallenges(ctx context.Context) ([]domain.Challenge, error)
}

// AuditRepository stores lifecycle audit entries.
type AuditRepository interface {
	RecordAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, channelID string) ([]domain.AuditEntry, error)
}

// Store is implemented by each backend.
type Store interface {
	TicketRepository
	AuditRepository
	Close() error
}

const defaultListLimit = 50

// ticketFields derives the single-field getters from a backend's Get.
type ticketFields struct {
	get func(ctx context.Context, channelID string) (*domain.Ticket, error)
}

func (f ticketFields) GetStatus(ctx context.Context, channelID string) (domain.TicketStatus, error) {
	t, err := f.get(ctx, channelID)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

func (f ticketFields) GetOwnerID(ctx context.Context, channelID string) (string, error) {
	t, err := f.get(ctx, channelID)
	if err != nil {
		return "", err
	}
	return t.UserID, nil
}

func (f ticketFields) GetTicketType(ctx context.Context, channelID string) (domain.TicketType, error) {
	t, err := f.get(ctx, channelID)
	if err != nil {
		return "", err
	}
	return t.Type, nil
}

func (f ticketFields) GetSequenceNumber(ctx context.Context, channelID string) (int, error) {
	t, err := f.get(ctx, channelID)
	if err != nil {
		return 0, err
	}
	return t.SequenceNumber, nil
}

func (f ticketFields) GetChannelName(ctx context.Context, channelID string) (string, error) {
	t, err := f.get(ctx, channelID)
	if err != nil {
		return "", err
	}
	return t.ChannelName, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
