package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

const pgTicketColumns = `channel_id, channel_name, guild_id, user_id, ticket_type, status, checked,
               sequence_number, created_at, updated_at`

type postgresStore struct {
	ticketFields
	pool *pgxpool.Pool
}

// NewPostgresStore builds the pgx backed store.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	s := &postgresStore{pool: pool}
	s.ticketFields = ticketFields{get: s.Get}
	return s
}

func (s *postgresStore) Close() error {
	// The pool is owned by persistence.Postgres.
	return nil
}

func (s *postgresStore) CountByTypeAndUser(ctx context.Context, ticketType domain.TicketType, userID string) (int, error) {
	const query = `SELECT count(1) FROM requests WHERE ticket_type=$1 AND user_id=$2`
	var n int
	if err := s.pool.QueryRow(ctx, query, ticketType, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *postgresStore) NextSequenceNumber(ctx context.Context, ticketType domain.TicketType) (int, error) {
	const query = `
        INSERT INTO ticket_counters (ticket_type, last_value)
        SELECT $1::text, COALESCE(MAX(sequence_number), 0) + 1 FROM (
            SELECT sequence_number FROM requests WHERE ticket_type=$1::text
            UNION ALL
            SELECT sequence_number FROM archive WHERE ticket_type=$1::text
        ) existing
        ON CONFLICT (ticket_type) DO UPDATE SET last_value = ticket_counters.last_value + 1
        RETURNING last_value`
	var n int
	if err := s.pool.QueryRow(ctx, query, string(ticketType)).Scan(&n); err != nil {
		return 0, fmt.Errorf("allocate sequence number: %w", err)
	}
	return n, nil
}

func (s *postgresStore) Insert(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO requests (channel_id, channel_name, guild_id, user_id, ticket_type, status, checked, sequence_number)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (channel_id) DO NOTHING
        RETURNING created_at, updated_at`
	err := s.pool.QueryRow(ctx, query,
		ticket.ChannelID,
		ticket.ChannelName,
		ticket.GuildID,
		ticket.UserID,
		ticket.Type,
		ticket.Status,
		ticket.Checked,
		ticket.SequenceNumber,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrDuplicateChannel
	}
	return err
}

func (s *postgresStore) Get(ctx context.Context, channelID string) (*domain.Ticket, error) {
	query := `SELECT ` + pgTicketColumns + ` FROM requests WHERE channel_id=$1`
	var t domain.Ticket
	err := s.pool.QueryRow(ctx, query, channelID).Scan(
		&t.ChannelID,
		&t.ChannelName,
		&t.GuildID,
		&t.UserID,
		&t.Type,
		&t.Status,
		&t.Checked,
		&t.SequenceNumber,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotATicket
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, channelID string, status domain.TicketStatus) error {
	const query = `
        UPDATE requests SET status=$1,
            updated_at = CASE WHEN status <> $1 THEN NOW() ELSE updated_at END
        WHERE channel_id=$2`
	return s.execUpdate(ctx, query, string(status), channelID)
}

func (s *postgresStore) UpdateChannelName(ctx context.Context, channelID, name string) error {
	const query = `
        UPDATE requests SET channel_name=$1,
            updated_at = CASE WHEN channel_name <> $1 THEN NOW() ELSE updated_at END
        WHERE channel_id=$2`
	return s.execUpdate(ctx, query, name, channelID)
}

func (s *postgresStore) UpdateCheckedState(ctx context.Context, channelID string, state domain.CheckedState) error {
	const query = `
        UPDATE requests SET checked=$1,
            updated_at = CASE WHEN checked <> $1 THEN NOW() ELSE updated_at END
        WHERE channel_id=$2`
	return s.execUpdate(ctx, query, int(state), channelID)
}

func (s *postgresStore) execUpdate(ctx context.Context, query string, value any, channelID string) error {
	cmd, err := s.pool.Exec(ctx, query, value, channelID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotATicket
	}
	return nil
}

func (s *postgresStore) ArchiveAndDelete(ctx context.Context, channelID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const archive = `
            INSERT INTO archive (` + pgTicketColumns + `, archived_at)
            SELECT ` + pgTicketColumns + `, NOW() FROM requests WHERE channel_id=$1`
		cmd, err := tx.Exec(ctx, archive, channelID)
		if err != nil {
			return fmt.Errorf("archive ticket: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return domain.ErrNotATicket
		}
		if _, err := tx.Exec(ctx, `DELETE FROM requests WHERE channel_id=$1`, channelID); err != nil {
			return fmt.Errorf("delete ticket: %w", err)
		}
		return nil
	})
}

func (s *postgresStore) GetArchived(ctx context.Context, channelID string) (*domain.ArchivedTicket, error) {
	query := `SELECT ` + pgTicketColumns + `, archived_at FROM archive WHERE channel_id=$1`
	rows, err := s.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	archived, err := scanPgArchived(rows)
	if err != nil {
		return nil, err
	}
	if len(archived) == 0 {
		return nil, domain.ErrNotATicket
	}
	return &archived[0], nil
}

func (s *postgresStore) ListArchived(ctx context.Context, guildID string, limit int) ([]domain.ArchivedTicket, error) {
	query := `SELECT ` + pgTicketColumns + `, archived_at FROM archive
        WHERE ($1 = '' OR guild_id=$1) ORDER BY archived_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, guildID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgArchived(rows)
}

func (s *postgresStore) ListOpen(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + pgTicketColumns + ` FROM requests WHERE status=$1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, domain.TicketStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(
			&t.ChannelID,
			&t.ChannelName,
			&t.GuildID,
			&t.UserID,
			&t.Type,
			&t.Status,
			&t.Checked,
			&t.SequenceNumber,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *postgresStore) ListChallenges(ctx context.Context) ([]domain.Challenge, error) {
	const query = `SELECT id, title, author, category, blooded FROM challenges ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		if err := rows.Scan(&c.ID, &c.Title, &c.Author, &c.Category, &c.Blooded); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *postgresStore) RecordAudit(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	const query = `
        INSERT INTO audit_log (id, channel_id, guild_id, actor_id, action, detail)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING created_at`
	return s.pool.QueryRow(ctx, query,
		entry.ID,
		entry.ChannelID,
		entry.GuildID,
		entry.ActorID,
		entry.Action,
		detail,
	).Scan(&entry.CreatedAt)
}

func (s *postgresStore) ListAudit(ctx context.Context, channelID string) ([]domain.AuditEntry, error) {
	const query = `
        SELECT id, channel_id, guild_id, actor_id, action, detail, created_at
        FROM audit_log WHERE channel_id=$1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		var detail []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.ChannelID,
			&entry.GuildID,
			&entry.ActorID,
			&entry.Action,
			&detail,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &entry.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func scanPgArchived(rows pgx.Rows) ([]domain.ArchivedTicket, error) {
	var result []domain.ArchivedTicket
	for rows.Next() {
		var a domain.ArchivedTicket
		if err := rows.Scan(
			&a.ChannelID,
			&a.ChannelName,
			&a.GuildID,
			&a.UserID,
			&a.Type,
			&a.Status,
			&a.Checked,
			&a.SequenceNumber,
			&a.CreatedAt,
			&a.UpdatedAt,
			&a.ArchivedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

var _ Store = (*postgresStore)(nil)
