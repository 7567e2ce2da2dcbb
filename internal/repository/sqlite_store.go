package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

const sqliteTicketColumns = `channel_id, channel_name, guild_id, user_id, ticket_type, status, checked,
	sequence_number, created_at, updated_at`

type sqliteStore struct {
	ticketFields
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore builds the database/sql backed store over a modernc
// SQLite handle opened by persistence.OpenSQLite.
func NewSQLiteStore(db *sql.DB) Store {
	s := &sqliteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	s.ticketFields = ticketFields{get: s.Get}
	return s
}

func (s *sqliteStore) Close() error {
	// The handle is owned by persistence.SQLite.
	return nil
}

func (s *sqliteStore) CountByTypeAndUser(ctx context.Context, ticketType domain.TicketType, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(1) FROM requests WHERE ticket_type = ? AND user_id = ?`,
		string(ticketType), userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) NextSequenceNumber(ctx context.Context, ticketType domain.TicketType) (int, error) {
	// WHERE true disambiguates ON CONFLICT from a join constraint.
	const query = `
INSERT INTO ticket_counters (ticket_type, last_value)
SELECT ?, COALESCE(MAX(sequence_number), 0) + 1 FROM (
	SELECT sequence_number FROM requests WHERE ticket_type = ?
	UNION ALL
	SELECT sequence_number FROM archive WHERE ticket_type = ?
) WHERE true
ON CONFLICT (ticket_type) DO UPDATE SET last_value = ticket_counters.last_value + 1
RETURNING last_value
`
	t := string(ticketType)
	var n int
	if err := s.db.QueryRowContext(ctx, query, t, t, t).Scan(&n); err != nil {
		return 0, fmt.Errorf("allocate sequence number: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) Insert(ctx context.Context, ticket *domain.Ticket) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO requests (
	channel_id, channel_name, guild_id, user_id, ticket_type, status, checked,
	sequence_number, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (channel_id) DO NOTHING
`,
		ticket.ChannelID,
		ticket.ChannelName,
		ticket.GuildID,
		ticket.UserID,
		string(ticket.Type),
		string(ticket.Status),
		int(ticket.Checked),
		ticket.SequenceNumber,
		now.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	if n == 0 {
		return domain.ErrDuplicateChannel
	}
	ticket.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	ticket.UpdatedAt = ticket.CreatedAt
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, channelID string) (*domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTicketColumns+` FROM requests WHERE channel_id = ?`, channelID)
	t, err := scanSQLiteTicket(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotATicket
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, channelID string, status domain.TicketStatus) error {
	return s.execUpdate(ctx, `
UPDATE requests SET
	updated_at = CASE WHEN status <> ? THEN ? ELSE updated_at END,
	status = ?
WHERE channel_id = ?
`, string(status), string(status), channelID)
}

func (s *sqliteStore) UpdateChannelName(ctx context.Context, channelID, name string) error {
	return s.execUpdate(ctx, `
UPDATE requests SET
	updated_at = CASE WHEN channel_name <> ? THEN ? ELSE updated_at END,
	channel_name = ?
WHERE channel_id = ?
`, name, name, channelID)
}

func (s *sqliteStore) UpdateCheckedState(ctx context.Context, channelID string, state domain.CheckedState) error {
	return s.execUpdate(ctx, `
UPDATE requests SET
	updated_at = CASE WHEN checked <> ? THEN ? ELSE updated_at END,
	checked = ?
WHERE channel_id = ?
`, int(state), int(state), channelID)
}

// execUpdate binds (compare, now, value, channelID) in that order.
func (s *sqliteStore) execUpdate(ctx context.Context, query string, compare, value any, channelID string) error {
	res, err := s.db.ExecContext(ctx, query, compare, s.now().UnixMilli(), value, channelID)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if n == 0 {
		return domain.ErrNotATicket
	}
	return nil
}

func (s *sqliteStore) ArchiveAndDelete(ctx context.Context, channelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO archive (`+sqliteTicketColumns+`, archived_at)
SELECT `+sqliteTicketColumns+`, ? FROM requests WHERE channel_id = ?
`, s.now().UnixMilli(), channelID)
	if err != nil {
		return fmt.Errorf("archive ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive ticket: %w", err)
	}
	if n == 0 {
		return domain.ErrNotATicket
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetArchived(ctx context.Context, channelID string) (*domain.ArchivedTicket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTicketColumns+`, archived_at FROM archive WHERE channel_id = ?`, channelID)
	a, err := scanSQLiteArchived(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotATicket
	}
	if err != nil {
		return nil, fmt.Errorf("get archived ticket: %w", err)
	}
	return a, nil
}

func (s *sqliteStore) ListArchived(ctx context.Context, guildID string, limit int) ([]domain.ArchivedTicket, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sqliteTicketColumns+`, archived_at FROM archive
WHERE (? = '' OR guild_id = ?)
ORDER BY archived_at DESC
LIMIT ?
`, guildID, guildID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	defer rows.Close()

	var result []domain.ArchivedTicket
	for rows.Next() {
		a, err := scanSQLiteArchived(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive: %w", err)
	}
	return result, nil
}

func (s *sqliteStore) ListOpen(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTicketColumns+` FROM requests WHERE status = ? ORDER BY created_at ASC`,
		string(domain.TicketStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("list open tickets: %w", err)
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		t, err := scanSQLiteTicket(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return result, nil
}

func (s *sqliteStore) ListChallenges(ctx context.Context) ([]domain.Challenge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, author, category, blooded FROM challenges ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var result []domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		if err := rows.Scan(&c.ID, &c.Title, &c.Author, &c.Category, &c.Blooded); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate challenges: %w", err)
	}
	return result, nil
}

func (s *sqliteStore) RecordAudit(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO audit_log (id, channel_id, guild_id, actor_id, action, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		entry.ID,
		entry.ChannelID,
		entry.GuildID,
		entry.ActorID,
		string(entry.Action),
		string(detail),
		now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	entry.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	return nil
}

func (s *sqliteStore) ListAudit(ctx context.Context, channelID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, channel_id, guild_id, actor_id, action, detail, created_at
FROM audit_log WHERE channel_id = ?
ORDER BY created_at ASC, rowid ASC
`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var result []domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		var action, detail string
		var createdAt int64
		if err := rows.Scan(
			&entry.ID,
			&entry.ChannelID,
			&entry.GuildID,
			&entry.ActorID,
			&action,
			&detail,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entry.Action = domain.AuditAction(action)
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		if detail != "" && detail != "null" {
			if err := json.Unmarshal([]byte(detail), &entry.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return result, nil
}

func scanSQLiteTicket(scan func(dest ...any) error) (*domain.Ticket, error) {
	var t domain.Ticket
	var ticketType, status string
	var checked int
	var createdAt, updatedAt int64
	if err := scan(
		&t.ChannelID,
		&t.ChannelName,
		&t.GuildID,
		&t.UserID,
		&ticketType,
		&status,
		&checked,
		&t.SequenceNumber,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	t.Type = domain.TicketType(ticketType)
	t.Status = domain.TicketStatus(status)
	t.Checked = domain.CheckedState(checked)
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &t, nil
}

func scanSQLiteArchived(scan func(dest ...any) error) (*domain.ArchivedTicket, error) {
	var archivedAt int64
	var a domain.ArchivedTicket
	t, err := scanSQLiteTicket(func(dest ...any) error {
		return scan(append(dest, &archivedAt)...)
	})
	if err != nil {
		return nil, err
	}
	a.Ticket = *t
	a.ArchivedAt = time.UnixMilli(archivedAt).UTC()
	return &a, nil
}

var _ Store = (*sqliteStore)(nil)
