package domain

import "time"

// AuditAction names a lifecycle action recorded in the audit log.
type AuditAction string

const (
	AuditCreated       AuditAction = "CREATED"
	AuditClosed        AuditAction = "CLOSED"
	AuditReopened      AuditAction = "RE-OPENED"
	AuditDeleted       AuditAction = "DELETED"
	AuditMemberAdded   AuditAction = "MEMBER_ADDED"
	AuditMemberRemoved AuditAction = "MEMBER_REMOVED"
	AuditAutoclose     AuditAction = "AUTOCLOSE"
)

// AuditEntry is an immutable audit trail row.
type AuditEntry struct {
	ID        string
	ChannelID string
	GuildID   string
	ActorID   string
	Action    AuditAction
	Detail    map[string]any
	CreatedAt time.Time
}
