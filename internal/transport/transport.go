// Package transport describes the chat platform operations the ticket
// lifecycle needs. Implementations live in subpackages.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

var (
	// ErrNotFound is returned when a channel, category, role, member or
	// message no longer exists on the platform.
	ErrNotFound = errors.New("transport: not found")
	// ErrUnknownOverwriteTarget is returned when a permission overwrite
	// names a role or member the platform does not know. The channel then
	// keeps inheriting from its category for that target.
	ErrUnknownOverwriteTarget = errors.New("transport: unknown overwrite target")
	// ErrPromptTimeout is returned when a selection prompt expires unanswered.
	ErrPromptTimeout = errors.New("transport: prompt timed out")
	// ErrDirectMessagesClosed is returned when a user does not accept DMs.
	ErrDirectMessagesClosed = errors.New("transport: direct messages closed")
)

// Permission is a bit set of channel permissions.
type Permission uint8

const (
	PermView Permission = 1 << iota
	PermSend
)

// PermViewSend grants read and write access.
const PermViewSend = PermView | PermSend

// OverwriteKind tells whether an overwrite targets a role or a member.
type OverwriteKind int

const (
	OverwriteRole OverwriteKind = iota
	OverwriteMember
)

// Overwrite is a per-target permission override on a channel.
type Overwrite struct {
	TargetID string
	Kind     OverwriteKind
	Allow    Permission
	Deny     Permission
}

// Category is a channel group together with its current size.
type Category struct {
	ID           string
	Name         string
	GuildID      string
	ChannelCount int
}

// Channel is a text channel handle.
type Channel struct {
	ID         string
	Name       string
	GuildID    string
	CategoryID string
	Topic      string
}

// Mention renders the platform mention syntax for the channel.
func (c Channel) Mention() string {
	return "<#" + c.ID + ">"
}

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	Name       string
	CategoryID string
	Topic      string
	Overwrites []Overwrite
}

// ChannelEdit lists changes to apply; nil fields are left untouched.
type ChannelEdit struct {
	Name       *string
	CategoryID *string
	Topic      *string
}

// ButtonStyle selects the visual style of a button.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// Button is an interactive component carrying a routing ID.
type Button struct {
	CustomID string
	Label    string
	Emoji    string
	Style    ButtonStyle
}

// EmbedField is a name/value pair rendered inside an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich message block.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
	Timestamp   time.Time
}

// File is an attachment to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// OutgoingMessage is a message to post.
type OutgoingMessage struct {
	Content string
	Embeds  []Embed
	Buttons []Button
	Files   []File
}

// Attachment is an uploaded file as seen on a posted message.
type Attachment struct {
	Name string
	URL  string
}

// Message is a posted message.
type Message struct {
	ID          string
	ChannelID   string
	Author      domain.Member
	Content     string
	Embeds      []Embed
	Attachments []Attachment
	Pinned      bool
	CreatedAt   time.Time
}

// SelectOption is a single choice in a selection prompt.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// SelectPrompt asks the channel to pick exactly one option.
type SelectPrompt struct {
	Content     string
	Placeholder string
	Options     []SelectOption
	Timeout     time.Duration
}

// Transport is the chat platform surface used by the lifecycle engine.
type Transport interface {
	FindCategory(ctx context.Context, guildID, name string) (*Category, error)
	// EnsureCategory returns the named category, creating it when absent.
	EnsureCategory(ctx context.Context, guildID, name string) (*Category, error)
	FindTextChannel(ctx context.Context, guildID, categoryID, name string) (*Channel, error)
	Channel(ctx context.Context, channelID string) (*Channel, error)
	CreateTextChannel(ctx context.Context, guildID string, spec ChannelSpec) (*Channel, error)
	EditChannel(ctx context.Context, channelID string, edit ChannelEdit) error
	DeleteChannel(ctx context.Context, channelID string) error

	SetOverwrite(ctx context.Context, channelID string, ow Overwrite) error
	// DeleteOverwrite clears any explicit overwrite for the target so it
	// inherits from the category again. Clearing an absent overwrite is
	// not an error.
	DeleteOverwrite(ctx context.Context, channelID, targetID string) error
	// ChannelMembers lists the member IDs with an explicit member
	// overwrite on the channel.
	ChannelMembers(ctx context.Context, channelID string) ([]string, error)

	SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (*Message, error)
	PinMessage(ctx context.Context, channelID, messageID string) error
	// PurgeRecent deletes the n most recent messages in the channel.
	PurgeRecent(ctx context.Context, channelID string, n int) error
	// SendDirect delivers a private message; ErrDirectMessagesClosed when
	// the user refuses it.
	SendDirect(ctx context.Context, userID string, msg OutgoingMessage) (*Message, error)
	// History returns up to limit messages, newest first.
	History(ctx context.Context, channelID string, limit int) ([]Message, error)
	// Prompt blocks until an option is picked, the prompt times out
	// (ErrPromptTimeout) or ctx is done.
	Prompt(ctx context.Context, channelID string, prompt SelectPrompt) (string, error)

	ResolveRole(ctx context.Context, guildID, name string) (string, error)
	Member(ctx context.Context, guildID, userID string) (*domain.Member, error)
	// MemberByName resolves a username or display name.
	MemberByName(ctx context.Context, guildID, name string) (*domain.Member, error)
}
