// Package discord implements transport.Transport on the Discord REST and
// gateway APIs via discordgo.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// PromptPrefix prefixes the custom ID of every selection prompt.
const PromptPrefix = "ticketing:prompt:"

const historyPage = 100

// Discord JSON error codes.
const (
	codeUnknownChannel = 10003
	codeUnknownMember  = 10007
	codeUnknownMessage = 10008
	codeUnknownRole    = 10011
	codeUnknownUser    = 10013
	codeCannotDM       = 50007
)

// Transport wraps a discordgo session.
type Transport struct {
	session *discordgo.Session
	logger  *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan string
}

// New creates a bot session. The gateway package opens the connection.
func New(token string, logger *zap.Logger) (*Transport, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	t := &Transport{
		session: session,
		logger:  logger,
		waiters: make(map[string]chan string),
	}
	session.AddHandler(t.onInteraction)
	return t, nil
}

// Session exposes the underlying session for the interaction gateway.
func (t *Transport) Session() *discordgo.Session {
	return t.session
}

// BotMember fetches the bot's own user as a member handle.
func (t *Transport) BotMember(ctx context.Context) (domain.Member, error) {
	u, err := t.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return domain.Member{}, mapErr(err)
	}
	return memberFromUser(u, ""), nil
}

func (t *Transport) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()
	if !strings.HasPrefix(data.CustomID, PromptPrefix) || len(data.Values) == 0 {
		return
	}

	t.mu.Lock()
	ch, ok := t.waiters[data.CustomID]
	t.mu.Unlock()

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		t.logger.Warn("acknowledge prompt", zap.Error(err))
	}
	if !ok {
		return
	}
	select {
	case ch <- data.Values[0]:
	default:
	}
}

func mapErr(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Message == nil {
		return err
	}
	switch rest.Message.Code {
	case codeUnknownChannel, codeUnknownMessage:
		return fmt.Errorf("%w: %s", transport.ErrNotFound, rest.Message.Message)
	case codeUnknownRole, codeUnknownUser, codeUnknownMember:
		return fmt.Errorf("%w: %s", transport.ErrUnknownOverwriteTarget, rest.Message.Message)
	case codeCannotDM:
		return fmt.Errorf("%w: %s", transport.ErrDirectMessagesClosed, rest.Message.Message)
	}
	return err
}

func (t *Transport) FindCategory(ctx context.Context, guildID, name string) (*transport.Category, error) {
	channels, err := t.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	for _, c := range channels {
		if c.Type == discordgo.ChannelTypeGuildCategory && c.Name == name {
			return categoryFrom(c, channels), nil
		}
	}
	return nil, transport.ErrNotFound
}

func (t *Transport) EnsureCategory(ctx context.Context, guildID, name string) (*transport.Category, error) {
	cat, err := t.FindCategory(ctx, guildID, name)
	if !errors.Is(err, transport.ErrNotFound) {
		return cat, err
	}
	c, err := t.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return &transport.Category{ID: c.ID, Name: c.Name, GuildID: guildID}, nil
}

func categoryFrom(c *discordgo.Channel, all []*discordgo.Channel) *transport.Category {
	n := 0
	for _, ch := range all {
		if ch.ParentID == c.ID {
			n++
		}
	}
	return &transport.Category{ID: c.ID, Name: c.Name, GuildID: c.GuildID, ChannelCount: n}
}

func (t *Transport) FindTextChannel(ctx context.Context, guildID, categoryID, name string) (*transport.Channel, error) {
	channels, err := t.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	for _, c := range channels {
		if c.Type == discordgo.ChannelTypeGuildText && c.ParentID == categoryID && c.Name == name {
			return channelFrom(c), nil
		}
	}
	return nil, transport.ErrNotFound
}

func (t *Transport) Channel(ctx context.Context, channelID string) (*transport.Channel, error) {
	c, err := t.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return channelFrom(c), nil
}

func channelFrom(c *discordgo.Channel) *transport.Channel {
	return &transport.Channel{
		ID:         c.ID,
		Name:       c.Name,
		GuildID:    c.GuildID,
		CategoryID: c.ParentID,
		Topic:      c.Topic,
	}
}

func (t *Transport) CreateTextChannel(ctx context.Context, guildID string, spec transport.ChannelSpec) (*transport.Channel, error) {
	overwrites := make([]*discordgo.PermissionOverwrite, 0, len(spec.Overwrites))
	for _, ow := range spec.Overwrites {
		overwrites = append(overwrites, toOverwrite(ow))
	}
	c, err := t.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             spec.CategoryID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return channelFrom(c), nil
}

func (t *Transport) EditChannel(ctx context.Context, channelID string, edit transport.ChannelEdit) error {
	data := &discordgo.ChannelEdit{}
	if edit.Name != nil {
		data.Name = *edit.Name
	}
	if edit.CategoryID != nil {
		data.ParentID = *edit.CategoryID
	}
	if edit.Topic != nil {
		data.Topic = *edit.Topic
	}
	_, err := t.session.ChannelEdit(channelID, data, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (t *Transport) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := t.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return mapErr(err)
}

func toOverwrite(ow transport.Overwrite) *discordgo.PermissionOverwrite {
	kind := discordgo.PermissionOverwriteTypeRole
	if ow.Kind == transport.OverwriteMember {
		kind = discordgo.PermissionOverwriteTypeMember
	}
	return &discordgo.PermissionOverwrite{
		ID:    ow.TargetID,
		Type:  kind,
		Allow: permBits(ow.Allow),
		Deny:  permBits(ow.Deny),
	}
}

func permBits(p transport.Permission) int64 {
	var bits int64
	if p&transport.PermView != 0 {
		bits |= discordgo.PermissionViewChannel
	}
	if p&transport.PermSend != 0 {
		bits |= discordgo.PermissionSendMessages
	}
	return bits
}

func (t *Transport) SetOverwrite(ctx context.Context, channelID string, ow transport.Overwrite) error {
	o := toOverwrite(ow)
	err := t.session.ChannelPermissionSet(channelID, o.ID, o.Type, o.Allow, o.Deny, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (t *Transport) DeleteOverwrite(ctx context.Context, channelID, targetID string) error {
	err := mapErr(t.session.ChannelPermissionDelete(channelID, targetID, discordgo.WithContext(ctx)))
	if errors.Is(err, transport.ErrUnknownOverwriteTarget) {
		return nil
	}
	return err
}

func (t *Transport) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	c, err := t.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	var ids []string
	for _, ow := range c.PermissionOverwrites {
		if ow.Type == discordgo.PermissionOverwriteTypeMember && ow.Allow&discordgo.PermissionViewChannel != 0 {
			ids = append(ids, ow.ID)
		}
	}
	return ids, nil
}

func toMessageSend(msg transport.OutgoingMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: msg.Content}
	for _, e := range msg.Embeds {
		send.Embeds = append(send.Embeds, toEmbed(e))
	}
	if len(msg.Buttons) > 0 {
		row := discordgo.ActionsRow{}
		for _, b := range msg.Buttons {
			label := b.Label
			if b.Emoji != "" {
				label = b.Emoji + " " + label
			}
			row.Components = append(row.Components, discordgo.Button{
				Label:    label,
				Style:    buttonStyle(b.Style),
				CustomID: b.CustomID,
			})
		}
		send.Components = []discordgo.MessageComponent{row}
	}
	for _, f := range msg.Files {
		send.Files = append(send.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	return send
}

func buttonStyle(s transport.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case transport.ButtonSecondary:
		return discordgo.SecondaryButton
	case transport.ButtonSuccess:
		return discordgo.SuccessButton
	case transport.ButtonDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

func toEmbed(e transport.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

func fromMessage(m *discordgo.Message) transport.Message {
	out := transport.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Pinned:    m.Pinned,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		nick := ""
		if m.Member != nil {
			nick = m.Member.Nick
		}
		out.Author = memberFromUser(m.Author, nick)
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, transport.Attachment{Name: a.Filename, URL: a.URL})
	}
	for _, e := range m.Embeds {
		emb := transport.Embed{Title: e.Title, Description: e.Description, Color: e.Color}
		for _, f := range e.Fields {
			emb.Fields = append(emb.Fields, transport.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out.Embeds = append(out.Embeds, emb)
	}
	return out
}

func (t *Transport) SendMessage(ctx context.Context, channelID string, msg transport.OutgoingMessage) (*transport.Message, error) {
	m, err := t.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	out := fromMessage(m)
	return &out, nil
}

func (t *Transport) PinMessage(ctx context.Context, channelID, messageID string) error {
	return mapErr(t.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)))
}

func (t *Transport) PurgeRecent(ctx context.Context, channelID string, n int) error {
	if n <= 0 {
		return nil
	}
	msgs, err := t.session.ChannelMessages(channelID, n, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	for _, m := range msgs {
		if err := t.session.ChannelMessageDelete(channelID, m.ID, discordgo.WithContext(ctx)); err != nil {
			if err := mapErr(err); !errors.Is(err, transport.ErrNotFound) {
				return err
			}
		}
	}
	return nil
}

func (t *Transport) SendDirect(ctx context.Context, userID string, msg transport.OutgoingMessage) (*transport.Message, error) {
	dm, err := t.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return t.SendMessage(ctx, dm.ID, msg)
}

func (t *Transport) History(ctx context.Context, channelID string, limit int) ([]transport.Message, error) {
	var (
		out    []transport.Message
		before string
	)
	for len(out) < limit {
		page := min(historyPage, limit-len(out))
		msgs, err := t.session.ChannelMessages(channelID, page, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapErr(err)
		}
		for _, m := range msgs {
			out = append(out, fromMessage(m))
		}
		if len(msgs) < page {
			break
		}
		before = msgs[len(msgs)-1].ID
	}
	return out, nil
}

func (t *Transport) Prompt(ctx context.Context, channelID string, prompt transport.SelectPrompt) (string, error) {
	customID := PromptPrefix + uuid.NewString()
	options := make([]discordgo.SelectMenuOption, 0, len(prompt.Options))
	for _, o := range prompt.Options {
		options = append(options, discordgo.SelectMenuOption{Label: o.Label, Value: o.Value, Description: o.Description})
	}
	minValues := 1

	answer := make(chan string, 1)
	t.mu.Lock()
	t.waiters[customID] = answer
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.waiters, customID)
		t.mu.Unlock()
	}()

	msg, err := t.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: prompt.Content,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    customID,
					Placeholder: prompt.Placeholder,
					MinValues:   &minValues,
					MaxValues:   1,
					Options:     options,
				},
			}},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	// The prompt message goes away whether or not it was answered.
	defer func() {
		if err := t.session.ChannelMessageDelete(channelID, msg.ID); err != nil {
			t.logger.Debug("delete prompt message", zap.Error(err))
		}
	}()

	timer := time.NewTimer(prompt.Timeout)
	defer timer.Stop()
	select {
	case v := <-answer:
		return v, nil
	case <-timer.C:
		return "", transport.ErrPromptTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Transport) ResolveRole(ctx context.Context, guildID, name string) (string, error) {
	roles, err := t.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	for _, r := range roles {
		if r.Name == name {
			return r.ID, nil
		}
	}
	return "", transport.ErrNotFound
}

func (t *Transport) Member(ctx context.Context, guildID, userID string) (*domain.Member, error) {
	m, err := t.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		err = mapErr(err)
		if errors.Is(err, transport.ErrUnknownOverwriteTarget) {
			return nil, transport.ErrNotFound
		}
		return nil, err
	}
	out := FromMember(m)
	return &out, nil
}

func (t *Transport) MemberByName(ctx context.Context, guildID, name string) (*domain.Member, error) {
	found, err := t.session.GuildMembersSearch(guildID, name, 10, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	for _, m := range found {
		if m.User == nil {
			continue
		}
		if strings.EqualFold(m.User.Username, name) || m.Nick == name || m.User.GlobalName == name {
			out := FromMember(m)
			return &out, nil
		}
	}
	return nil, transport.ErrNotFound
}

// FromMember converts a guild member.
func FromMember(m *discordgo.Member) domain.Member {
	out := memberFromUser(m.User, m.Nick)
	out.RoleIDs = append([]string(nil), m.Roles...)
	return out
}

func memberFromUser(u *discordgo.User, nick string) domain.Member {
	display := nick
	if display == "" {
		display = u.GlobalName
	}
	return domain.Member{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: display,
		Bot:         u.Bot,
	}
}

var _ transport.Transport = (*Transport)(nil)
