// Package memory is an in-process Transport used by tests and local runs.
// It models a single platform with guilds, categories, channels and
// members, and lets callers inject failures.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// maxOptionLabel mirrors the platform's select menu label limit.
const maxOptionLabel = 25

// PromptFunc answers a selection prompt. attempt starts at 1 for each
// channel. Returning transport.ErrPromptTimeout simulates no answer.
type PromptFunc func(channelID string, prompt transport.SelectPrompt, attempt int) (string, error)

type category struct {
	id, name, guildID string
}

type channel struct {
	transport.Channel
	overwrites map[string]transport.Overwrite
	messages   []*transport.Message
}

type guild struct {
	roles   map[string]string // name -> id
	members map[string]domain.Member
}

// Transport is safe for concurrent use.
type Transport struct {
	mu         sync.Mutex
	nextID     int
	now        func() time.Time
	bot        domain.Member
	guilds     map[string]*guild
	categories map[string]*category
	channels   map[string]*channel
	directs    map[string][]*transport.Message
	prompts    map[string]int

	// Errors forces the named operation (method name) to fail.
	Errors map[string]error
	// ClosedDMs lists users that refuse direct messages.
	ClosedDMs map[string]bool
	// UnknownTargets lists overwrite targets the platform rejects.
	UnknownTargets map[string]bool
	// OnPrompt answers prompts; nil picks the first option.
	OnPrompt PromptFunc
}

// New returns an empty platform whose messages are authored by bot.
func New(bot domain.Member) *Transport {
	return &Transport{
		now:            time.Now,
		bot:            bot,
		guilds:         make(map[string]*guild),
		categories:     make(map[string]*category),
		channels:       make(map[string]*channel),
		directs:        make(map[string][]*transport.Message),
		prompts:        make(map[string]int),
		Errors:         make(map[string]error),
		ClosedDMs:      make(map[string]bool),
		UnknownTargets: make(map[string]bool),
	}
}

func (t *Transport) id() string {
	t.nextID++
	return strconv.Itoa(1000 + t.nextID)
}

func (t *Transport) fail(op string) error {
	if err, ok := t.Errors[op]; ok {
		return err
	}
	return nil
}

func (t *Transport) guild(id string) *guild {
	g, ok := t.guilds[id]
	if !ok {
		g = &guild{roles: make(map[string]string), members: make(map[string]domain.Member)}
		t.guilds[id] = g
	}
	return g
}

// AddRole registers a role and returns its ID.
func (t *Transport) AddRole(guildID, name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.id()
	t.guild(guildID).roles[name] = id
	return id
}

// AddMember registers a guild member.
func (t *Transport) AddMember(guildID string, m domain.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.guild(guildID).members[m.ID] = m
}

// RemoveMember drops a member from the guild.
func (t *Transport) RemoveMember(guildID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.guild(guildID).members, userID)
}

// AddCategory registers a category and returns its ID.
func (t *Transport) AddCategory(guildID, name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addCategory(guildID, name).id
}

func (t *Transport) addCategory(guildID, name string) *category {
	c := &category{id: t.id(), name: name, guildID: guildID}
	t.categories[c.id] = c
	return c
}

// AddTextChannel registers a plain channel and returns its ID.
func (t *Transport) AddTextChannel(guildID, categoryID, name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &channel{
		Channel:    transport.Channel{ID: t.id(), Name: name, GuildID: guildID, CategoryID: categoryID},
		overwrites: make(map[string]transport.Overwrite),
	}
	t.channels[c.ID] = c
	return c.ID
}

// Post appends a message authored by author, as a user typing would.
func (t *Transport) Post(channelID string, author domain.Member, content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[channelID]
	if !ok {
		return transport.ErrNotFound
	}
	t.appendLocked(c, author, transport.OutgoingMessage{Content: content})
	return nil
}

// SetClock overrides the timestamp source for new messages.
func (t *Transport) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *Transport) appendLocked(c *channel, author domain.Member, msg transport.OutgoingMessage) *transport.Message {
	m := &transport.Message{
		ID:        t.id(),
		ChannelID: c.ID,
		Author:    author,
		Content:   msg.Content,
		Embeds:    append([]transport.Embed(nil), msg.Embeds...),
		CreatedAt: t.now(),
	}
	for _, f := range msg.Files {
		m.Attachments = append(m.Attachments, transport.Attachment{
			Name: f.Name,
			URL:  fmt.Sprintf("memory://attachments/%s/%s/%s", c.ID, m.ID, f.Name),
		})
	}
	c.messages = append(c.messages, m)
	return m
}

func (t *Transport) FindCategory(ctx context.Context, guildID, name string) (*transport.Category, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("FindCategory"); err != nil {
		return nil, err
	}
	if c := t.findCategoryLocked(guildID, name); c != nil {
		return t.categoryLocked(c), nil
	}
	return nil, transport.ErrNotFound
}

func (t *Transport) EnsureCategory(ctx context.Context, guildID, name string) (*transport.Category, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("EnsureCategory"); err != nil {
		return nil, err
	}
	c := t.findCategoryLocked(guildID, name)
	if c == nil {
		c = t.addCategory(guildID, name)
	}
	return t.categoryLocked(c), nil
}

func (t *Transport) findCategoryLocked(guildID, name string) *category {
	ids := make([]string, 0, len(t.categories))
	for id := range t.categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := t.categories[id]
		if c.guildID == guildID && c.name == name {
			return c
		}
	}
	return nil
}

func (t *Transport) categoryLocked(c *category) *transport.Category {
	n := 0
	for _, ch := range t.channels {
		if ch.CategoryID == c.id {
			n++
		}
	}
	return &transport.Category{ID: c.id, Name: c.name, GuildID: c.guildID, ChannelCount: n}
}

func (t *Transport) FindTextChannel(ctx context.Context, guildID, categoryID, name string) (*transport.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.channels {
		if c.GuildID == guildID && c.CategoryID == categoryID && c.Name == name {
			ch := c.Channel
			return &ch, nil
		}
	}
	return nil, transport.ErrNotFound
}

func (t *Transport) Channel(ctx context.Context, channelID string) (*transport.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[channelID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	ch := c.Channel
	return &ch, nil
}

func (t *Transport) CreateTextChannel(ctx context.Context, guildID string, spec transport.ChannelSpec) (*transport.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("CreateTextChannel"); err != nil {
		return nil, err
	}
	if _, ok := t.categories[spec.CategoryID]; spec.CategoryID != "" && !ok {
		return nil, transport.ErrNotFound
	}
	c := &channel{
		Channel: transport.Channel{
			ID:         t.id(),
			Name:       spec.Name,
			GuildID:    guildID,
			CategoryID: spec.CategoryID,
			Topic:      spec.Topic,
		},
		overwrites: make(map[string]transport.Overwrite),
	}
	for _, ow := range spec.Overwrites {
		if t.UnknownTargets[ow.TargetID] {
			continue
		}
		c.overwrites[ow.TargetID] = ow
	}
	t.channels[c.ID] = c
	ch := c.Channel
	return &ch, nil
}

func (t *Transport) EditChannel(ctx context.Context, channelID string, edit transport.ChannelEdit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("EditChannel"); err != nil {
		return err
	}
	c, ok := t.channels[channelID]
	if !ok {
		return transport.ErrNotFound
	}
	if edit.Name != nil {
		c.Name = *edit.Name
	}
	if edit.CategoryID != nil {
		if _, ok := t.categories[*edit.CategoryID]; !ok {
			return transport.ErrNotFound
		}
		c.CategoryID = *edit.CategoryID
	}
	if edit.Topic != nil {
		c.Topic = *edit.Topic
	}
	return nil
}

func (t *Transport) DeleteChannel(ctx context.Context, channelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("DeleteChannel"); err != nil {
		return err
	}
	if _, ok := t.channels[channelID]; !ok {
		return transport.ErrNotFound
	}
	delete(t.channels, channelID)
	return nil
}

func (t *Transport) SetOverwrite(ctx context.Context, channelID string, ow transport.Overwrite) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("SetOverwrite"); err != nil {
		return err
	}
	c, ok := t.channels[channelID]
	if !ok {
		return transport.ErrNotFound
	}
	if t.UnknownTargets[ow.TargetID] {
		return transport.ErrUnknownOverwriteTarget
	}
	c.overwrites[ow.TargetID] = ow
	return nil
}

func (t *Transport) DeleteOverwrite(ctx context.Context, channelID, targetID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[channelID]
	if !ok {
		return transport.ErrNotFound
	}
	delete(c.overwrites, targetID)
	return nil
}

func (t *Transport) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[channelID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	var ids []string
	for id, ow := range c.overwrites {
		if ow.Kind == transport.OverwriteMember && ow.Allow&transport.PermView != 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *Transport) SendMessage(ctx context.Context, channelID string, msg transport.OutgoingMessage) (*transport.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("SendMessage"); err != nil {
		return nil, err
	}
	c, ok := t.channels[channelID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	m := *t.appendLocked(c, t.bot, msg)
	return &m, nil
}

// PinMessage pins the message and, like the real platform, posts a system
// notice about it.
func (t *Transport) PinMessage(ctx context.Context, channelID, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[channelID]
	if !ok {
		return transport.ErrNotFound
	}
	for _, m := range c.messages {
		if m.ID == messageID {
			m.Pinned = true
			t.appendLocked(c, t.bot, transport.OutgoingMessage{Content: t.bot.Label() + " pinned a message to this channel."})
			return nil
		}
	}
	return transport.ErrNotFound
}

func (t *Transport) PurgeRecent(ctx context.Context, channelID string, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[channelID]
	if !ok {
		return transport.ErrNotFound
	}
	if n > len(c.messages) {
		n = len(c.messages)
	}
	c.messages = c.messages[:len(c.messages)-n]
	return nil
}

func (t *Transport) SendDirect(ctx context.Context, userID string, msg transport.OutgoingMessage) (*transport.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("SendDirect"); err != nil {
		return nil, err
	}
	if t.ClosedDMs[userID] {
		return nil, transport.ErrDirectMessagesClosed
	}
	dm := &channel{Channel: transport.Channel{ID: "dm-" + userID}}
	m := t.appendLocked(dm, t.bot, msg)
	t.directs[userID] = append(t.directs[userID], m)
	cp := *m
	return &cp, nil
}

func (t *Transport) History(ctx context.Context, channelID string, limit int) ([]transport.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail("History"); err != nil {
		return nil, err
	}
	c, ok := t.channels[channelID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	out := make([]transport.Message, 0, len(c.messages))
	for i := len(c.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *c.messages[i])
	}
	return out, nil
}

func (t *Transport) Prompt(ctx context.Context, channelID string, prompt transport.SelectPrompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, opt := range prompt.Options {
		if !utf8.ValidString(opt.Label) || utf8.RuneCountInString(opt.Label) > maxOptionLabel {
			return "", fmt.Errorf("invalid option label %q", opt.Label)
		}
	}
	t.mu.Lock()
	c, ok := t.channels[channelID]
	if !ok {
		t.mu.Unlock()
		return "", transport.ErrNotFound
	}
	t.appendLocked(c, t.bot, transport.OutgoingMessage{Content: prompt.Content})
	t.prompts[channelID]++
	attempt := t.prompts[channelID]
	answer := t.OnPrompt
	t.mu.Unlock()

	if answer == nil {
		if len(prompt.Options) == 0 {
			return "", transport.ErrPromptTimeout
		}
		return prompt.Options[0].Value, nil
	}
	return answer(channelID, prompt, attempt)
}

func (t *Transport) ResolveRole(ctx context.Context, guildID, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.guild(guildID).roles[name]; ok {
		return id, nil
	}
	return "", transport.ErrNotFound
}

func (t *Transport) Member(ctx context.Context, guildID, userID string) (*domain.Member, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.guild(guildID).members[userID]
	if !ok {
		return nil, transport.ErrNotFound
	}
	return &m, nil
}

func (t *Transport) MemberByName(ctx context.Context, guildID, name string) (*domain.Member, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.guild(guildID).members {
		if strings.EqualFold(m.Username, name) || m.DisplayName == name {
			cp := m
			return &cp, nil
		}
	}
	return nil, transport.ErrNotFound
}

// Inspection helpers for tests.

// Messages returns the channel's messages, oldest first.
func (t *Transport) Messages(channelID string) []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[channelID]
	if !ok {
		return nil
	}
	out := make([]transport.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

// Directs returns the private messages delivered to userID.
func (t *Transport) Directs(userID string) []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.Message, len(t.directs[userID]))
	for i, m := range t.directs[userID] {
		out[i] = *m
	}
	return out
}

// Overwrites returns the explicit overwrites on a channel keyed by target.
func (t *Transport) Overwrites(channelID string) map[string]transport.Overwrite {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.channels[channelID]
	if !ok {
		return nil
	}
	out := make(map[string]transport.Overwrite, len(c.overwrites))
	for k, v := range c.overwrites {
		out[k] = v
	}
	return out
}

// ChannelCount returns the number of live channels.
func (t *Transport) ChannelCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.channels)
}

// CategoryName returns the name of a category ID, or "".
func (t *Transport) CategoryName(categoryID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.categories[categoryID]; ok {
		return c.name
	}
	return ""
}

// PromptCount returns how many prompts were issued in a channel.
func (t *Transport) PromptCount(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prompts[channelID]
}

var _ transport.Transport = (*Transport)(nil)
