package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

func TestCreateOpensPrivateChannel(t *testing.T) {
	f := newFixture(t)
	result := f.open(domain.TicketTypeMisc, alice)

	assert.Equal(t, 1, result.Ticket.SequenceNumber)
	assert.Equal(t, "misc-1-alice", result.Channel.Name)
	assert.Equal(t, "Misc Tickets", f.tr.CategoryName(result.Channel.CategoryID))
	assert.Nil(t, result.Challenge)

	stored := f.ticket(result.Channel.ID)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
	assert.Equal(t, domain.CheckedEnabled, stored.Checked)
	assert.Equal(t, alice.ID, stored.UserID)

	ow := f.tr.Overwrites(result.Channel.ID)
	assert.Equal(t, transport.PermView, ow[guildID].Deny)
	assert.Equal(t, transport.PermViewSend, ow[alice.ID].Allow)
	assert.Equal(t, transport.PermViewSend, ow[f.adminRole].Allow)
	assert.Equal(t, transport.PermViewSend, ow[f.botsRole].Allow)

	msgs := f.tr.Messages(result.Channel.ID)
	require.Len(t, msgs, 1, "pin notice should be purged")
	assert.True(t, msgs[0].Pinned)
	assert.Equal(t, "Welcome <@u1>,\nA new ticket has been opened <@&"+f.pingRole+">\n\n", msgs[0].Content)
	require.Len(t, msgs[0].Embeds, 1)
	assert.Equal(t, "Misc Ticket", msgs[0].Embeds[0].Title)

	assert.Equal(t, []events.EventType{events.EventTicketCreated}, f.eventTypes())
}

func TestCreateSubmitWelcomeSkipsPing(t *testing.T) {
	f := newFixture(t)
	result := f.open(domain.TicketTypeSubmit, alice)

	msgs := f.tr.Messages(result.Channel.ID)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Welcome <@u1>\n\n", msgs[0].Content)
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(f.ctx, CreateInput{Type: "bogus", Guild: f.guild, Actor: f.user(alice)})
	assert.ErrorIs(t, err, domain.ErrInvalidTicketType)

	bot := botMember
	_, err = f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeMisc, Guild: f.guild, Actor: f.admin(), Requester: &bot})
	assert.ErrorIs(t, err, domain.ErrBotRequester)

	assert.Equal(t, 1, f.tr.ChannelCount(), "only the log channel exists")
}

func TestCreateQuotaDeniedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	f.open(domain.TicketTypeSubmit, alice)
	channels := f.tr.ChannelCount()

	_, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeSubmit, Guild: f.guild, Actor: f.user(alice)})
	require.ErrorIs(t, err, domain.ErrMaxUserTickets)
	var quota *domain.QuotaExceededError
	require.ErrorAs(t, err, &quota)
	assert.Equal(t, 1, quota.Current)
	assert.Equal(t, 1, quota.Limit)
	assert.Equal(t, channels, f.tr.ChannelCount())

	// Elevated actors may open past the limit, and the denied attempt did
	// not consume a number.
	requester := alice
	result, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeSubmit, Guild: f.guild, Actor: f.admin(), Requester: &requester})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Ticket.SequenceNumber)
	assert.Equal(t, alice.ID, result.Ticket.UserID)
}

func TestCreateCategoryFull(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.TicketingConfig) { c.CategoryCapacity = 1 }))
	category := f.tr.AddCategory(guildID, "Misc Tickets")
	f.tr.AddTextChannel(guildID, category, "misc-a")
	f.tr.AddTextChannel(guildID, category, "misc-b")

	_, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeMisc, Guild: f.guild, Actor: f.user(alice)})
	assert.ErrorIs(t, err, domain.ErrMaxChannelTickets)
}

func TestCreateRequiresAdminRole(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.TicketingConfig) { c.AdminRole = "Missing" }))

	_, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeMisc, Guild: f.guild, Actor: f.user(alice)})
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func TestCreateRateLimitedPerGuild(t *testing.T) {
	f := newFixture(t, withDeps(func(d *TicketDependencies) {
		d.RateLimiter = NewLocalRateLimiter(1, time.Hour)
	}))
	f.open(domain.TicketTypeMisc, alice)

	_, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeMisc, Guild: f.guild, Actor: f.user(bob)})
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	requester := bob
	_, err = f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeMisc, Guild: f.guild, Actor: f.admin(), Requester: &requester})
	assert.NoError(t, err)
}

func TestCreateSequenceNumbersUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	const n = 10

	var wg sync.WaitGroup
	seqs := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		requester := domain.Member{ID: fmt.Sprintf("c%d", i), Username: fmt.Sprintf("user%d", i)}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeMisc, Guild: f.guild, Actor: f.admin(), Requester: &requester})
			errs[i] = err
			if err == nil {
				seqs[i] = result.Ticket.SequenceNumber
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Ints(seqs)
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq)
	}
}

type failingInsertStore struct {
	repository.Store
	err error
}

func (s failingInsertStore) Insert(ctx context.Context, ticket *domain.Ticket) error {
	return s.err
}

func TestCreateInsertFailureRemovesChannel(t *testing.T) {
	boom := errors.New("disk full")
	f := newFixture(t, withDeps(func(d *TicketDependencies) {
		d.Store = failingInsertStore{Store: d.Store, err: boom}
	}))
	before := f.tr.ChannelCount()

	_, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeMisc, Guild: f.guild, Actor: f.user(alice)})
	require.ErrorIs(t, err, boom)
	// The category is created, the channel is not left behind.
	assert.Equal(t, before, f.tr.ChannelCount())
	assert.Empty(t, f.eventTypes())
}

func TestCreateHelpSelectsChallenge(t *testing.T) {
	f := newFixture(t)
	f.addChallenge(1, "baby-rev", "rev")
	f.addChallenge(2, "web-1", "web")

	result := f.open(domain.TicketTypeHelp, alice)
	require.NotNil(t, result.Challenge)
	assert.Equal(t, "baby-rev", result.Challenge.Title)

	ch, err := f.tr.Channel(f.ctx, result.Channel.ID)
	require.NoError(t, err)
	assert.Equal(t, "this ticket is about rev/baby-rev", ch.Topic)

	msgs := f.tr.Messages(result.Channel.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Which challenge do you need help with?", msgs[0].Content)
	assert.True(t, msgs[1].Pinned)
	assert.Equal(t, "What have you tried so far?", msgs[2].Content)
}

func TestCreateHelpWithoutChallenges(t *testing.T) {
	f := newFixture(t)
	result := f.open(domain.TicketTypeHelp, alice)

	assert.Nil(t, result.Challenge)
	assert.Zero(t, f.tr.PromptCount(result.Channel.ID))
	msgs := f.tr.Messages(result.Channel.ID)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "There are no released challenges", msgs[0].Content)
}

func TestCreateHelpAsksCategoryWhenTooManyChallenges(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 30; i++ {
		category := "crypto"
		if i%2 == 0 {
			category = "pwn"
		}
		f.addChallenge(i, fmt.Sprintf("a-rather-long-challenge-title-%02d", i), category)
	}

	var prompts []transport.SelectPrompt
	f.tr.OnPrompt = func(channelID string, p transport.SelectPrompt, attempt int) (string, error) {
		prompts = append(prompts, p)
		if len(prompts) == 1 {
			return "pwn", nil
		}
		return p.Options[0].Value, nil
	}

	result := f.open(domain.TicketTypeHelp, alice)
	require.Len(t, prompts, 2)
	assert.Equal(t, "Which category is your challenge in?", prompts[0].Content)
	assert.Len(t, prompts[0].Options, 2)
	assert.Len(t, prompts[1].Options, 15)
	for _, opt := range prompts[1].Options {
		assert.LessOrEqual(t, len(opt.Label), 25)
		assert.True(t, strings.HasSuffix(opt.Label, ".."))
	}
	require.NotNil(t, result.Challenge)
	assert.Equal(t, "pwn", result.Challenge.Category)
	assert.Equal(t, 5*time.Second, prompts[0].Timeout)
}

func TestCreateHelpRepromptsAfterTimeout(t *testing.T) {
	f := newFixture(t)
	f.addChallenge(1, "baby-rev", "rev")
	f.tr.OnPrompt = func(channelID string, p transport.SelectPrompt, attempt int) (string, error) {
		if attempt < 3 {
			return "", transport.ErrPromptTimeout
		}
		return p.Options[0].Value, nil
	}

	result := f.open(domain.TicketTypeHelp, alice)
	assert.Equal(t, 3, f.tr.PromptCount(result.Channel.ID))
	require.NotNil(t, result.Challenge)
}

func TestCreateHelpGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.TicketingConfig) { c.PromptMaxAttempts = 2 }))
	f.addChallenge(1, "baby-rev", "rev")
	f.tr.OnPrompt = func(channelID string, p transport.SelectPrompt, attempt int) (string, error) {
		return "", transport.ErrPromptTimeout
	}

	result := f.open(domain.TicketTypeHelp, alice)
	assert.Nil(t, result.Challenge)
	assert.Equal(t, 2, f.tr.PromptCount(result.Channel.ID))

	pinned := false
	for _, m := range f.tr.Messages(result.Channel.ID) {
		pinned = pinned || m.Pinned
	}
	assert.True(t, pinned, "welcome still posted")
}

func TestCloseAbandonsPendingSelection(t *testing.T) {
	f := newFixture(t)
	f.addChallenge(1, "baby-rev", "rev")

	var closeErr error
	f.tr.OnPrompt = func(channelID string, p transport.SelectPrompt, attempt int) (string, error) {
		if attempt == 1 {
			_, closeErr = f.svc.Close(f.ctx, f.action(f.admin(), channelID))
		}
		return "", transport.ErrPromptTimeout
	}

	result, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeHelp, Guild: f.guild, Actor: f.user(alice)})
	require.NoError(t, err)
	require.NoError(t, closeErr)
	assert.Nil(t, result.Challenge)
	assert.Equal(t, 1, f.tr.PromptCount(result.Channel.ID))
	assert.Equal(t, domain.TicketStatusClosed, f.ticket(result.Channel.ID).Status)

	for _, m := range f.tr.Messages(result.Channel.ID) {
		assert.False(t, m.Pinned, "no welcome after close")
	}
	assert.NotContains(t, f.eventTypes(), events.EventTicketCreated)
}

func TestCreateHelpOutlivesCallerDeadline(t *testing.T) {
	f := newFixture(t)
	f.addChallenge(1, "baby-rev", "rev")
	ctx, cancel := context.WithTimeout(f.ctx, 200*time.Millisecond)
	defer cancel()

	f.tr.OnPrompt = func(channelID string, p transport.SelectPrompt, attempt int) (string, error) {
		if attempt == 1 {
			<-ctx.Done()
			return "", transport.ErrPromptTimeout
		}
		return p.Options[0].Value, nil
	}

	result, err := f.svc.Create(ctx, CreateInput{Type: domain.TicketTypeHelp, Guild: f.guild, Actor: f.user(alice)})
	require.NoError(t, err)
	require.NotNil(t, result.Challenge)
	assert.Equal(t, 2, f.tr.PromptCount(result.Channel.ID))

	pinned := false
	for _, m := range f.tr.Messages(result.Channel.ID) {
		pinned = pinned || m.Pinned
	}
	assert.True(t, pinned, "welcome posted after the deadline")
	assert.Contains(t, f.eventTypes(), events.EventTicketCreated)
}

func TestShutdownAbandonsPendingSelection(t *testing.T) {
	f := newFixture(t)
	f.addChallenge(1, "baby-rev", "rev")
	f.tr.OnPrompt = func(channelID string, p transport.SelectPrompt, attempt int) (string, error) {
		f.svc.Shutdown()
		return "", transport.ErrPromptTimeout
	}

	result, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeHelp, Guild: f.guild, Actor: f.user(alice)})
	require.NoError(t, err)
	assert.Nil(t, result.Challenge)
	assert.Equal(t, 1, f.tr.PromptCount(result.Channel.ID))
	assert.Equal(t, domain.TicketStatusOpen, f.ticket(result.Channel.ID).Status)
	for _, m := range f.tr.Messages(result.Channel.ID) {
		assert.False(t, m.Pinned)
	}
	assert.NotContains(t, f.eventTypes(), events.EventTicketCreated)
}

func TestCreateHelpSurfacesPromptFailure(t *testing.T) {
	f := newFixture(t)
	f.addChallenge(1, "baby-rev", "rev")
	boom := errors.New("interaction rejected")
	f.tr.OnPrompt = func(channelID string, p transport.SelectPrompt, attempt int) (string, error) {
		return "", boom
	}

	result, err := f.svc.Create(f.ctx, CreateInput{Type: domain.TicketTypeHelp, Guild: f.guild, Actor: f.user(alice)})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, result)
	assert.Equal(t, 1, f.tr.PromptCount(result.Channel.ID))
	assert.NotContains(t, f.eventTypes(), events.EventTicketCreated)
}

func TestCreateHelpTruncatesNonASCIITitles(t *testing.T) {
	f := newFixture(t)
	f.addChallenge(1, strings.Repeat("é", 30), "web")
	f.addChallenge(2, "日本語のとても長いチャレンジのタイトルです。本当に長い", "web")

	var labels []string
	f.tr.OnPrompt = func(channelID string, p transport.SelectPrompt, attempt int) (string, error) {
		for _, opt := range p.Options {
			labels = append(labels, opt.Label)
		}
		return p.Options[1].Value, nil
	}

	result := f.open(domain.TicketTypeHelp, alice)
	require.NotNil(t, result.Challenge)
	require.Len(t, labels, 2)
	for _, label := range labels {
		assert.True(t, utf8.ValidString(label), label)
		assert.Equal(t, 25, utf8.RuneCountInString(label))
		assert.True(t, strings.HasSuffix(label, ".."))
	}
}

func TestTruncateLabel(t *testing.T) {
	assert.Equal(t, "short", truncateLabel("short"))
	assert.Equal(t, strings.Repeat("x", 25), truncateLabel(strings.Repeat("x", 25)))
	assert.Equal(t, strings.Repeat("é", 23)+"..", truncateLabel(strings.Repeat("é", 30)))
}
