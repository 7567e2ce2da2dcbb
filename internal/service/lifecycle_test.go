package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

func TestCloseByOwner(t *testing.T) {
	f := newFixture(t)
	created := f.open(domain.TicketTypeMisc, alice)
	channelID := created.Channel.ID
	require.NoError(t, f.svc.AddMember(f.ctx, f.action(f.admin(), channelID), bob))
	require.NoError(t, f.tr.Post(channelID, alice, "it works now, thanks"))

	result, err := f.svc.Close(f.ctx, f.action(f.user(alice), channelID))
	require.NoError(t, err)
	assert.True(t, result.TranscriptSent)
	assert.True(t, strings.HasPrefix(result.ViewerURL, "memory://attachments/"))
	assert.Equal(t, domain.TicketStatusClosed, result.Ticket.Status)

	stored := f.ticket(channelID)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	assert.Equal(t, "closed-misc-1-alice", stored.ChannelName)

	ch, err := f.tr.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, "closed-misc-1-alice", ch.Name)
	assert.Equal(t, "Closed Tickets", f.tr.CategoryName(ch.CategoryID))

	ow := f.tr.Overwrites(channelID)
	assert.NotContains(t, ow, alice.ID)
	assert.NotContains(t, ow, bob.ID)
	assert.NotContains(t, ow, f.botsRole)
	assert.Equal(t, transport.PermView, ow[guildID].Deny)
	assert.Equal(t, transport.PermViewSend, ow[f.adminRole].Allow)

	dms := f.tr.Directs(alice.ID)
	require.Len(t, dms, 2)
	require.Len(t, dms[0].Attachments, 1)
	assert.Equal(t, "closed-misc-1-alice.html", dms[0].Attachments[0].Name)
	require.Len(t, dms[1].Embeds, 1)
	stats := dms[1].Embeds[0]
	require.Len(t, stats.Fields, 3)
	assert.Equal(t, "transcript url", stats.Fields[0].Name)
	assert.Equal(t, result.ViewerURL, stats.Fields[0].Value)

	var participantIDs []string
	for _, p := range result.Participants {
		participantIDs = append(participantIDs, p.ID)
	}
	assert.Contains(t, participantIDs, alice.ID)
	assert.Positive(t, result.MessageCount)

	logMsgs := f.tr.Messages(f.logChannel)
	require.NotEmpty(t, logMsgs)
	assert.Len(t, logMsgs[len(logMsgs)-1].Attachments, 1)

	msgs := f.tr.Messages(channelID)
	last := msgs[len(msgs)-1]
	require.Len(t, last.Embeds, 1)
	assert.Equal(t, "Closed Ticket Actions", last.Embeds[0].Title)
	assert.Contains(t, contents(msgs), "Transcript sent to DMs")

	assert.Equal(t, events.EventTicketClosed, f.eventTypes()[len(f.eventTypes())-1])
}

func TestCloseTwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	_, err := f.svc.Close(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)
	before := len(f.tr.Messages(channelID))
	eventsBefore := len(f.eventTypes())

	_, err = f.svc.Close(f.ctx, f.action(f.admin(), channelID))
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
	assert.Len(t, f.tr.Messages(channelID), before)
	assert.Len(t, f.eventTypes(), eventsBefore)
}

func TestCloseRequiresOwnerOrAdmin(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID

	_, err := f.svc.Close(f.ctx, f.action(f.user(bob), channelID))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Close(f.ctx, f.action(f.admin(), f.logChannel))
	assert.ErrorIs(t, err, domain.ErrNotATicket)
}

func TestCloseWithoutLogInfrastructureChangesNothing(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture)
		want    string
	}{
		{"no category", func(f *fixture) {}, "logs category does not exist"},
		{"no channel", func(f *fixture) { f.tr.AddCategory(guildID, "logs") }, "ticket-log channel does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, withoutLog())
			tt.prepare(f)
			created := f.open(domain.TicketTypeMisc, alice)
			channelID := created.Channel.ID
			messages := len(f.tr.Messages(channelID))
			overwrites := f.tr.Overwrites(channelID)

			_, err := f.svc.Close(f.ctx, f.action(f.admin(), channelID))
			require.ErrorIs(t, err, domain.ErrMissingLogInfrastructure)
			assert.EqualError(t, err, tt.want)

			stored := f.ticket(channelID)
			assert.Equal(t, domain.TicketStatusOpen, stored.Status)
			assert.Equal(t, "misc-1-alice", stored.ChannelName)
			ch, err := f.tr.Channel(f.ctx, channelID)
			require.NoError(t, err)
			assert.Equal(t, created.Channel.CategoryID, ch.CategoryID)
			assert.Len(t, f.tr.Messages(channelID), messages)
			assert.Equal(t, overwrites, f.tr.Overwrites(channelID))
		})
	}
}

func TestCloseWhenOwnerRefusesDirectMessages(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	f.tr.ClosedDMs[alice.ID] = true

	result, err := f.svc.Close(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)
	assert.False(t, result.TranscriptSent)
	assert.Empty(t, result.ViewerURL)
	assert.Contains(t, contents(f.tr.Messages(channelID)), "Transcript could not be sent to DMs")
	assert.Equal(t, domain.TicketStatusClosed, f.ticket(channelID).Status)
}

func TestCloseToleratesUnknownOverwriteTarget(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	f.tr.UnknownTargets[f.adminRole] = true

	_, err := f.svc.Close(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, f.ticket(channelID).Status)
}

func TestCloseFailsOnOtherOverwriteErrors(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	f.tr.Errors["SetOverwrite"] = transport.ErrNotFound

	_, err := f.svc.Close(f.ctx, f.action(f.admin(), channelID))
	require.Error(t, err)
	assert.Equal(t, domain.TicketStatusOpen, f.ticket(channelID).Status)
}

func TestReopenRestoresOpenState(t *testing.T) {
	f := newFixture(t)
	created := f.open(domain.TicketTypeMisc, alice)
	channelID := created.Channel.ID

	_, err := f.svc.Reopen(f.ctx, f.action(f.admin(), channelID))
	assert.ErrorIs(t, err, domain.ErrAlreadyOpen)

	require.NoError(t, f.svc.SetAutoclose(f.ctx, f.action(f.admin(), channelID), true))
	_, err = f.svc.Close(f.ctx, f.action(f.user(alice), channelID))
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateCheckedState(f.ctx, channelID, domain.CheckedWarned))

	_, err = f.svc.Reopen(f.ctx, f.action(f.user(alice), channelID))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	ticket, err := f.svc.Reopen(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "misc-1-alice", ticket.ChannelName)

	stored := f.ticket(channelID)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
	assert.Equal(t, domain.CheckedEnabled, stored.Checked)
	assert.Equal(t, "misc-1-alice", stored.ChannelName)

	ch, err := f.tr.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, created.Channel.CategoryID, ch.CategoryID)
	assert.Equal(t, "misc-1-alice", ch.Name)
	assert.Equal(t, transport.PermViewSend, f.tr.Overwrites(channelID)[alice.ID].Allow)

	msgs := f.tr.Messages(channelID)
	require.Len(t, msgs[len(msgs)-1].Embeds, 1)
	assert.Equal(t, "Ticket was re-opened by <@a1>", msgs[len(msgs)-1].Embeds[0].Description)
}

func TestCloseAndReopenAfterOwnerLeft(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	f.tr.RemoveMember(guildID, alice.ID)

	_, err := f.svc.Close(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)
	assert.Equal(t, "closed-misc-1-alice", f.ticket(channelID).ChannelName)

	ticket, err := f.svc.Reopen(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)
	assert.Equal(t, "misc-1-alice", ticket.ChannelName)

	ch, err := f.tr.Channel(f.ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, "misc-1-alice", ch.Name)
}

func TestReopenKeepsAutocloseDisabled(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	require.NoError(t, f.svc.SetAutoclose(f.ctx, f.action(f.admin(), channelID), false))
	_, err := f.svc.Close(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)

	_, err = f.svc.Reopen(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)
	assert.Equal(t, domain.CheckedDisabled, f.ticket(channelID).Checked)
}

func TestDeleteWaitsForGraceThenArchives(t *testing.T) {
	f := newFixture(t, withConfig(func(c *config.TicketingConfig) { c.DeleteGrace = 5 * time.Second }))
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	_, err := f.svc.Close(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)

	type outcome struct {
		archived *domain.ArchivedTicket
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		archived, err := f.svc.Delete(f.ctx, f.action(f.admin(), channelID))
		done <- outcome{archived, err}
	}()

	f.clock.WaitForTimers(1)
	msgs := f.tr.Messages(channelID)
	require.Len(t, msgs[len(msgs)-1].Embeds, 1)
	assert.Equal(t, "5 seconds left", msgs[len(msgs)-1].Embeds[0].Description)
	_, err = f.store.Get(f.ctx, channelID)
	require.NoError(t, err, "still live during the grace period")

	f.clock.Advance(5 * time.Second)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, domain.TicketStatusClosed, res.archived.Status)
	assert.Equal(t, "closed-misc-1-alice", res.archived.ChannelName)

	_, err = f.store.Get(f.ctx, channelID)
	assert.ErrorIs(t, err, domain.ErrNotATicket)
	_, err = f.tr.Channel(f.ctx, channelID)
	assert.ErrorIs(t, err, transport.ErrNotFound)

	assert.Equal(t, []events.EventType{
		events.EventTicketCreated,
		events.EventTicketClosed,
		events.EventTicketDeleted,
	}, f.eventTypes())
}

func TestDeleteRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID

	_, err := f.svc.Delete(f.ctx, f.action(f.user(alice), channelID))
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.store.Get(f.ctx, channelID)
	assert.NoError(t, err)
}

func TestDeleteWhenChannelAlreadyGone(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	require.NoError(t, f.tr.DeleteChannel(f.ctx, channelID))

	archived, err := f.svc.Delete(f.ctx, f.action(f.admin(), channelID))
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, archived.Status)
	_, err = f.store.GetArchived(f.ctx, channelID)
	assert.NoError(t, err)
}

func TestSequenceNumbersSurviveDeletion(t *testing.T) {
	f := newFixture(t)
	first := f.open(domain.TicketTypeMisc, alice)
	_, err := f.svc.Delete(f.ctx, f.action(f.admin(), first.Channel.ID))
	require.NoError(t, err)

	second := f.open(domain.TicketTypeMisc, alice)
	assert.Equal(t, 2, second.Ticket.SequenceNumber)
	assert.Equal(t, "misc-2-alice", second.Channel.Name)
}

func TestMembers(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	in := f.action(f.admin(), channelID)

	assert.ErrorIs(t, f.svc.AddMember(f.ctx, f.action(f.user(alice), channelID), bob), domain.ErrForbidden)
	assert.ErrorIs(t, f.svc.AddMember(f.ctx, in, alice), domain.ErrAlreadyMember)
	assert.ErrorIs(t, f.svc.AddMember(f.ctx, in, f.root), domain.ErrTargetIsAdmin)
	assert.ErrorIs(t, f.svc.RemoveMember(f.ctx, in, bob), domain.ErrNotMember)

	require.NoError(t, f.svc.AddMember(f.ctx, in, bob))
	assert.Equal(t, transport.PermViewSend, f.tr.Overwrites(channelID)[bob.ID].Allow)
	assert.ErrorIs(t, f.svc.AddMember(f.ctx, in, bob), domain.ErrAlreadyMember)

	require.NoError(t, f.svc.RemoveMember(f.ctx, in, bob))
	assert.Equal(t, transport.PermViewSend, f.tr.Overwrites(channelID)[bob.ID].Deny)
	assert.ErrorIs(t, f.svc.RemoveMember(f.ctx, in, bob), domain.ErrNotMember)

	msgs := f.tr.Messages(channelID)
	require.Len(t, msgs[len(msgs)-1].Embeds, 1)
	assert.Equal(t, "<@u2> was removed", msgs[len(msgs)-1].Embeds[0].Description)
	assert.Contains(t, f.eventTypes(), events.EventTicketMemberAdded)
	assert.Contains(t, f.eventTypes(), events.EventTicketMemberRemoved)
}

func TestSetAutoclose(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID

	assert.ErrorIs(t, f.svc.SetAutoclose(f.ctx, f.action(f.user(alice), channelID), false), domain.ErrForbidden)

	require.NoError(t, f.svc.SetAutoclose(f.ctx, f.action(f.admin(), channelID), false))
	assert.Equal(t, domain.CheckedDisabled, f.ticket(channelID).Checked)
	require.NoError(t, f.svc.SetAutoclose(f.ctx, f.action(f.admin(), channelID), true))
	assert.Equal(t, domain.CheckedEnabled, f.ticket(channelID).Checked)

	got := contents(f.tr.Messages(channelID))
	assert.Contains(t, got, "Autoclose disabled")
	assert.Contains(t, got, "Autoclose enabled")
}

func TestAutoMessageNudgesOwner(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID

	require.NoError(t, f.svc.AutoMessage(f.ctx, f.action(f.svc.BotActor(), channelID)))
	msgs := f.tr.Messages(channelID)
	last := msgs[len(msgs)-1]
	assert.Contains(t, last.Content, "<@u1>")
	assert.Equal(t, botMember.ID, last.Author.ID)
	assert.Equal(t, domain.CheckedEnabled, f.ticket(channelID).Checked)
}

func TestSendTranscriptToChannel(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID

	ref, err := f.svc.SendTranscript(f.ctx, f.action(f.admin(), channelID), f.logChannel)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.AttachmentURL)
	assert.Len(t, ref.Digest, 64)
	assert.Equal(t, 1, ref.MessageCount)
}

func TestPostPanel(t *testing.T) {
	f := newFixture(t)
	lobby := f.tr.AddTextChannel(guildID, "", "lobby")

	assert.ErrorIs(t, f.svc.PostPanel(f.ctx, f.action(f.user(alice), lobby)), domain.ErrForbidden)
	require.NoError(t, f.svc.PostPanel(f.ctx, f.action(f.admin(), lobby)))

	msgs := f.tr.Messages(lobby)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Embeds, 1)
	assert.Equal(t, "Open a ticket", msgs[0].Embeds[0].Title)
	assert.Contains(t, msgs[0].Embeds[0].Description, "Help Ticket")
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "ok", outcomeOf(nil))
	assert.Equal(t, "noop", outcomeOf(domain.ErrAlreadyClosed))
	assert.Equal(t, "denied", outcomeOf(&domain.QuotaExceededError{Err: domain.ErrMaxUserTickets}))
	assert.Equal(t, "error", outcomeOf(transport.ErrNotFound))
}

func contents(msgs []transport.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
