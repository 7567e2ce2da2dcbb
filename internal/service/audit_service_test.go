package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
)

func TestAuditRecordsLifecycle(t *testing.T) {
	f := newFixture(t)
	audit := NewAuditService(AuditDependencies{
		Dispatcher: f.svc.dispatcher,
		Store:      f.store,
		Transport:  f.tr,
		Config:     f.cfg,
	})
	audit.RegisterHandlers()

	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	require.NoError(t, f.svc.AddMember(f.ctx, f.action(f.admin(), channelID), bob))
	_, err := f.svc.Close(f.ctx, f.action(f.user(alice), channelID))
	require.NoError(t, err)

	entries, err := f.store.ListAudit(f.ctx, channelID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.AuditCreated, entries[0].Action)
	assert.Equal(t, alice.ID, entries[0].ActorID)
	assert.Equal(t, "misc", entries[0].Detail["type"])
	assert.Equal(t, domain.AuditMemberAdded, entries[1].Action)
	assert.Equal(t, bob.ID, entries[1].Detail["member_id"])
	assert.Equal(t, domain.AuditClosed, entries[2].Action)
	assert.Equal(t, true, entries[2].Detail["transcript_sent"])

	var titles []string
	for _, m := range f.tr.Messages(f.logChannel) {
		for _, e := range m.Embeds {
			titles = append(titles, e.Title)
		}
	}
	assert.Contains(t, titles, "[CREATED] misc-1-alice")
	assert.Contains(t, titles, "[CLOSED] closed-misc-1-alice")
}

func TestAuditSkipsMissingLogChannel(t *testing.T) {
	f := newFixture(t, withoutLog())
	audit := NewAuditService(AuditDependencies{Store: f.store, Transport: f.tr, Config: f.cfg})

	err := audit.handle(f.ctx, events.Event{
		Type:        events.EventTicketCreated,
		ChannelID:   "c1",
		ChannelName: "misc-1-alice",
		GuildID:     guildID,
		Actor:       events.Actor{UserID: alice.ID, Username: alice.Username},
		Payload:     events.TicketCreatedPayload{Type: domain.TicketTypeMisc, SequenceNumber: 1, OwnerID: alice.ID},
	})
	require.NoError(t, err)

	entries, err := f.store.ListAudit(f.ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(1), entries[0].Detail["sequence_number"])
}
