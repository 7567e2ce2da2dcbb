package service

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/clock"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

func TestRenderSanitisesMarkdown(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	require.NoError(t, f.tr.Post(channelID, alice, "**bold** <script>alert(1)</script> ~~gone~~"))

	svc := NewTranscriptService(TranscriptDependencies{Transport: f.tr})
	doc, err := svc.Render(f.ctx, channelID, "misc-1-alice")
	require.NoError(t, err)

	html := string(doc.HTML)
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.Contains(t, html, "<del>gone</del>")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "<title>misc-1-alice</title>")
	assert.Equal(t, "misc-1-alice.html", doc.FileName)
	assert.Equal(t, 2, doc.MessageCount)
	assert.Len(t, doc.Digest, 64)

	// Oldest first.
	assert.Less(t, strings.Index(html, "Misc Ticket"), strings.Index(html, "<strong>bold</strong>"))
}

func TestRenderStampsInjectedClock(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	generated := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	svc := NewTranscriptService(TranscriptDependencies{Transport: f.tr, Clock: clock.Fake(generated)})
	first, err := svc.Render(f.ctx, channelID, "misc-1-alice")
	require.NoError(t, err)
	assert.Contains(t, string(first.HTML), "generated 2024-03-01T12:30:00Z")

	second, err := svc.Render(f.ctx, channelID, "misc-1-alice")
	require.NoError(t, err)
	assert.Equal(t, first.Digest, second.Digest)
}

func TestSendToSignsViewerLink(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	links := auth.NewTokenManager("link-secret", time.Hour)

	svc := NewTranscriptService(TranscriptDependencies{
		Transport: f.tr,
		Links:     links,
		BaseURL:   "https://tickets.example",
	})
	ref, err := svc.SendTo(f.ctx, channelID, "misc-1-alice", f.logChannel)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref.ViewerURL, "https://tickets.example/direct?token="))

	parsed, err := url.Parse(ref.ViewerURL)
	require.NoError(t, err)
	claims, err := links.ParseTranscriptLink(parsed.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, ref.AttachmentURL, claims.URL)
	assert.Equal(t, channelID, claims.ChannelID)
	assert.Equal(t, ref.Digest, claims.Digest)
}

func TestCollectParticipantsDedupesAndDropsUnknown(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	ghost := domain.Member{ID: "u9", Username: "ghost"}
	require.NoError(t, f.tr.Post(channelID, alice, "one"))
	require.NoError(t, f.tr.Post(channelID, bob, "two"))
	require.NoError(t, f.tr.Post(channelID, alice, "three"))
	require.NoError(t, f.tr.Post(channelID, ghost, "boo"))

	svc := NewTranscriptService(TranscriptDependencies{Transport: f.tr})
	members, count, err := svc.CollectParticipants(f.ctx, guildID, channelID, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	var ids []string
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{botMember.ID, alice.ID, bob.ID}, ids)

	_, limited, err := svc.CollectParticipants(f.ctx, guildID, channelID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, limited)
}

func TestBuildTranscriptWithoutDirectMessages(t *testing.T) {
	f := newFixture(t)
	channelID := f.open(domain.TicketTypeMisc, alice).Channel.ID
	f.tr.ClosedDMs[alice.ID] = true

	svc := NewTranscriptService(TranscriptDependencies{Transport: f.tr})
	ref, err := svc.BuildTranscript(f.ctx, channelID, "misc-1-alice", alice, f.logChannel)
	require.NoError(t, err)
	assert.Nil(t, ref)

	logMsgs := f.tr.Messages(f.logChannel)
	require.Len(t, logMsgs, 1, "log copy is kept")
	assert.Contains(t, logMsgs[0].Content, "blake2b")
}
