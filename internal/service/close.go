package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/policy"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

const (
	closedColor = 0xFF0000
	statsColor  = 0xa0e9ec
)

// Close closes an open ticket: it hides the channel from the owner, moves
// it to the closed category, archives a transcript and posts the admin
// panel. Closing a closed ticket fails with ErrAlreadyClosed and changes
// nothing.
func (s *TicketService) Close(ctx context.Context, in ActionInput) (*CloseResult, error) {
	var result *CloseResult
	err := s.run(ctx, "close", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		unlock, err := s.lockChannel(ctx, in.ChannelID)
		if err != nil {
			return err
		}
		defer unlock()
		result, err = s.close(ctx, in)
		return err
	})
	return result, err
}

func (s *TicketService) close(ctx context.Context, in ActionInput) (*CloseResult, error) {
	ticket, err := s.loadTicket(ctx, in, true)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, domain.ErrAlreadyClosed
	}
	logChannel, err := LogChannel(ctx, s.transport, s.cfg, in.Guild.ID)
	if err != nil {
		return nil, err
	}
	roles, err := s.resolveRoles(ctx, in.Guild.ID)
	if err != nil {
		return nil, err
	}
	s.selections.cancel(in.ChannelID)

	if err := s.notice(ctx, in.ChannelID, transport.Embed{
		Description: "Ticket was closed by " + in.Actor.Mention(),
		Color:       closedColor,
	}); err != nil {
		return nil, fmt.Errorf("closure notice: %w", err)
	}

	closedCategory, err := s.transport.EnsureCategory(ctx, in.Guild.ID, s.cfg.ClosedCategory)
	if err != nil {
		return nil, fmt.Errorf("ensure closed category: %w", err)
	}
	if err := s.transport.EditChannel(ctx, in.ChannelID, transport.ChannelEdit{CategoryID: &closedCategory.ID}); err != nil {
		return nil, fmt.Errorf("move channel: %w", err)
	}
	members, err := s.transport.ChannelMembers(ctx, in.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("list channel members: %w", err)
	}
	if err := s.applyOverwrites(ctx, in.ChannelID, closedPlan(in.Guild, ticket.UserID, members, roles)); err != nil {
		return nil, err
	}

	owner, found := s.ownerOf(ctx, ticket)
	name := policy.ClosedFrom(ticket.ChannelName)
	if found {
		name = policy.CloseName(ticket.Type, ticket.SequenceNumber, owner)
	}
	if err := s.rename(ctx, ticket, name); err != nil {
		return nil, err
	}

	result := &CloseResult{Ticket: ticket}
	ref, err := s.transcripts.BuildTranscript(ctx, in.ChannelID, name, owner, logChannel.ID)
	if err != nil {
		s.logger.Error("transcript failed", zap.String("channel_id", in.ChannelID), zap.Error(err))
	}
	deliveryNotice := "Transcript could not be sent to DMs"
	if ref != nil {
		result.TranscriptSent = true
		result.ViewerURL = ref.ViewerURL
		deliveryNotice = "Transcript sent to DMs"
	}
	if _, err := s.transport.SendMessage(ctx, in.ChannelID, transport.OutgoingMessage{Content: deliveryNotice}); err != nil {
		s.logger.Warn("transcript notice failed", zap.String("channel_id", in.ChannelID), zap.Error(err))
	}

	participants, count, err := s.transcripts.CollectParticipants(ctx, in.Guild.ID, in.ChannelID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn("participant scan failed", zap.String("channel_id", in.ChannelID), zap.Error(err))
	}
	result.Participants = participants
	result.MessageCount = count
	if _, err := s.transport.SendDirect(ctx, owner.ID, transport.OutgoingMessage{
		Embeds: []transport.Embed{statsEmbed(name, result)},
	}); err != nil {
		s.logger.Info("ticket stats not delivered", zap.String("owner_id", owner.ID), zap.Error(err))
	}

	if err := s.store.UpdateStatus(ctx, in.ChannelID, domain.TicketStatusClosed); err != nil {
		return nil, fmt.Errorf("persist status: %w", err)
	}
	ticket.Status = domain.TicketStatusClosed

	if err := s.notice(ctx, in.ChannelID, transport.Embed{
		Title:       "Closed Ticket Actions",
		Description: ":unlock: Reopen Ticket\n:no_entry: Delete Ticket",
	},
		transport.Button{CustomID: ButtonReopen, Label: "Reopen", Emoji: "🔓", Style: transport.ButtonSuccess},
		transport.Button{CustomID: ButtonDelete, Label: "Delete", Emoji: "⛔", Style: transport.ButtonDanger},
	); err != nil {
		s.logger.Warn("admin panel failed", zap.String("channel_id", in.ChannelID), zap.Error(err))
	}

	s.publishEvent(ctx, events.Event{
		Type:        events.EventTicketClosed,
		ChannelID:   in.ChannelID,
		ChannelName: name,
		GuildID:     in.Guild.ID,
		Actor:       eventActor(in.Actor),
		Payload: events.TicketClosedPayload{
			OwnerID:        ticket.UserID,
			TranscriptSent: result.TranscriptSent,
			ViewerURL:      result.ViewerURL,
			Participants:   len(participants),
			MessageCount:   count,
		},
	})
	return result, nil
}

// rename updates the channel name on the platform and in the store.
func (s *TicketService) rename(ctx context.Context, ticket *domain.Ticket, name string) error {
	if err := s.transport.EditChannel(ctx, ticket.ChannelID, transport.ChannelEdit{Name: &name}); err != nil {
		return fmt.Errorf("rename channel: %w", err)
	}
	if err := s.store.UpdateChannelName(ctx, ticket.ChannelID, name); err != nil {
		return fmt.Errorf("persist channel name: %w", err)
	}
	ticket.ChannelName = name
	return nil
}

func statsEmbed(name string, result *CloseResult) transport.Embed {
	url := result.ViewerURL
	if url == "" {
		url = "unavailable"
	}
	users := make([]string, 0, len(result.Participants))
	for _, p := range result.Participants {
		users = append(users, p.Mention())
	}
	userList := strings.Join(users, "\n")
	if userList == "" {
		userList = "none"
	}
	return transport.Embed{
		Title: "Ticket " + name + " closed",
		Color: statsColor,
		Fields: []transport.EmbedField{
			{Name: "transcript url", Value: url},
			{Name: "users", Value: userList, Inline: true},
			{Name: "number of messages", Value: strconv.Itoa(result.MessageCount), Inline: true},
		},
	}
}
