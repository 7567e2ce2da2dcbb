package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// SetAutoclose turns the idle sweep on or off for one ticket.
func (s *TicketService) SetAutoclose(ctx context.Context, in ActionInput, enabled bool) error {
	return s.run(ctx, "set_autoclose", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		unlock, err := s.lockChannel(ctx, in.ChannelID)
		if err != nil {
			return err
		}
		defer unlock()

		ticket, err := s.loadTicket(ctx, in, false)
		if err != nil {
			return err
		}
		state, label := domain.CheckedDisabled, "disabled"
		if enabled {
			state, label = domain.CheckedEnabled, "enabled"
		}
		if err := s.store.UpdateCheckedState(ctx, in.ChannelID, state); err != nil {
			return fmt.Errorf("persist autoclose state: %w", err)
		}
		if _, err := s.transport.SendMessage(ctx, in.ChannelID, transport.OutgoingMessage{
			Content: "Autoclose " + label,
		}); err != nil {
			return fmt.Errorf("autoclose notice: %w", err)
		}
		s.publishEvent(ctx, events.Event{
			Type:        events.EventTicketAutocloseChanged,
			ChannelID:   in.ChannelID,
			ChannelName: ticket.ChannelName,
			GuildID:     in.Guild.ID,
			Actor:       eventActor(in.Actor),
			Payload:     events.TicketAutoclosePayload{Checked: state},
		})
		return nil
	})
}

// AutoMessage nudges the owner to close a ticket that looks finished. It
// does not change the autoclose state.
func (s *TicketService) AutoMessage(ctx context.Context, in ActionInput) error {
	return s.run(ctx, "auto_message", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		ticket, err := s.loadTicket(ctx, in, false)
		if err != nil {
			return err
		}
		_, err = s.transport.SendMessage(ctx, in.ChannelID, transport.OutgoingMessage{
			Content: fmt.Sprintf("If that is all we can help you with <@%s>, please close this ticket.\n"+
				"||I am a bot and this action was performed automatically||", ticket.UserID),
			Buttons: []transport.Button{closeButton()},
		})
		return err
	})
}

// SendTranscript posts the ticket's transcript to another channel.
func (s *TicketService) SendTranscript(ctx context.Context, in ActionInput, destinationID string) (*TranscriptRef, error) {
	var ref *TranscriptRef
	err := s.run(ctx, "send_transcript", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		ticket, err := s.loadTicket(ctx, in, false)
		if err != nil {
			return err
		}
		ref, err = s.transcripts.SendTo(ctx, in.ChannelID, ticket.ChannelName, destinationID)
		return err
	})
	return ref, err
}
