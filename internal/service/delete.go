package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

const deletingColor = 0xf7fcfd

// Delete archives the ticket and removes its channel after the grace
// delay. The record is archived before the channel is removed.
func (s *TicketService) Delete(ctx context.Context, in ActionInput) (*domain.ArchivedTicket, error) {
	var archived *domain.ArchivedTicket
	err := s.run(ctx, "delete", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		unlock, err := s.lockChannel(ctx, in.ChannelID)
		if err != nil {
			return err
		}
		defer unlock()
		archived, err = s.delete(ctx, in)
		return err
	})
	return archived, err
}

func (s *TicketService) delete(ctx context.Context, in ActionInput) (*domain.ArchivedTicket, error) {
	ticket, err := s.loadTicket(ctx, in, false)
	if err != nil {
		return nil, err
	}
	s.selections.cancel(in.ChannelID)

	grace := s.cfg.DeleteGrace
	if err := s.notice(ctx, in.ChannelID, transport.Embed{
		Title:       "Deleting ticket",
		Description: fmt.Sprintf("%d seconds left", int(grace.Seconds())),
		Color:       deletingColor,
	}); err != nil && !errors.Is(err, transport.ErrNotFound) {
		s.logger.Warn("countdown notice failed", zap.String("channel_id", in.ChannelID), zap.Error(err))
	}

	if grace > 0 {
		select {
		case <-s.clock.After(grace):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := s.store.ArchiveAndDelete(ctx, in.ChannelID); err != nil {
		return nil, fmt.Errorf("archive ticket: %w", err)
	}
	if err := s.transport.DeleteChannel(ctx, in.ChannelID); err != nil && !errors.Is(err, transport.ErrNotFound) {
		return nil, fmt.Errorf("delete channel: %w", err)
	}

	archived, err := s.store.GetArchived(ctx, in.ChannelID)
	if err != nil {
		s.logger.Warn("archived ticket not readable", zap.String("channel_id", in.ChannelID), zap.Error(err))
		archived = &domain.ArchivedTicket{Ticket: *ticket}
	}

	s.publishEvent(ctx, events.Event{
		Type:        events.EventTicketDeleted,
		ChannelID:   in.ChannelID,
		ChannelName: ticket.ChannelName,
		GuildID:     in.Guild.ID,
		Actor:       eventActor(in.Actor),
		Payload: events.TicketDeletedPayload{
			Type:           ticket.Type,
			SequenceNumber: ticket.SequenceNumber,
			Status:         ticket.Status,
		},
	})
	return archived, nil
}
