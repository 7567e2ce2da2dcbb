package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/policy"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

const reopenedColor = 0x00FF00

// Reopen returns a closed ticket to its type category and restores the
// owner's access. Reopening an open ticket fails with ErrAlreadyOpen.
func (s *TicketService) Reopen(ctx context.Context, in ActionInput) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := s.run(ctx, "reopen", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		unlock, err := s.lockChannel(ctx, in.ChannelID)
		if err != nil {
			return err
		}
		defer unlock()
		ticket, err = s.reopen(ctx, in)
		return err
	})
	return ticket, err
}

func (s *TicketService) reopen(ctx context.Context, in ActionInput) (*domain.Ticket, error) {
	ticket, err := s.loadTicket(ctx, in, false)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusOpen {
		return nil, domain.ErrAlreadyOpen
	}
	roles, err := s.resolveRoles(ctx, in.Guild.ID)
	if err != nil {
		return nil, err
	}

	category, err := s.transport.EnsureCategory(ctx, in.Guild.ID, s.cfg.Types[ticket.Type].Category)
	if err != nil {
		return nil, fmt.Errorf("ensure category: %w", err)
	}
	if err := s.transport.EditChannel(ctx, in.ChannelID, transport.ChannelEdit{CategoryID: &category.ID}); err != nil {
		return nil, fmt.Errorf("move channel: %w", err)
	}
	if err := s.applyOverwrites(ctx, in.ChannelID, reopenPlan(in.Guild, ticket.UserID, roles)); err != nil {
		return nil, err
	}

	if err := s.store.UpdateStatus(ctx, in.ChannelID, domain.TicketStatusOpen); err != nil {
		return nil, fmt.Errorf("persist status: %w", err)
	}
	ticket.Status = domain.TicketStatusOpen
	if ticket.Checked != domain.CheckedDisabled {
		if err := s.store.UpdateCheckedState(ctx, in.ChannelID, domain.CheckedEnabled); err != nil {
			return nil, fmt.Errorf("persist autoclose state: %w", err)
		}
		ticket.Checked = domain.CheckedEnabled
	}

	name := policy.OpenFrom(ticket.ChannelName)
	if owner, found := s.ownerOf(ctx, ticket); found {
		name = policy.OpenName(ticket.Type, ticket.SequenceNumber, owner)
	}
	if err := s.rename(ctx, ticket, name); err != nil {
		return nil, err
	}

	if err := s.notice(ctx, in.ChannelID, transport.Embed{
		Description: "Ticket was re-opened by " + in.Actor.Mention(),
		Color:       reopenedColor,
	}, closeButton()); err != nil {
		return nil, fmt.Errorf("reopen notice: %w", err)
	}

	s.publishEvent(ctx, events.Event{
		Type:        events.EventTicketReopened,
		ChannelID:   in.ChannelID,
		ChannelName: ticket.ChannelName,
		GuildID:     in.Guild.ID,
		Actor:       eventActor(in.Actor),
		Payload:     events.TicketReopenedPayload{OwnerID: ticket.UserID},
	})
	return ticket, nil
}
