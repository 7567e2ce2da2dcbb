package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

const (
	memberAddedColor   = 0x00FF00
	memberRemovedColor = 0xff0000
)

// AddMember grants member access to the ticket channel.
func (s *TicketService) AddMember(ctx context.Context, in ActionInput, member domain.Member) error {
	return s.run(ctx, "add_member", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		unlock, err := s.lockChannel(ctx, in.ChannelID)
		if err != nil {
			return err
		}
		defer unlock()

		ticket, current, err := s.membership(ctx, in, member)
		if err != nil {
			return err
		}
		if member.ID == ticket.UserID || slices.Contains(current, member.ID) {
			return domain.ErrAlreadyMember
		}
		if err := s.transport.SetOverwrite(ctx, in.ChannelID, memberAllow(member.ID)); err != nil {
			return fmt.Errorf("grant access: %w", err)
		}
		if err := s.notice(ctx, in.ChannelID, transport.Embed{
			Description: member.Mention() + " was added",
			Color:       memberAddedColor,
		}); err != nil {
			return fmt.Errorf("member notice: %w", err)
		}
		s.publishMember(ctx, events.EventTicketMemberAdded, in, ticket, member)
		return nil
	})
}

// RemoveMember revokes a member's access to the ticket channel.
func (s *TicketService) RemoveMember(ctx context.Context, in ActionInput, member domain.Member) error {
	return s.run(ctx, "remove_member", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		unlock, err := s.lockChannel(ctx, in.ChannelID)
		if err != nil {
			return err
		}
		defer unlock()

		ticket, current, err := s.membership(ctx, in, member)
		if err != nil {
			return err
		}
		if !slices.Contains(current, member.ID) {
			return domain.ErrNotMember
		}
		if err := s.transport.SetOverwrite(ctx, in.ChannelID, memberDeny(member.ID)); err != nil {
			return fmt.Errorf("revoke access: %w", err)
		}
		if err := s.notice(ctx, in.ChannelID, transport.Embed{
			Description: member.Mention() + " was removed",
			Color:       memberRemovedColor,
		}); err != nil {
			return fmt.Errorf("member notice: %w", err)
		}
		s.publishMember(ctx, events.EventTicketMemberRemoved, in, ticket, member)
		return nil
	})
}

// membership loads the ticket and its explicit members, rejecting admins
// as targets.
func (s *TicketService) membership(ctx context.Context, in ActionInput, member domain.Member) (*domain.Ticket, []string, error) {
	ticket, err := s.loadTicket(ctx, in, false)
	if err != nil {
		return nil, nil, err
	}
	roles, err := s.resolveRoles(ctx, in.Guild.ID)
	if err != nil {
		return nil, nil, err
	}
	if member.HasRole(roles.Admin) {
		return nil, nil, domain.ErrTargetIsAdmin
	}
	current, err := s.transport.ChannelMembers(ctx, in.ChannelID)
	if err != nil {
		return nil, nil, fmt.Errorf("list channel members: %w", err)
	}
	return ticket, current, nil
}

func (s *TicketService) publishMember(ctx context.Context, eventType events.EventType, in ActionInput, ticket *domain.Ticket, member domain.Member) {
	s.publishEvent(ctx, events.Event{
		Type:        eventType,
		ChannelID:   in.ChannelID,
		ChannelName: ticket.ChannelName,
		GuildID:     in.Guild.ID,
		Actor:       eventActor(in.Actor),
		Payload:     events.TicketMemberPayload{MemberID: member.ID},
	})
}
