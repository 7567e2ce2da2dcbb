package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/policy"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

const welcomeColor = 0x5dc169

// Create opens a new ticket channel for the requester.
func (s *TicketService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	var result *CreateResult
	err := s.run(ctx, "create", in.Guild.ID, in.OriginChannelID, in.Actor, func(ctx context.Context) error {
		var err error
		result, err = s.create(ctx, in)
		return err
	})
	return result, err
}

func (s *TicketService) create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if !in.Type.Valid() {
		return nil, domain.ErrInvalidTicketType
	}
	requester := in.Actor.Member
	if in.Actor.Elevated && in.Requester != nil {
		requester = *in.Requester
	}
	if requester.Bot {
		return nil, domain.ErrBotRequester
	}

	if s.limiter != nil && !in.Actor.Elevated {
		ok, err := s.limiter.Allow(ctx, "create:"+in.Guild.ID)
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		if !ok {
			return nil, domain.ErrRateLimited
		}
	}

	ticket, channel, err := s.allocate(ctx, in, requester)
	if err != nil {
		return nil, err
	}
	result := &CreateResult{Ticket: ticket, Channel: channel}

	// From here on the caller's deadline no longer applies; Close, Delete
	// and Shutdown end the remaining steps through the selection registry.
	ctx, done := s.selections.start(ctx, channel.ID)
	defer done()

	if in.Type == domain.TicketTypeHelp {
		challenge, err := s.runSelection(ctx, channel.ID)
		switch {
		case err == nil:
			result.Challenge = challenge
		case errors.Is(err, transport.ErrPromptTimeout):
			s.logger.Info("challenge never selected", zap.String("channel_id", channel.ID))
		case errors.Is(err, errSelectionAbandoned), ctx.Err() != nil:
			s.logger.Info("challenge selection abandoned",
				zap.String("channel_id", channel.ID), zap.Error(err))
			return result, nil
		default:
			return result, fmt.Errorf("challenge selection: %w", err)
		}
	}

	if err := s.welcome(ctx, in.Type, channel.ID, requester, in.Guild); err != nil {
		return result, fmt.Errorf("welcome message: %w", err)
	}

	payload := events.TicketCreatedPayload{
		Type:           ticket.Type,
		SequenceNumber: ticket.SequenceNumber,
		OwnerID:        ticket.UserID,
	}
	if result.Challenge != nil {
		payload.Challenge = result.Challenge.String()
	}
	s.publishEvent(ctx, events.Event{
		Type:        events.EventTicketCreated,
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
		GuildID:     in.Guild.ID,
		Actor:       eventActor(in.Actor),
		Payload:     payload,
	})
	return result, nil
}

// allocate runs the quota checks, creates the channel and inserts the
// record while holding the requester's create lock.
func (s *TicketService) allocate(ctx context.Context, in CreateInput, requester domain.Member) (*domain.Ticket, *transport.Channel, error) {
	unlock, err := s.locker.Lock(ctx, "create:"+in.Guild.ID+":"+requester.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock requester: %w", err)
	}
	defer unlock()

	if !in.Actor.Elevated {
		if err := s.quota.CheckUserQuota(ctx, in.Type, requester.ID, s.store); err != nil {
			return nil, nil, err
		}
	}

	opts := s.cfg.Types[in.Type]
	category, err := s.transport.EnsureCategory(ctx, in.Guild.ID, opts.Category)
	if err != nil {
		return nil, nil, fmt.Errorf("ensure category: %w", err)
	}
	if err := s.quota.CheckCategoryCapacity(category.ChannelCount); err != nil {
		return nil, nil, err
	}
	roles, err := s.resolveRoles(ctx, in.Guild.ID)
	if err != nil {
		return nil, nil, err
	}

	seq, err := s.store.NextSequenceNumber(ctx, in.Type)
	if err != nil {
		return nil, nil, err
	}
	name := policy.OpenName(in.Type, seq, requester)

	channel, err := s.transport.CreateTextChannel(ctx, in.Guild.ID, transport.ChannelSpec{
		Name:       name,
		CategoryID: category.ID,
		Overwrites: openPlan(in.Guild, requester.ID, roles).set,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create channel: %w", err)
	}

	ticket := &domain.Ticket{
		ChannelID:      channel.ID,
		ChannelName:    channel.Name,
		GuildID:        in.Guild.ID,
		UserID:         requester.ID,
		Type:           in.Type,
		Status:         domain.TicketStatusOpen,
		Checked:        domain.CheckedEnabled,
		SequenceNumber: seq,
	}
	if err := s.store.Insert(ctx, ticket); err != nil {
		if delErr := s.transport.DeleteChannel(ctx, channel.ID); delErr != nil && !errors.Is(delErr, transport.ErrNotFound) {
			s.logger.Error("orphaned ticket channel",
				zap.String("channel_id", channel.ID), zap.Error(delErr))
		}
		return nil, nil, fmt.Errorf("insert ticket: %w", err)
	}
	return ticket, channel, nil
}

func (s *TicketService) welcome(ctx context.Context, ticketType domain.TicketType, channelID string, requester domain.Member, guild domain.Guild) error {
	content := fmt.Sprintf("Welcome %s\n\n", requester.Mention())
	if ticketType != domain.TicketTypeSubmit {
		ping := ""
		if roles, err := s.resolveRoles(ctx, guild.ID); err == nil && roles.Ping != "" {
			ping = " <@&" + roles.Ping + ">"
		}
		content = fmt.Sprintf("Welcome %s,\nA new ticket has been opened%s\n\n", requester.Mention(), ping)
	}

	msg, err := s.transport.SendMessage(ctx, channelID, transport.OutgoingMessage{
		Content: content,
		Embeds: []transport.Embed{{
			Title:       TypeTitle(ticketType),
			Description: s.cfg.Types[ticketType].Welcome,
			Color:       welcomeColor,
		}},
		Buttons: []transport.Button{closeButton()},
	})
	if err != nil {
		return err
	}
	if err := s.transport.PinMessage(ctx, channelID, msg.ID); err != nil {
		return fmt.Errorf("pin welcome: %w", err)
	}
	// Pinning posts a system notice; drop it.
	if err := s.transport.PurgeRecent(ctx, channelID, 1); err != nil {
		return fmt.Errorf("purge pin notice: %w", err)
	}
	if ticketType == domain.TicketTypeHelp {
		if _, err := s.transport.SendMessage(ctx, channelID, transport.OutgoingMessage{
			Content: "What have you tried so far?",
		}); err != nil {
			return err
		}
	}
	return nil
}

// TypeTitle renders a display title such as "Help Ticket".
func TypeTitle(t domain.TicketType) string {
	return cases.Title(language.English).String(string(t)) + " Ticket"
}
