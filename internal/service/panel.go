package service

import (
	"context"
	"strings"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

var typeEmoji = map[domain.TicketType]string{
	domain.TicketTypeHelp:   "❓",
	domain.TicketTypeSubmit: "📝",
	domain.TicketTypeMisc:   "📨",
}

// PostPanel posts the ticket creation panel, one button per type, into
// in.ChannelID.
func (s *TicketService) PostPanel(ctx context.Context, in ActionInput) error {
	return s.run(ctx, "post_panel", in.Guild.ID, in.ChannelID, in.Actor, func(ctx context.Context) error {
		if !in.Actor.Elevated {
			return domain.ErrForbidden
		}
		var lines []string
		buttons := make([]transport.Button, 0, len(domain.TicketTypes))
		for _, t := range domain.TicketTypes {
			lines = append(lines, typeEmoji[t]+" **"+TypeTitle(t)+"**: "+s.cfg.Types[t].Category)
			buttons = append(buttons, transport.Button{
				CustomID: ButtonCreatePrefix + string(t),
				Label:    TypeTitle(t),
				Emoji:    typeEmoji[t],
				Style:    transport.ButtonPrimary,
			})
		}
		_, err := s.transport.SendMessage(ctx, in.ChannelID, transport.OutgoingMessage{
			Embeds: []transport.Embed{{
				Title:       "Open a ticket",
				Description: strings.Join(lines, "\n"),
				Color:       welcomeColor,
			}},
			Buttons: buttons,
		})
		return err
	})
}
