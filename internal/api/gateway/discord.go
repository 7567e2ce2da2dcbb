package gateway

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/transport/discord"
)

// actionTimeout bounds one button-triggered action, delete grace included.
const actionTimeout = 2 * time.Minute

// Gateway feeds Discord component interactions into a Router.
type Gateway struct {
	session *discordgo.Session
	router  *Router
	logger  *zap.Logger
}

// New attaches the router to the session's interaction events.
func New(session *discordgo.Session, router *Router, logger *zap.Logger) *Gateway {
	return &Gateway{session: session, router: router, logger: logger}
}

// Run opens the gateway connection and serves interactions until ctx is
// done.
func (g *Gateway) Run(ctx context.Context) error {
	remove := g.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		g.onInteraction(ctx, s, i)
	})
	defer remove()

	if err := g.session.Open(); err != nil {
		return err
	}
	g.logger.Info("discord gateway connected")
	<-ctx.Done()
	return g.session.Close()
}

func (g *Gateway) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent || i.Member == nil || i.Member.User == nil {
		return
	}
	data := i.MessageComponentData()
	if !Owns(data.CustomID) {
		return
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		g.logger.Warn("acknowledge interaction", zap.Error(err))
		return
	}

	in := Interaction{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		CustomID:  data.CustomID,
		User:      discord.FromMember(i.Member),
	}
	go func() {
		actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		reply := g.router.Handle(actionCtx, in)
		if _, err := s.FollowupMessageCreate(i.Interaction, false, &discordgo.WebhookParams{
			Content: reply,
			Flags:   discordgo.MessageFlagsEphemeral,
		}); err != nil {
			g.logger.Debug("interaction followup failed", zap.String("custom_id", in.CustomID), zap.Error(err))
		}
	}()
}
