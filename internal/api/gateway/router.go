// Package gateway turns chat button presses into lifecycle actions.
package gateway

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
	"github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// Lifecycle is the part of the ticket service reachable from buttons.
type Lifecycle interface {
	Create(ctx context.Context, in service.CreateInput) (*service.CreateResult, error)
	Close(ctx context.Context, in service.ActionInput) (*service.CloseResult, error)
	Reopen(ctx context.Context, in service.ActionInput) (*domain.Ticket, error)
	Delete(ctx context.Context, in service.ActionInput) (*domain.ArchivedTicket, error)
}

// Interaction is a button press.
type Interaction struct {
	GuildID   string
	ChannelID string
	CustomID  string
	User      domain.Member
}

// ErrUnknownComponent is returned for custom IDs the router does not own.
var ErrUnknownComponent = errors.New("unknown component")

// Router maps component IDs to lifecycle actions.
type Router struct {
	lifecycle Lifecycle
	transport transport.Transport
	cfg       config.TicketingConfig
	logger    *zap.Logger
}

// NewRouter constructs a router.
func NewRouter(lifecycle Lifecycle, t transport.Transport, cfg config.TicketingConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{lifecycle: lifecycle, transport: t, cfg: cfg, logger: logger}
}

// Owns reports whether customID is routed here.
func Owns(customID string) bool {
	return strings.HasPrefix(customID, service.ButtonCreatePrefix) ||
		customID == service.ButtonClose ||
		customID == service.ButtonReopen ||
		customID == service.ButtonDelete
}

// Handle runs the action behind the interaction and returns the private
// reply for the user. Failures are rendered as user-facing text.
func (r *Router) Handle(ctx context.Context, in Interaction) string {
	reply, err := r.dispatch(ctx, in)
	if err != nil {
		r.logger.Debug("interaction failed",
			zap.String("custom_id", in.CustomID),
			zap.String("channel_id", in.ChannelID),
			zap.Error(err))
		return errorutil.UserMessage(err)
	}
	return reply
}

func (r *Router) dispatch(ctx context.Context, in Interaction) (string, error) {
	actor := domain.Actor{Member: in.User, Elevated: r.elevated(ctx, in)}
	guild := domain.Guild{ID: in.GuildID}
	action := service.ActionInput{Guild: guild, Actor: actor, ChannelID: in.ChannelID}

	switch {
	case strings.HasPrefix(in.CustomID, service.ButtonCreatePrefix):
		ticketType, err := domain.ParseTicketType(strings.TrimPrefix(in.CustomID, service.ButtonCreatePrefix))
		if err != nil {
			return "", err
		}
		result, err := r.lifecycle.Create(ctx, service.CreateInput{
			Type:            ticketType,
			Guild:           guild,
			Actor:           actor,
			OriginChannelID: in.ChannelID,
		})
		if err != nil {
			return "", err
		}
		return "Ticket created: " + result.Channel.Mention(), nil
	case in.CustomID == service.ButtonClose:
		if _, err := r.lifecycle.Close(ctx, action); err != nil {
			return "", err
		}
		return "Ticket closed", nil
	case in.CustomID == service.ButtonReopen:
		if _, err := r.lifecycle.Reopen(ctx, action); err != nil {
			return "", err
		}
		return "Ticket re-opened", nil
	case in.CustomID == service.ButtonDelete:
		if _, err := r.lifecycle.Delete(ctx, action); err != nil {
			return "", err
		}
		return "Ticket deleted", nil
	}
	return "", ErrUnknownComponent
}

func (r *Router) elevated(ctx context.Context, in Interaction) bool {
	admin, err := r.transport.ResolveRole(ctx, in.GuildID, r.cfg.AdminRole)
	if err != nil {
		return false
	}
	return in.User.HasRole(admin)
}
