package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/clock"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/policy"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// Component routing IDs understood by the gateway.
const (
	ButtonCreatePrefix = "ticketing:create:"
	ButtonClose        = "ticketing:close"
	ButtonReopen       = "ticketing:reopen"
	ButtonDelete       = "ticketing:delete"
)

// TicketService drives the ticket lifecycle: create, close, reopen and
// delete, plus membership and autoclose management.
type TicketService struct {
	store       repository.Store
	transport   transport.Transport
	quota       *policy.Quota
	transcripts *TranscriptService
	dispatcher  events.Dispatcher
	locker      ChannelLocker
	limiter     RateLimiter
	clock       clock.Clock
	logger      *zap.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
	cfg         config.TicketingConfig
	bot         domain.Member
	selections  *selectionRegistry
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store       repository.Store
	Transport   transport.Transport
	Quota       *policy.Quota
	Transcripts *TranscriptService
	Dispatcher  events.Dispatcher
	Locker      ChannelLocker
	RateLimiter RateLimiter
	Clock       clock.Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Config      config.TicketingConfig
	// Bot is the member the service acts as for automated actions.
	Bot domain.Member
}

// CreateInput describes a ticket creation request. Requester is honoured
// only for elevated actors; everyone else opens tickets for themselves.
type CreateInput struct {
	Type            domain.TicketType
	Guild           domain.Guild
	Actor           domain.Actor
	Requester       *domain.Member
	OriginChannelID string
}

// CreateResult is the outcome of a successful Create.
type CreateResult struct {
	Ticket    *domain.Ticket
	Channel   *transport.Channel
	Challenge *domain.Challenge
}

// ActionInput targets an existing ticket channel.
type ActionInput struct {
	Guild     domain.Guild
	Actor     domain.Actor
	ChannelID string
}

// CloseResult summarises a completed close.
type CloseResult struct {
	Ticket         *domain.Ticket
	TranscriptSent bool
	ViewerURL      string
	Participants   []domain.Member
	MessageCount   int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	s := &TicketService{
		store:       deps.Store,
		transport:   deps.Transport,
		quota:       deps.Quota,
		transcripts: deps.Transcripts,
		dispatcher:  deps.Dispatcher,
		locker:      deps.Locker,
		limiter:     deps.RateLimiter,
		clock:       deps.Clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		tracer:      observability.Tracer(),
		cfg:         deps.Config,
		bot:         deps.Bot,
		selections:  newSelectionRegistry(),
	}
	if s.quota == nil {
		s.quota = policy.NewQuota(deps.Config)
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.transcripts == nil {
		s.transcripts = NewTranscriptService(TranscriptDependencies{
			Transport:    deps.Transport,
			HistoryLimit: deps.Config.HistoryLimit,
			Clock:        s.clock,
			Logger:       s.logger,
		})
	}
	return s
}

// Shutdown abandons every pending challenge selection. Tickets created
// afterwards are left without a welcome.
func (s *TicketService) Shutdown() {
	s.selections.stopAll()
}

// BotActor returns the elevated actor used for automated actions.
func (s *TicketService) BotActor() domain.Actor {
	return domain.Actor{Member: s.bot, Elevated: true}
}

// run wraps one lifecycle action with tracing, metrics and an audit log line.
func (s *TicketService) run(ctx context.Context, action, guildID, channelID string, actor domain.Actor, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "ticket."+action, trace.WithAttributes(
		attribute.String("ticket.action", action),
		attribute.String("ticket.guild_id", guildID),
		attribute.String("ticket.channel_id", channelID),
		attribute.String("ticket.actor_id", actor.ID),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	outcome := outcomeOf(err)
	s.metrics.RecordAction(action, outcome, time.Since(start))

	fields := []zap.Field{
		zap.String("action", action),
		zap.String("outcome", outcome),
		zap.String("guild_id", guildID),
		zap.String("channel_id", channelID),
		zap.String("actor_id", actor.ID),
	}
	switch outcome {
	case "error":
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("ticket action failed", append(fields, zap.Error(err))...)
	case "ok":
		s.logger.Info("ticket action", fields...)
	default:
		s.logger.Info("ticket action rejected", append(fields, zap.Error(err))...)
	}
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAlreadyClosed), errors.Is(err, domain.ErrAlreadyOpen):
		return "noop"
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrMaxUserTickets),
		errors.Is(err, domain.ErrMaxChannelTickets),
		errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrNotATicket),
		errors.Is(err, domain.ErrInvalidTicketType),
		errors.Is(err, domain.ErrBotRequester),
		errors.Is(err, domain.ErrAlreadyMember),
		errors.Is(err, domain.ErrNotMember),
		errors.Is(err, domain.ErrTargetIsAdmin):
		return "denied"
	default:
		return "error"
	}
}

// lockChannel serializes actions on one ticket channel.
func (s *TicketService) lockChannel(ctx context.Context, channelID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, "channel:"+channelID)
	if err != nil {
		return nil, fmt.Errorf("lock channel: %w", err)
	}
	return unlock, nil
}

// loadTicket fetches the ticket and checks the actor may act on it.
// ownerAllowed lets the ticket owner through without elevation.
func (s *TicketService) loadTicket(ctx context.Context, in ActionInput, ownerAllowed bool) (*domain.Ticket, error) {
	ticket, err := s.store.Get(ctx, in.ChannelID)
	if err != nil {
		return nil, err
	}
	if in.Actor.Elevated {
		return ticket, nil
	}
	if ownerAllowed && in.Actor.ID == ticket.UserID {
		return ticket, nil
	}
	return nil, domain.ErrForbidden
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed",
			zap.String("event", string(event.Type)),
			zap.String("channel_id", event.ChannelID),
			zap.Error(err))
	}
}

func eventActor(actor domain.Actor) events.Actor {
	return events.Actor{
		UserID:   actor.ID,
		Username: actor.Label(),
		Elevated: actor.Elevated,
	}
}

// ownerOf resolves the ticket owner. When the owner has left the guild it
// returns a bare handle and false.
func (s *TicketService) ownerOf(ctx context.Context, ticket *domain.Ticket) (domain.Member, bool) {
	m, err := s.transport.Member(ctx, ticket.GuildID, ticket.UserID)
	if err != nil {
		s.logger.Debug("owner not resolved", zap.String("user_id", ticket.UserID), zap.Error(err))
		return domain.Member{ID: ticket.UserID}, false
	}
	return *m, true
}

type roleSet struct {
	Admin string
	Bots  string
	Ping  string
}

// resolveRoles looks up the configured roles. Only the admin role is
// required.
func (s *TicketService) resolveRoles(ctx context.Context, guildID string) (roleSet, error) {
	var roles roleSet
	admin, err := s.transport.ResolveRole(ctx, guildID, s.cfg.AdminRole)
	if err != nil {
		return roles, fmt.Errorf("resolve %s role: %w", s.cfg.AdminRole, err)
	}
	roles.Admin = admin
	roles.Bots = s.optionalRole(ctx, guildID, s.cfg.BotsRole)
	roles.Ping = s.optionalRole(ctx, guildID, s.cfg.PingRole)
	return roles, nil
}

func (s *TicketService) optionalRole(ctx context.Context, guildID, name string) string {
	if name == "" {
		return ""
	}
	id, err := s.transport.ResolveRole(ctx, guildID, name)
	if err != nil {
		s.logger.Debug("optional role not resolved", zap.String("role", name), zap.Error(err))
		return ""
	}
	return id
}

// LogChannel finds the ticket log channel, failing with a MissingLogError
// naming the absent piece.
func LogChannel(ctx context.Context, t transport.Transport, cfg config.TicketingConfig, guildID string) (*transport.Channel, error) {
	cat, err := t.FindCategory(ctx, guildID, cfg.LogCategory)
	if errors.Is(err, transport.ErrNotFound) {
		return nil, &domain.MissingLogError{What: cfg.LogCategory + " category"}
	}
	if err != nil {
		return nil, fmt.Errorf("find log category: %w", err)
	}
	ch, err := t.FindTextChannel(ctx, guildID, cat.ID, cfg.LogChannel)
	if errors.Is(err, transport.ErrNotFound) {
		return nil, &domain.MissingLogError{What: cfg.LogChannel + " channel"}
	}
	if err != nil {
		return nil, fmt.Errorf("find log channel: %w", err)
	}
	return ch, nil
}

func (s *TicketService) notice(ctx context.Context, channelID string, embed transport.Embed, buttons ...transport.Button) error {
	_, err := s.transport.SendMessage(ctx, channelID, transport.OutgoingMessage{
		Embeds:  []transport.Embed{embed},
		Buttons: buttons,
	})
	return err
}

func closeButton() transport.Button {
	return transport.Button{CustomID: ButtonClose, Label: "Close", Emoji: "🔒", Style: transport.ButtonDanger}
}

// selectionRegistry tracks in-flight challenge selections so that closing
// or deleting a ticket can abandon them.
type selectionRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	stopped bool
}

func newSelectionRegistry() *selectionRegistry {
	return &selectionRegistry{cancels: make(map[string]context.CancelFunc)}
}

// start derives the context for the rest of a ticket's creation. It keeps
// parent's values but not its deadline: it ends only through cancel,
// stopAll or the returned done func.
func (r *selectionRegistry) start(parent context.Context, channelID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	r.mu.Lock()
	if r.stopped {
		cancel()
	} else {
		r.cancels[channelID] = cancel
	}
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.cancels, channelID)
		r.mu.Unlock()
		cancel()
	}
}

func (r *selectionRegistry) cancel(channelID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[channelID]
	delete(r.cancels, channelID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *selectionRegistry) stopAll() {
	r.mu.Lock()
	r.stopped = true
	cancels := r.cancels
	r.cancels = make(map[string]context.CancelFunc)
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
