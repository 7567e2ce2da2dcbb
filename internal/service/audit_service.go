package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

var auditColors = map[events.EventType]int{
	events.EventTicketCreated:       welcomeColor,
	events.EventTicketClosed:        closedColor,
	events.EventTicketReopened:      reopenedColor,
	events.EventTicketDeleted:       deletingColor,
	events.EventTicketMemberAdded:   memberAddedColor,
	events.EventTicketMemberRemoved: memberRemovedColor,
}

// AuditService records lifecycle events in the audit table, the ticket
// log channel and the service log.
type AuditService struct {
	dispatcher events.Dispatcher
	store      repository.AuditRepository
	transport  transport.Transport
	cfg        config.TicketingConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// AuditDependencies bundles collaborators for the audit service.
type AuditDependencies struct {
	Dispatcher events.Dispatcher
	Store      repository.AuditRepository
	Transport  transport.Transport
	Config     config.TicketingConfig
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewAuditService creates the service.
func NewAuditService(deps AuditDependencies) *AuditService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		transport:  deps.Transport,
		cfg:        deps.Config,
		logger:     logger,
		metrics:    deps.Metrics,
	}
}

// RegisterHandlers subscribes to every lifecycle event.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, t := range events.AllEventTypes {
		a.dispatcher.Subscribe(t, a.handle)
	}
}

func (a *AuditService) handle(ctx context.Context, event events.Event) error {
	action := event.Type.AuditAction()
	a.metrics.RecordEvent(string(event.Type))
	a.logger.Info(fmt.Sprintf("[%s] %s by %s", action, event.ChannelName, event.Actor.Username),
		zap.String("event_id", event.ID),
		zap.String("channel_id", event.ChannelID),
		zap.String("guild_id", event.GuildID),
		zap.String("actor_id", event.Actor.UserID),
		zap.Any("payload", event.Payload))

	var errs []error
	if a.store != nil {
		entry := &domain.AuditEntry{
			ChannelID: event.ChannelID,
			GuildID:   event.GuildID,
			ActorID:   event.Actor.UserID,
			Action:    action,
			Detail:    payloadDetail(event.Payload),
		}
		if err := a.store.RecordAudit(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("record audit: %w", err))
		}
	}
	if a.transport != nil {
		if err := a.postToLog(ctx, event, action); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *AuditService) postToLog(ctx context.Context, event events.Event, action domain.AuditAction) error {
	logChannel, err := LogChannel(ctx, a.transport, a.cfg, event.GuildID)
	var missing *domain.MissingLogError
	if errors.As(err, &missing) {
		a.logger.Debug("no ticket log channel", zap.String("guild_id", event.GuildID), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = a.transport.SendMessage(ctx, logChannel.ID, transport.OutgoingMessage{
		Embeds: []transport.Embed{{
			Title:       fmt.Sprintf("[%s] %s", action, event.ChannelName),
			Description: fmt.Sprintf("by <@%s>", event.Actor.UserID),
			Color:       auditColors[event.Type],
			Footer:      event.ChannelID,
			Timestamp:   event.Timestamp,
		}},
	})
	if err != nil {
		return fmt.Errorf("post audit log: %w", err)
	}
	return nil
}

// payloadDetail flattens an event payload into the audit detail map.
func payloadDetail(payload any) map[string]any {
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var detail map[string]any
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil
	}
	return detail
}
