package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/clock"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// activityScan is how many recent messages are searched for the last
// human message.
const activityScan = 50

// Lifecycle is the part of the ticket service the sweep drives.
type Lifecycle interface {
	AutoMessage(ctx context.Context, in service.ActionInput) error
	Close(ctx context.Context, in service.ActionInput) (*service.CloseResult, error)
	BotActor() domain.Actor
}

// AutocloseWorker nudges and then closes idle tickets.
type AutocloseWorker struct {
	store     repository.TicketRepository
	transport transport.Transport
	lifecycle Lifecycle
	clock     clock.Clock
	cfg       config.AutocloseConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// AutocloseDependencies bundles collaborators for the worker.
type AutocloseDependencies struct {
	Store     repository.TicketRepository
	Transport transport.Transport
	Lifecycle Lifecycle
	Clock     clock.Clock
	Config    config.AutocloseConfig
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// NewAutocloseWorker constructs the worker.
func NewAutocloseWorker(deps AutocloseDependencies) *AutocloseWorker {
	w := &AutocloseWorker{
		store:     deps.Store,
		transport: deps.Transport,
		lifecycle: deps.Lifecycle,
		clock:     deps.Clock,
		cfg:       deps.Config,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	if w.clock == nil {
		w.clock = clock.Real()
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Run sweeps every configured interval until ctx is done.
func (w *AutocloseWorker) Run(ctx context.Context) error {
	if !w.cfg.Enabled || w.cfg.Interval <= 0 {
		w.logger.Info("autoclose disabled")
		<-ctx.Done()
		return nil
	}
	ticker := w.clock.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error("autoclose sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep visits every open ticket once. A ticket idle past the threshold is
// nudged (checked 0 to 1); a nudged ticket with no reply for another
// threshold is closed; a reply after the nudge resets it to 0.
func (w *AutocloseWorker) Sweep(ctx context.Context) error {
	w.metrics.RecordSweep()
	tickets, err := w.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open tickets: %w", err)
	}
	var errs []error
	for i := range tickets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.visit(ctx, &tickets[i]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tickets[i].ChannelID, err))
		}
	}
	return errors.Join(errs...)
}

func (w *AutocloseWorker) visit(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.Checked == domain.CheckedDisabled {
		return nil
	}
	history, err := w.transport.History(ctx, ticket.ChannelID, activityScan)
	if errors.Is(err, transport.ErrNotFound) {
		w.logger.Warn("ticket channel missing", zap.String("channel_id", ticket.ChannelID))
		return nil
	}
	if err != nil {
		return err
	}

	now := w.clock.Now()
	in := service.ActionInput{
		Guild:     domain.Guild{ID: ticket.GuildID},
		Actor:     w.lifecycle.BotActor(),
		ChannelID: ticket.ChannelID,
	}

	switch ticket.Checked {
	case domain.CheckedEnabled:
		last := ticket.CreatedAt
		if human := w.lastHuman(history); human != nil {
			last = human.CreatedAt
		}
		if now.Sub(last) < w.cfg.IdleFor {
			return nil
		}
		if err := w.lifecycle.AutoMessage(ctx, in); err != nil {
			return err
		}
		w.logger.Info("idle ticket nudged", zap.String("channel_id", ticket.ChannelID))
		return w.store.UpdateCheckedState(ctx, ticket.ChannelID, domain.CheckedWarned)

	case domain.CheckedWarned:
		if len(history) > 0 && !w.isBot(history[0].Author) {
			return w.store.UpdateCheckedState(ctx, ticket.ChannelID, domain.CheckedEnabled)
		}
		last := ticket.UpdatedAt
		if len(history) > 0 {
			last = history[0].CreatedAt
		}
		if now.Sub(last) < w.cfg.IdleFor {
			return nil
		}
		_, err := w.lifecycle.Close(ctx, in)
		if errors.Is(err, domain.ErrAlreadyClosed) {
			return nil
		}
		if err == nil {
			w.logger.Info("idle ticket closed", zap.String("channel_id", ticket.ChannelID))
		}
		return err
	}
	return nil
}

func (w *AutocloseWorker) lastHuman(history []transport.Message) *transport.Message {
	for i := range history {
		if !w.isBot(history[i].Author) {
			return &history[i]
		}
	}
	return nil
}

func (w *AutocloseWorker) isBot(m domain.Member) bool {
	return m.Bot || m.ID == w.lifecycle.BotActor().ID
}

var _ Lifecycle = (*service.TicketService)(nil)
