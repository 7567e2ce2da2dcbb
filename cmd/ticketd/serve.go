package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-lifecycle/internal/api/gateway"
	httptransport "github.com/spec-kit/ticket-lifecycle/internal/api/http"
	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/clock"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/policy"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/transport/discord"
	"github.com/spec-kit/ticket-lifecycle/internal/worker"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ticket bot, operator API and autoclose worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	if cfg.Store.RunMigrations {
		if err := rt.migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	locker := service.NewKeyedMutex()
	var limiter service.RateLimiter
	if cfg.Ticketing.CreateRateLimit > 0 {
		limiter = service.NewLocalRateLimiter(cfg.Ticketing.CreateRateLimit, cfg.Ticketing.CreateRateWindow)
	}
	if redis != nil {
		locker = service.NewRedisLocker(redis.Client, logger)
		if cfg.Ticketing.CreateRateLimit > 0 {
			limiter = service.NewRedisRateLimiter(redis.Client, cfg.Ticketing.CreateRateLimit, cfg.Ticketing.CreateRateWindow)
		}
	}

	chat, err := discord.New(cfg.Discord.Token, logger)
	if err != nil {
		return err
	}
	bot, err := chat.BotMember(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot user: %w", err)
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.AccessTokenTTLMinutes)*time.Minute)
	links := auth.NewTokenManager(cfg.Transcript.Secret, cfg.Transcript.LinkTTL)

	clk := clock.Real()
	transcripts := service.NewTranscriptService(service.TranscriptDependencies{
		Transport:    chat,
		Links:        links,
		BaseURL:      cfg.Transcript.BaseURL(),
		HistoryLimit: cfg.Ticketing.HistoryLimit,
		Clock:        clk,
		Logger:       logger,
	})
	tickets := service.NewTicketService(service.TicketDependencies{
		Store:       rt.store,
		Transport:   chat,
		Quota:       policy.NewQuota(cfg.Ticketing),
		Transcripts: transcripts,
		Dispatcher:  dispatcher,
		Locker:      locker,
		RateLimiter: limiter,
		Clock:       clk,
		Logger:      logger,
		Metrics:     metrics,
		Config:      cfg.Ticketing,
		Bot:         bot,
	})
	worker.StartAuditWorker(service.NewAuditService(service.AuditDependencies{
		Dispatcher: dispatcher,
		Store:      rt.store,
		Transport:  chat,
		Config:     cfg.Ticketing,
		Logger:     logger,
		Metrics:    metrics,
	}))
	autoclose := worker.NewAutocloseWorker(worker.AutocloseDependencies{
		Store:     rt.store,
		Transport: chat,
		Lifecycle: tickets,
		Clock:     clk,
		Config:    cfg.Autoclose,
		Logger:    logger,
		Metrics:   metrics,
	})
	gw := gateway.New(chat.Session(), gateway.NewRouter(tickets, chat, cfg.Ticketing, logger), logger)

	checks := []handlers.HealthCheck{{Name: string(rt.dialect), Pinger: pinger(rt)}}
	if redis != nil {
		checks = append(checks, handlers.HealthCheck{Name: "redis", Pinger: redis})
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks...),
		Tickets:        handlers.NewTicketsHandler(tickets, rt.store, chat),
		Archive:        handlers.NewArchiveHandler(rt.store, rt.store),
		Transcripts:    handlers.NewTranscriptsHandler(links),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Registry:       metrics.Registry,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		tickets.Shutdown()
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	g.Go(func() error { return gw.Run(gctx) })
	g.Go(func() error { return autoclose.Run(gctx) })

	return g.Wait()
}

func pinger(rt *runtime) handlers.Pinger {
	if rt.postgres != nil {
		return rt.postgres
	}
	return rt.sqlite
}
