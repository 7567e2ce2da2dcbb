package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Archive        *handlers.ArchiveHandler
	Transcripts    *handlers.TranscriptsHandler
	AuthMiddleware *auth.AuthMiddleware
	Registry       *prometheus.Registry
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}
	app.Get("/direct", cfg.Transcripts.Direct)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	api.Post("/tickets", cfg.Tickets.CreateTicket)
	api.Post("/tickets/:channel/close", cfg.Tickets.CloseTicket)

	admin := auth.RequireAdmin()
	api.Get("/tickets", admin, cfg.Tickets.ListOpen)
	api.Get("/tickets/:channel", admin, cfg.Tickets.GetTicket)
	api.Get("/tickets/:channel/audit", admin, cfg.Archive.ListAudit)
	api.Post("/tickets/:channel/reopen", admin, cfg.Tickets.ReopenTicket)
	api.Delete("/tickets/:channel", admin, cfg.Tickets.DeleteTicket)
	api.Put("/tickets/:channel/autoclose", admin, cfg.Tickets.SetAutoclose)
	api.Post("/tickets/:channel/auto-message", admin, cfg.Tickets.AutoMessage)
	api.Post("/tickets/:channel/transcript", admin, cfg.Tickets.SendTranscript)
	api.Post("/tickets/:channel/members/:user", admin, cfg.Tickets.AddMember)
	api.Delete("/tickets/:channel/members/:user", admin, cfg.Tickets.RemoveMember)
	api.Post("/panels", admin, cfg.Tickets.PostPanel)
	api.Get("/archive", admin, cfg.Archive.ListArchived)
	api.Get("/archive/:channel", admin, cfg.Archive.GetArchived)
}
