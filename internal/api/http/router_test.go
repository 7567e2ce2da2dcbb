package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httpapi "github.com/spec-kit/ticket-lifecycle/internal/api/http"
	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/transport/memory"
)

var (
	bot   = domain.Member{ID: "bot", Username: "ticketbot", Bot: true}
	alice = domain.Member{ID: "u1", Username: "alice"}
)

type apiFixture struct {
	app    *fiber.App
	tokens *auth.TokenManager
	store  repository.Store
	tr     *memory.Transport
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	db, err := persistence.OpenSQLite(ctx, config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "tickets.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, persistence.RunMigrations(ctx, db.DB, persistence.DialectSQLite, zap.NewNop()))
	store := repository.NewSQLiteStore(db.DB)

	tr := memory.New(bot)
	tr.AddRole("g1", "Admin")
	tr.AddMember("g1", bot)
	tr.AddMember("g1", alice)
	logs := tr.AddCategory("g1", "logs")
	tr.AddTextChannel("g1", logs, "ticket-log")

	tickets := service.NewTicketService(service.TicketDependencies{
		Store:     store,
		Transport: tr,
		Bot:       bot,
		Config: config.TicketingConfig{
			AdminRole:      "Admin",
			LogCategory:    "logs",
			LogChannel:     "ticket-log",
			ClosedCategory: "Closed Tickets",
			Types:          config.DefaultTypeOptions(),
		},
	})

	tokens := auth.NewTokenManager("api-secret", time.Hour)
	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httpapi.RegisterMiddlewares(app, zap.NewNop(), metrics, 5*time.Second)
	httpapi.RegisterRoutes(app, httpapi.RouteConfig{
		Health:         handlers.NewHealthHandler("ticketd", "test", handlers.HealthCheck{Name: "sqlite", Pinger: db}),
		Tickets:        handlers.NewTicketsHandler(tickets, store, tr),
		Archive:        handlers.NewArchiveHandler(store, store),
		Transcripts:    handlers.NewTranscriptsHandler(tokens),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Registry:       metrics.Registry,
	})
	return &apiFixture{app: app, tokens: tokens, store: store, tr: tr}
}

func (f *apiFixture) token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	token, _, err := f.tokens.GenerateToken(userID, "g1", admin)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, target, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp, payload
}

func errorCode(payload map[string]any) string {
	e, _ := payload["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", body["status"])

	resp, body = f.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"sqlite": "ok"}, body["dependencies"])

	resp, _ = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/tickets", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	resp, body = f.do(t, http.MethodGet, "/api/tickets", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestAdminRoutesRejectMembers(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/tickets", f.token(t, alice.ID, false), "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	resp, body = f.do(t, http.MethodGet, "/api/tickets", f.token(t, "a1", true), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["data"])
}

func TestCreateAndCloseOverAPI(t *testing.T) {
	f := newAPIFixture(t)
	member := f.token(t, alice.ID, false)

	resp, body := f.do(t, http.MethodPost, "/api/tickets", member, `{"type":"misc"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ticket := body["data"].(map[string]any)["ticket"].(map[string]any)
	assert.Equal(t, "misc-1-alice", ticket["channel_name"])
	assert.Equal(t, alice.ID, ticket["owner_id"])
	assert.Equal(t, "open", ticket["status"])
	channelID := ticket["channel_id"].(string)

	resp, body = f.do(t, http.MethodPost, "/api/tickets/"+channelID+"/close", member, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["transcript_sent"])
	assert.Equal(t, "closed", data["ticket"].(map[string]any)["status"])

	resp, body = f.do(t, http.MethodPost, "/api/tickets/"+channelID+"/close", member, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_CLOSED", errorCode(body))

	admin := f.token(t, "a1", true)
	resp, body = f.do(t, http.MethodGet, "/api/tickets/"+channelID+"/audit", admin, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["data"])

	resp, body = f.do(t, http.MethodDelete, "/api/tickets/"+channelID, admin, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["data"].(map[string]any)["archived_at"])

	resp, body = f.do(t, http.MethodGet, "/api/archive", admin, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	f := newAPIFixture(t)
	member := f.token(t, alice.ID, false)

	resp, body := f.do(t, http.MethodPost, "/api/tickets", member, `{"type":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "oneof", details["Type"])

	resp, body = f.do(t, http.MethodPost, "/api/tickets", member, `{"type":"misc","requester_id":"u7"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(body))
}

func TestCloseUnknownChannel(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/tickets/nope/close", f.token(t, alice.ID, false), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_A_TICKET", errorCode(body))
}

func TestDirectRedirectsSignedLinks(t *testing.T) {
	f := newAPIFixture(t)
	signed, err := f.tokens.SignTranscriptLink("c1", "https://cdn.example/t.html", "abc123")
	require.NoError(t, err)

	resp, _ := f.do(t, http.MethodGet, "/direct?token="+url.QueryEscape(signed), "", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://cdn.example/t.html", resp.Header.Get("Location"))
	assert.Equal(t, "abc123", resp.Header.Get("X-Transcript-Digest"))

	resp, body := f.do(t, http.MethodGet, "/direct?token=bogus", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	resp, body = f.do(t, http.MethodGet, "/direct", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}
