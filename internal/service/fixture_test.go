package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/clock"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/transport/memory"
)

const guildID = "g1"

var (
	botMember = domain.Member{ID: "bot", Username: "ticketbot", Bot: true}
	alice     = domain.Member{ID: "u1", Username: "alice"}
	bob       = domain.Member{ID: "u2", Username: "bob"}
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *TicketService
	tr    *memory.Transport
	store repository.Store
	db    *sql.DB
	clock *clock.FakeClock
	cfg   config.TicketingConfig
	guild domain.Guild

	adminRole  string
	botsRole   string
	pingRole   string
	logChannel string
	root       domain.Member

	mu     sync.Mutex
	events []events.Event
}

type fixtureSetup struct {
	deps    *TicketDependencies
	withLog bool
}

type fixtureOption func(*fixtureSetup)

func withConfig(fn func(*config.TicketingConfig)) fixtureOption {
	return func(s *fixtureSetup) { fn(&s.deps.Config) }
}

func withoutLog() fixtureOption {
	return func(s *fixtureSetup) { s.withLog = false }
}

func withDeps(fn func(*TicketDependencies)) fixtureOption {
	return func(s *fixtureSetup) { fn(s.deps) }
}

func testTicketingConfig() config.TicketingConfig {
	return config.TicketingConfig{
		AdminRole:        "Admin",
		BotsRole:         "Bots",
		PingRole:         "Ticket Ping",
		LogCategory:      "logs",
		LogChannel:       "ticket-log",
		ClosedCategory:   "Closed Tickets",
		CategoryCapacity: 49,
		HistoryLimit:     2000,
		DeleteGrace:      0,
		PromptTimeout:    5 * time.Second,
		Types:            config.DefaultTypeOptions(),
	}
}

func openTestStore(t *testing.T) (repository.Store, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	sqlite, err := persistence.OpenSQLite(ctx, config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "tickets.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(sqlite.Close)
	require.NoError(t, persistence.RunMigrations(ctx, sqlite.DB, persistence.DialectSQLite, zap.NewNop()))
	return repository.NewSQLiteStore(sqlite.DB), sqlite.DB
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	store, db := openTestStore(t)
	fake := clock.Fake(time.Now())

	tr := memory.New(botMember)
	tr.SetClock(fake.Now)

	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		tr:    tr,
		store: store,
		db:    db,
		clock: fake,
		guild: domain.Guild{ID: guildID},
	}
	f.adminRole = tr.AddRole(guildID, "Admin")
	f.botsRole = tr.AddRole(guildID, "Bots")
	f.pingRole = tr.AddRole(guildID, "Ticket Ping")
	f.root = domain.Member{ID: "a1", Username: "root", RoleIDs: []string{f.adminRole}}
	for _, m := range []domain.Member{botMember, alice, bob, f.root} {
		tr.AddMember(guildID, m)
	}

	dispatcher := events.NewInMemoryDispatcher()
	for _, et := range events.AllEventTypes {
		dispatcher.Subscribe(et, func(ctx context.Context, e events.Event) error {
			f.mu.Lock()
			f.events = append(f.events, e)
			f.mu.Unlock()
			return nil
		})
	}

	deps := TicketDependencies{
		Store:      store,
		Transport:  tr,
		Dispatcher: dispatcher,
		Clock:      fake,
		Config:     testTicketingConfig(),
		Bot:        botMember,
	}
	setup := &fixtureSetup{deps: &deps, withLog: true}
	for _, opt := range opts {
		opt(setup)
	}
	if setup.withLog {
		logCategory := tr.AddCategory(guildID, deps.Config.LogCategory)
		f.logChannel = tr.AddTextChannel(guildID, logCategory, deps.Config.LogChannel)
	}
	f.cfg = deps.Config
	f.svc = NewTicketService(deps)
	return f
}

func (f *fixture) user(m domain.Member) domain.Actor {
	return domain.Actor{Member: m}
}

func (f *fixture) admin() domain.Actor {
	return domain.Actor{Member: f.root, Elevated: true}
}

func (f *fixture) action(actor domain.Actor, channelID string) ActionInput {
	return ActionInput{Guild: f.guild, Actor: actor, ChannelID: channelID}
}

// open creates a ticket of the given type for m and fails the test on error.
func (f *fixture) open(ticketType domain.TicketType, m domain.Member) *CreateResult {
	f.t.Helper()
	result, err := f.svc.Create(f.ctx, CreateInput{Type: ticketType, Guild: f.guild, Actor: f.user(m)})
	require.NoError(f.t, err)
	require.NotNil(f.t, result.Channel)
	return result
}

func (f *fixture) addChallenge(id int, title, category string) {
	f.t.Helper()
	_, err := f.db.Exec(`INSERT INTO challenges (id, title, author, category) VALUES (?, ?, 'author', ?)`, id, title, category)
	require.NoError(f.t, err)
}

func (f *fixture) eventTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func (f *fixture) ticket(channelID string) *domain.Ticket {
	f.t.Helper()
	ticket, err := f.store.Get(f.ctx, channelID)
	require.NoError(f.t, err)
	return ticket
}
