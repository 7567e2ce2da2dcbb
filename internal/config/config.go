package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Store      StoreConfig
	Postgres   PostgresConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Discord    DiscordConfig
	Ticketing  TicketingConfig
	Transcript TranscriptConfig
	Autoclose  AutocloseConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" envDefault:"ticket-lifecycle"`
	Env                   string `env:"APP_ENV" envDefault:"development"`
	Host                  string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port                  string `env:"APP_PORT" envDefault:"8080" validate:"required"`
	Version               string `env:"APP_VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
}

// StoreConfig selects the ticket store backend.
type StoreConfig struct {
	Driver        string `env:"STORE_DRIVER" envDefault:"sqlite" validate:"oneof=postgres sqlite"`
	RunMigrations bool   `env:"STORE_RUN_MIGRATIONS" envDefault:"true"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" envDefault:"300"`
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `env:"SQLITE_PATH" envDefault:"data/tickets.db"`
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis
// backed locking and rate limiting.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// AuthConfig defines operator API authentication parameters.
type AuthConfig struct {
	JWTSecret             string `env:"AUTH_JWT_SECRET" envDefault:"dev-secret" validate:"required"`
	AccessTokenTTLMinutes int    `env:"AUTH_ACCESS_TOKEN_TTL_MINUTES" envDefault:"60"`
}

// DiscordConfig holds chat transport credentials.
type DiscordConfig struct {
	Token string `env:"DISCORD_TOKEN"`
}

// TicketingConfig is the immutable policy configuration injected into the
// lifecycle engine and its policies.
type TicketingConfig struct {
	AdminRole         string        `env:"TICKET_ADMIN_ROLE" envDefault:"Admin" validate:"required"`
	BotsRole          string        `env:"TICKET_BOTS_ROLE" envDefault:"Bots"`
	PingRole          string        `env:"TICKET_PING_ROLE" envDefault:"Ticket Ping"`
	LogCategory       string        `env:"TICKET_LOG_CATEGORY" envDefault:"logs" validate:"required"`
	LogChannel        string        `env:"TICKET_LOG_CHANNEL" envDefault:"ticket-log" validate:"required"`
	ClosedCategory    string        `env:"TICKET_CLOSED_CATEGORY" envDefault:"Closed Tickets" validate:"required"`
	CategoryCapacity  int           `env:"TICKET_CATEGORY_CAPACITY" envDefault:"49" validate:"min=1"`
	HistoryLimit      int           `env:"TICKET_HISTORY_LIMIT" envDefault:"2000" validate:"min=1"`
	DeleteGrace       time.Duration `env:"TICKET_DELETE_GRACE" envDefault:"5s"`
	PromptTimeout     time.Duration `env:"TICKET_PROMPT_TIMEOUT" envDefault:"5s"`
	PromptMaxAttempts int           `env:"TICKET_PROMPT_MAX_ATTEMPTS" envDefault:"0" validate:"min=0"`
	CreateRateLimit   int           `env:"TICKET_CREATE_RATE_LIMIT" envDefault:"5" validate:"min=0"`
	CreateRateWindow  time.Duration `env:"TICKET_CREATE_RATE_WINDOW" envDefault:"10s"`
	OptionsFile       string        `env:"TICKET_OPTIONS_FILE"`

	Types TypeOptionsSet `env:"-"`
}

// TranscriptConfig points at the transcript viewer service.
type TranscriptConfig struct {
	Host    string        `env:"TRANSCRIPT_HOST" envDefault:"http://localhost"`
	Port    string        `env:"TRANSCRIPT_PORT" envDefault:"8080"`
	Secret  string        `env:"TRANSCRIPT_SECRET" envDefault:"dev-transcript-secret"`
	LinkTTL time.Duration `env:"TRANSCRIPT_LINK_TTL" envDefault:"720h"`
}

// AutocloseConfig controls the idle ticket sweep.
type AutocloseConfig struct {
	Enabled  bool          `env:"AUTOCLOSE_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"AUTOCLOSE_INTERVAL" envDefault:"30m"`
	IdleFor  time.Duration `env:"AUTOCLOSE_IDLE_FOR" envDefault:"24h"`
}

// Load reads configuration from the environment (and an optional .env file),
// applying defaults and validating the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	types := DefaultTypeOptions()
	if cfg.Ticketing.OptionsFile != "" {
		loaded, err := LoadTypeOptions(cfg.Ticketing.OptionsFile)
		if err != nil {
			return nil, err
		}
		types = types.Merge(loaded)
	}
	cfg.Ticketing.Types = types

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Driver == "postgres" && c.Postgres.DSN == "" {
		return errors.New("invalid config: POSTGRES_DSN required for postgres store")
	}
	return c.Ticketing.Types.Validate()
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// BaseURL returns the transcript viewer origin.
func (t TranscriptConfig) BaseURL() string {
	if t.Port == "" {
		return t.Host
	}
	return t.Host + ":" + t.Port
}
