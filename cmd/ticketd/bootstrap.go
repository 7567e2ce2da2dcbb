package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

// runtime holds the process-wide resources shared by every command.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   repository.Store
	db      *sql.DB
	dialect persistence.Dialect

	postgres *persistence.Postgres
	sqlite   *persistence.SQLite
}

func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger}
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.postgres = pg
		rt.db = pg.StdDB()
		rt.dialect = persistence.DialectPostgres
		rt.store = repository.NewPostgresStore(pg.Pool)
	default:
		lite, err := persistence.OpenSQLite(ctx, cfg.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		rt.sqlite = lite
		rt.db = lite.DB
		rt.dialect = persistence.DialectSQLite
		rt.store = repository.NewSQLiteStore(lite.DB)
	}
	return rt, nil
}

func (rt *runtime) migrate(ctx context.Context) error {
	return persistence.RunMigrations(ctx, rt.db, rt.dialect, rt.logger)
}

func (rt *runtime) Close() {
	_ = rt.store.Close()
	if rt.postgres != nil {
		_ = rt.db.Close()
		rt.postgres.Close()
	}
	if rt.sqlite != nil {
		rt.sqlite.Close()
	}
	_ = rt.logger.Sync()
}
