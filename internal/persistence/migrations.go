package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/persistence/migrations"
)

// Dialect names a supported goose dialect.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

func migrationSource(dialect Dialect) (fs.FS, string, error) {
	switch dialect {
	case DialectPostgres:
		return migrations.Postgres, "postgres", nil
	case DialectSQLite:
		return migrations.SQLite, "sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported migration dialect %q", dialect)
	}
}

func prepareGoose(dialect Dialect) (string, error) {
	fsys, dir, err := migrationSource(dialect)
	if err != nil {
		return "", err
	}
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(string(dialect)); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	return dir, nil
}

// RunMigrations applies all pending embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) error {
	dir, err := prepareGoose(dialect)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.Info("migrations applied", zap.String("dialect", string(dialect)), zap.Int64("version", version))
	return nil
}

// MigrationStatus logs the applied state of every embedded migration.
func MigrationStatus(ctx context.Context, db *sql.DB, dialect Dialect) error {
	dir, err := prepareGoose(dialect)
	if err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, dir)
}

// StdDB exposes a pgx pool through database/sql for goose.
func (p *Postgres) StdDB() *sql.DB {
	return stdlib.OpenDBFromPool(p.Pool)
}
