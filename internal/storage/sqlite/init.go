package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

//go:embed migrations/*.sql
var migrations embed.FS

// InitDB opens the SQLite database at path and applies the embedded migrations.
func InitDB(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// sqlite only allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{logger: logctx.LoggerFromContext(ctx).With("component", "migrations")})

	if err := goose.SetDialect(driverName); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %w", err)
	}

	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate DB: %w", err)
	}

	return nil
}

// gooseLogger routes goose output through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
