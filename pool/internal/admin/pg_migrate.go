package admin

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/revpool/pool/pkg/store"
)

// PgMigrateUp runs all pending PostgreSQL migrations
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg store.PgConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return store.RunMigrations(ctx, log, cfg.ConnString())
}

// PgMigrateDown rolls back the last PostgreSQL migration
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg store.PgConfig) error {
	provider, db, err := openPgProvider(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	log.Info("rolling back PostgreSQL migration (down)")
	res, err := provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	log.Info("PostgreSQL migration rollback completed", "version", res.Source.Version)
	return nil
}

// PgMigrateStatus prints the state of every PostgreSQL migration to out.
func PgMigrateStatus(ctx context.Context, out io.Writer, cfg store.PgConfig) error {
	provider, db, err := openPgProvider(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	statuses, err := provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintln(out, "PostgreSQL migrations:")
	for _, s := range statuses {
		applied := "pending"
		if s.State == goose.StateApplied {
			applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "  %05d  %-22s %s\n", s.Source.Version, applied, s.Source.Path)
	}
	return nil
}

func openPgProvider(cfg store.PgConfig) (*goose.Provider, *sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("pgx", cfg.ConnString())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	migrations, err := fs.Sub(store.EmbedMigrations, "migrations")
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	return provider, db, nil
}
