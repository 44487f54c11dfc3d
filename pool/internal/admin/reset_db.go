package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/malbeclabs/revpool/pool/pkg/clickhouse"
)

// ResetConfig controls ResetClickHouse.
type ResetConfig struct {
	DryRun      bool
	SkipConfirm bool
	In          io.Reader
	Out         io.Writer
}

// ResetClickHouse drops the round history tables, including goose's version
// table, so the next migrate starts from scratch. It returns the dropped
// table names.
func ResetClickHouse(ctx context.Context, log *slog.Logger, client clickhouse.Client, database string, cfg ResetConfig) ([]string, error) {
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.In == nil {
		cfg.In = strings.NewReader("")
	}

	conn, err := client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND (name LIKE 'round_%' OR name = 'goose_db_version')
		ORDER BY name
	`, database)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(tables) == 0 {
		fmt.Fprintln(cfg.Out, "No round history tables found")
		return nil, nil
	}

	fmt.Fprintf(cfg.Out, "WARNING: This will DROP %d table(s) from database '%s':\n\n", len(tables), database)
	for _, t := range tables {
		fmt.Fprintf(cfg.Out, "  - %s\n", t)
	}

	if cfg.DryRun {
		fmt.Fprintln(cfg.Out, "\n[DRY RUN] Would drop the above tables")
		return nil, nil
	}

	if !cfg.SkipConfirm {
		fmt.Fprintf(cfg.Out, "\nThis is a DESTRUCTIVE operation that cannot be undone!\n")
		fmt.Fprintf(cfg.Out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(cfg.In).ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(cfg.Out, "\nConfirmation failed. Operation cancelled.\n")
			return nil, nil
		}
		fmt.Fprintln(cfg.Out)
	}

	for _, t := range tables {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", database, t)); err != nil {
			return nil, fmt.Errorf("failed to drop table %s: %w", t, err)
		}
		log.Debug("dropped table", "table", t)
		fmt.Fprintf(cfg.Out, "  ✓ Dropped %s\n", t)
	}

	fmt.Fprintf(cfg.Out, "\nSuccessfully dropped %d table(s)\n", len(tables))
	return tables, nil
}
