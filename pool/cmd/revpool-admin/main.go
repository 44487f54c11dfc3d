package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/revpool/pool/internal/admin"
	"github.com/malbeclabs/revpool/pool/pkg/clickhouse"
	"github.com/malbeclabs/revpool/pool/pkg/export"
	"github.com/malbeclabs/revpool/pool/pkg/store"
	"github.com/malbeclabs/revpool/utils/pkg/flagenv"
	"github.com/malbeclabs/revpool/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// PostgreSQL configuration
	postgresHostFlag := flag.String("postgres-host", "", "PostgreSQL host (or set POSTGRES_HOST env var)")
	postgresPortFlag := flag.String("postgres-port", "5432", "PostgreSQL port")
	postgresDatabaseFlag := flag.String("postgres-database", "revpool", "PostgreSQL database")
	postgresUsernameFlag := flag.String("postgres-username", "revpool", "PostgreSQL username")
	postgresPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	postgresSSLModeFlag := flag.String("postgres-sslmode", "disable", "PostgreSQL sslmode")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", clickhouse.DefaultDatabase, "ClickHouse database name")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud")

	// S3 configuration
	s3BucketFlag := flag.String("s3-bucket", "", "S3 bucket for round archives")
	s3PrefixFlag := flag.String("s3-prefix", "revpool/rounds", "S3 key prefix")
	s3RegionFlag := flag.String("s3-region", "", "S3 region")
	s3EndpointFlag := flag.String("s3-endpoint", "", "custom endpoint for S3-compatible stores")
	s3PathStyleFlag := flag.Bool("s3-path-style", false, "use path-style S3 addressing")

	// Commands
	pgMigrateFlag := flag.Bool("postgres-migrate", false, "Run PostgreSQL migrations")
	pgMigrateDownFlag := flag.Bool("postgres-migrate-down", false, "Roll back the last PostgreSQL migration")
	pgMigrateStatusFlag := flag.Bool("postgres-migrate-status", false, "Show PostgreSQL migration status")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse migrations")
	clickhouseMigrateDownFlag := flag.Bool("clickhouse-migrate-down", false, "Roll back the last ClickHouse migration")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show the applied ClickHouse migration version")
	resetDBFlag := flag.Bool("reset-db", false, "Drop the ClickHouse round history tables")
	backfillHistoryFlag := flag.Bool("backfill-history", false, "Rewrite persisted round history to the configured sinks")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	// Backfill options
	fromRoundFlag := flag.Uint64("from-round", 0, "First round to backfill")
	batchSizeFlag := flag.Int("batch-size", 100, "Rounds per sink write during backfill")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	flag.Parse()
	if err := flagenv.Apply(flag.CommandLine); err != nil {
		return err
	}

	log := logger.New(*verboseFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgCfg := store.PgConfig{
		Host:     *postgresHostFlag,
		Port:     *postgresPortFlag,
		Database: *postgresDatabaseFlag,
		Username: *postgresUsernameFlag,
		Password: *postgresPasswordFlag,
		SSLMode:  *postgresSSLModeFlag,
	}
	chCfg := clickhouse.Config{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}
	requirePostgres := func(cmd string) error {
		if *postgresHostFlag == "" {
			return fmt.Errorf("--postgres-host is required for --%s", cmd)
		}
		return nil
	}
	requireClickHouse := func(cmd string) error {
		if *clickhouseAddrFlag == "" {
			return fmt.Errorf("--clickhouse-addr is required for --%s", cmd)
		}
		return nil
	}

	// Execute commands
	switch {
	case *pgMigrateFlag:
		if err := requirePostgres("postgres-migrate"); err != nil {
			return err
		}
		return admin.PgMigrateUp(ctx, log, pgCfg)

	case *pgMigrateDownFlag:
		if err := requirePostgres("postgres-migrate-down"); err != nil {
			return err
		}
		return admin.PgMigrateDown(ctx, log, pgCfg)

	case *pgMigrateStatusFlag:
		if err := requirePostgres("postgres-migrate-status"); err != nil {
			return err
		}
		return admin.PgMigrateStatus(ctx, os.Stdout, pgCfg)

	case *clickhouseMigrateFlag:
		if err := requireClickHouse("clickhouse-migrate"); err != nil {
			return err
		}
		return clickhouse.Up(ctx, log, chCfg)

	case *clickhouseMigrateDownFlag:
		if err := requireClickHouse("clickhouse-migrate-down"); err != nil {
			return err
		}
		return clickhouse.Down(ctx, log, chCfg)

	case *clickhouseMigrateStatusFlag:
		if err := requireClickHouse("clickhouse-migrate-status"); err != nil {
			return err
		}
		v, err := clickhouse.Version(ctx, log, chCfg)
		if err != nil {
			return err
		}
		fmt.Printf("ClickHouse migration version: %d\n", v)
		return nil

	case *resetDBFlag:
		if err := requireClickHouse("reset-db"); err != nil {
			return err
		}
		client, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer client.Close()
		_, err = admin.ResetClickHouse(ctx, log, client, chCfg.Database, admin.ResetConfig{
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
		return err

	case *backfillHistoryFlag:
		if err := requirePostgres("backfill-history"); err != nil {
			return err
		}
		pgPool, err := store.Connect(ctx, log, pgCfg)
		if err != nil {
			return err
		}
		defer pgPool.Close()
		st, err := store.New(store.Config{Logger: log, Pool: pgPool})
		if err != nil {
			return err
		}

		var sinks []export.Sink
		if *clickhouseAddrFlag != "" {
			client, err := clickhouse.NewClient(ctx, log, chCfg)
			if err != nil {
				return fmt.Errorf("failed to connect to ClickHouse: %w", err)
			}
			defer client.Close()
			sink, err := export.NewClickHouseSink(export.ClickHouseSinkConfig{ClickHouse: client})
			if err != nil {
				return err
			}
			sinks = append(sinks, sink)
		}
		if *s3BucketFlag != "" {
			client, err := export.NewS3Client(ctx, export.S3ClientConfig{
				Region:       *s3RegionFlag,
				Endpoint:     *s3EndpointFlag,
				UsePathStyle: *s3PathStyleFlag,
			})
			if err != nil {
				return err
			}
			sink, err := export.NewS3Sink(export.S3SinkConfig{Client: client, Bucket: *s3BucketFlag, Prefix: *s3PrefixFlag})
			if err != nil {
				return err
			}
			sinks = append(sinks, sink)
		}
		if len(sinks) == 0 {
			return errors.New("--backfill-history needs --clickhouse-addr or --s3-bucket")
		}

		_, err = admin.BackfillHistory(ctx, admin.BackfillHistoryConfig{
			Logger:    log,
			Snapshots: st,
			Sinks:     sinks,
			Cursors:   st,
			FromRound: *fromRoundFlag,
			BatchSize: *batchSizeFlag,
			DryRun:    *dryRunFlag,
			Out:       os.Stdout,
		})
		return err
	}

	flag.Usage()
	return nil
}
