// Package main is the entrypoint for the service-dispatcher (binary name "dispatcher").
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/service-dispatcher/internal/config"
	"github.com/morezero/service-dispatcher/internal/server"
	"github.com/morezero/service-dispatcher/pkg/db"
)

const usage = `Usage: dispatcher [command]
       dispatcher serve              Start the dispatcher (NATS, HTTP, engine).
       dispatcher migrate up         Run database migrations.
       dispatcher migrate down       Roll back (not supported; migrations are forward-only).
       dispatcher migrate status     Show migration status.
       dispatcher ensure-db [name]   Create database if missing (default name: dispatcher_test). Uses DATABASE_URL host/user.
       dispatcher clear              Truncate the task table; schema is preserved.

Commands:
  serve           (default) Start the service dispatcher.
  migrate up      Run database migrations only.
  migrate down    Roll back last migration (not supported).
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. dispatcher_test) on same host as DATABASE_URL.
  clear           Truncate stored tasks; schema preserved.

Environment: SERVICE_RELEASE (required for serve), SERVICE_CONFIG_FILE, COMMS_URL, DATABASE_URL (optional for serve,
required for migrate/clear/ensure-db), MIGRATION_PATH, HTTP_PORT, FHIR_SERVER_URLS. See README.
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n%s", err, usage)
			os.Exit(1)
		}
		log.Fatalf("dispatcher: %v", err)
	}
}

func run(args []string, out io.Writer) error {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			return fmt.Errorf("migrate requires a subcommand (up, down, status): %w", errUsage)
		}
		switch sub := args[1]; sub {
		case "up":
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				return runMigrateUp(ctx, out, cfg, pool)
			})
		case "status":
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				return runMigrateStatus(ctx, out, cfg, pool)
			})
		case "down":
			fmt.Fprintln(out, "Migration down: not supported (migrations are forward-only). Use a database backup to roll back.")
			return nil
		default:
			return fmt.Errorf("migrate: unknown subcommand %q: %w", sub, errUsage)
		}
	case "clear":
		return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
			return db.ClearTasks(ctx, pool)
		})
	case "ensure-db":
		dbName := "dispatcher_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		return runEnsureDB(out, dbName)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	case "serve", "":
		return server.Run(server.RunParams{})
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// withPool loads config, opens a pool and runs fn against it.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.PoolParams())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp(ctx context.Context, out io.Writer, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	n, err := db.RunMigrations(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Fprintf(out, "Applied %d of %d migrations from %s.\n", n, len(migrations), cfg.MigrationPath)
	return nil
}

func runMigrateStatus(ctx context.Context, out io.Writer, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	states, err := db.MigrationStatus(ctx, pool, migrations)
	if err != nil {
		return err
	}
	printStates(out, states)
	return nil
}

func printStates(out io.Writer, states []db.MigrationState) {
	if len(states) == 0 {
		fmt.Fprintln(out, "No migration files found.")
		return
	}
	for _, st := range states {
		if st.Applied {
			fmt.Fprintf(out, "applied  %s  %s\n", st.Name, st.AppliedAt.UTC().Format(time.RFC3339))
		} else {
			fmt.Fprintf(out, "pending  %s\n", st.Name)
		}
	}
}

func runEnsureDB(out io.Writer, dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	targetURL, err := withDatabase(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Fprintf(out, "Database %q is ready.\n", dbName)
	return nil
}

// withDatabase replaces the database name in a postgres URL, keeping its query.
func withDatabase(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}
