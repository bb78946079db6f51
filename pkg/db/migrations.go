package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migration is one forward-only SQL file.
type Migration struct {
	Name string
	SQL  string
}

// MigrationState reports whether a migration has been applied.
type MigrationState struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// LoadMigrations reads all .sql files from dir, sorted by name.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, Migration{Name: name, SQL: string(data)})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// Pending returns, in order, the migrations not present in applied.
func Pending(all []Migration, applied map[string]time.Time) []Migration {
	var out []Migration
	for _, m := range all {
		if _, ok := applied[m.Name]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// States pairs each migration with its applied time, if any.
func States(all []Migration, applied map[string]time.Time) []MigrationState {
	out := make([]MigrationState, 0, len(all))
	for _, m := range all {
		at, ok := applied[m.Name]
		out = append(out, MigrationState{Name: m.Name, Applied: ok, AppliedAt: at})
	}
	return out
}

// RunMigrations applies pending migrations, each in its own transaction, and
// returns how many ran.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (int, error) {
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return 0, err
	}
	pending := Pending(migrations, applied)
	slog.Info(fmt.Sprintf("%s - %d of %d migrations pending", migrationsLogPrefix, len(pending), len(migrations)))

	for i, m := range pending {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		})
		if err != nil {
			return i, fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %s", migrationsLogPrefix, m.Name))
	}
	return len(pending), nil
}

// MigrationStatus reports the applied state of each migration.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) ([]MigrationState, error) {
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}
	return States(migrations, applied), nil
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]time.Time, error) {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("%s - failed to create schema_migrations: %w", migrationsLogPrefix, err)
	}
	rows, err := pool.Query(ctx, `SELECT name, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read schema_migrations: %w", migrationsLogPrefix, err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at time.Time
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("%s - failed to scan schema_migrations: %w", migrationsLogPrefix, err)
		}
		applied[name] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - failed to read schema_migrations: %w", migrationsLogPrefix, err)
	}
	return applied, nil
}
