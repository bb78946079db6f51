package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const ensureLogPrefix = "db:ensure"

// safeDBName matches allowed database names (alphanumeric and underscore only).
var safeDBName = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// target is the database named by a URL and the maintenance URL used to create it.
type target struct {
	name     string
	adminURL string
}

func parseTarget(databaseURL string) (target, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return target{}, fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	name := strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	if name == "" {
		return target{}, fmt.Errorf("%s - database name empty in URL", ensureLogPrefix)
	}
	if !safeDBName.MatchString(name) {
		return target{}, fmt.Errorf("%s - database name %q contains invalid characters", ensureLogPrefix, name)
	}
	admin := *u
	admin.Path = "/postgres"
	return target{name: name, adminURL: admin.String()}, nil
}

// EnsureDatabase creates the database named in databaseURL when missing and
// checks it accepts connections. Call before NewPool.
func EnsureDatabase(ctx context.Context, databaseURL string) error {
	tg, err := parseTarget(databaseURL)
	if err != nil {
		return err
	}
	if err := createIfMissing(ctx, tg); err != nil {
		return err
	}

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to %q: %w", ensureLogPrefix, tg.name, err)
	}
	defer conn.Close(ctx)
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("%s - ping %q failed: %w", ensureLogPrefix, tg.name, err)
	}
	slog.Info(fmt.Sprintf("%s - Database %s ready", ensureLogPrefix, tg.name))
	return nil
}

func createIfMissing(ctx context.Context, tg target) error {
	config, err := pgx.ParseConfig(tg.adminURL)
	if err != nil {
		return fmt.Errorf("%s - failed to parse postgres URL: %w", ensureLogPrefix, err)
	}
	config.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to postgres: %w", ensureLogPrefix, err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, tg.name).Scan(&exists); err != nil {
		return fmt.Errorf("%s - failed to check database: %w", ensureLogPrefix, err)
	}
	if exists {
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Creating database %q", ensureLogPrefix, tg.name))
	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{tg.name}.Sanitize()); err != nil {
		return fmt.Errorf("%s - CREATE DATABASE failed: %w", ensureLogPrefix, err)
	}
	return nil
}
