package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearTasks removes every stored task. The schema is preserved and the id
// sequence restarts.
func ClearTasks(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing task table", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE tasks RESTART IDENTITY CASCADE`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Task table cleared", clearLogPrefix))
	return nil
}
