// Package db provides the Postgres task store, connection pooling and migrations via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

const (
	defaultMaxConns int32 = 20
	defaultMinConns int32 = 2
)

// PoolParams configures NewPool. Zero connection limits use the defaults.
type PoolParams struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// NewPool creates a pgx connection pool and verifies it can reach the database.
func NewPool(ctx context.Context, params PoolParams) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := poolConfig(params)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established (max %d, min %d)", logPrefix, config.MaxConns, config.MinConns))
	return pool, nil
}

func poolConfig(params PoolParams) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(params.URL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = defaultMaxConns
	if params.MaxConns > 0 {
		config.MaxConns = params.MaxConns
	}
	config.MinConns = defaultMinConns
	if params.MinConns > 0 {
		config.MinConns = params.MinConns
	}
	if config.MinConns > config.MaxConns {
		return nil, fmt.Errorf("%s - min connections %d exceed max %d", logPrefix, config.MinConns, config.MaxConns)
	}
	return config, nil
}

// Ping verifies the pool can reach the database.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("%s - ping failed: %w", logPrefix, err)
	}
	return nil
}
