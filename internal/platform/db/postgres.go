package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxConns stays small: runs are sequential and only the log flush and the
// trigger API query the database.
const maxConns = 4

// New creates a PostgreSQL connection pool tagged with the application name.
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := PoolConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}

	return pool, nil
}

// PoolConfig parses dsn and applies the bridge's pool defaults unless the DSN
// sets them explicitly.
func PoolConfig(dsn string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = "u4bridge"
	}
	if config.MaxConns > maxConns {
		config.MaxConns = maxConns
	}
	config.MaxConnIdleTime = 5 * time.Minute
	return config, nil
}
