// Package database provides the PostgreSQL connection pools, migrations, and
// the request-scoped session factory that isolates database work per
// (user, request) pair.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

// Client owns the two connection pools: the general per-request pool and the
// privileged pool used only by the "system" bypass identity. Keeping them
// separate means a misbehaving request path can exhaust its own pool without
// starving internal housekeeping, and vice versa.
type Client struct {
	db       *sql.DB
	systemDB *sql.DB
}

// DB returns the general per-request connection pool.
func (c *Client) DB() *sql.DB {
	return c.db
}

// SystemDB returns the privileged system connection pool.
func (c *Client) SystemDB() *sql.DB {
	return c.systemDB
}

// Close closes both pools.
func (c *Client) Close() error {
	errDB := c.db.Close()
	errSys := c.systemDB.Close()
	if errDB != nil {
		return fmt.Errorf("closing request pool: %w", errDB)
	}
	if errSys != nil {
		return fmt.Errorf("closing system pool: %w", errSys)
	}
	return nil
}

// NewClientFromDB wraps existing pools (useful for testing).
func NewClientFromDB(db, systemDB *sql.DB) *Client {
	return &Client{db: db, systemDB: systemDB}
}

// NewClient opens both pools, verifies connectivity, and applies pending
// migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := openPool(ctx, cfg, cfg.MaxOpenConns, cfg.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open request pool: %w", err)
	}

	systemDB, err := openPool(ctx, cfg, cfg.SystemMaxOpenConns, 1)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open system pool: %w", err)
	}

	if err := runMigrations(db, cfg); err != nil {
		_ = db.Close()
		_ = systemDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{db: db, systemDB: systemDB}, nil
}

func openPool(ctx context.Context, cfg Config, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
