// Package postgres connects the record store to Postgres through pgxpool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/housedata-crawler/internal/store"
)

const primaryKeyQuery = `
SELECT a.attname
FROM pg_index i
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = $1::regclass AND i.indisprimary
ORDER BY array_position(i.indkey, a.attnum)`

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Conn adapts a pgx pool to store.Conn.
type Conn struct {
	pool pool
}

// Connector returns a store.Connector that opens a pool for cfg.
func Connector(cfg PoolConfig) store.Connector {
	return func(ctx context.Context) (store.Conn, error) {
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			poolCfg.MinConns = cfg.MinConns
		}
		if cfg.MaxConnLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
		}
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewConn(p), nil
	}
}

// NewConn wraps an existing pool (primarily for testing).
func NewConn(p pool) *Conn {
	return &Conn{pool: p}
}

// Dialect implements store.Conn.
func (c *Conn) Dialect() store.Dialect {
	return store.Postgres
}

// Exec implements store.Conn.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres exec: %w", err)
	}
	return nil
}

// Begin implements store.Conn.
func (c *Conn) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Ping implements store.Conn.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Close implements store.Conn.
func (c *Conn) Close() error {
	c.pool.Close()
	return nil
}

// PrimaryKey returns the primary key columns of table in key order.
func (c *Conn) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	rows, err := c.pool.Query(ctx, primaryKeyQuery, table)
	if err != nil {
		return nil, fmt.Errorf("query primary key: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan primary key: %w", err)
	}
	return keys, nil
}

// Tx adapts pgx.Tx to store.Tx.
type Tx struct {
	tx pgx.Tx
}

// Exec implements store.Tx.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres exec: %w", err)
	}
	return nil
}

// Commit implements store.Tx.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

// Rollback implements store.Tx.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("postgres rollback: %w", err)
	}
	return nil
}

var (
	_ store.Conn        = (*Conn)(nil)
	_ store.KeyResolver = (*Conn)(nil)
)
