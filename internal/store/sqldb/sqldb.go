// Package sqldb connects the record store to database/sql drivers: MySQL for
// production tables and SQLite for local runs.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/housedata-crawler/internal/store"
)

// MySQLConfig addresses a MySQL server.
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// DSN renders cfg as a go-sql-driver/mysql data source name.
func (c MySQLConfig) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	port := c.Port
	if port == 0 {
		port = 3306
	}
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.Timeout = c.Timeout
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// MySQLConnector opens a MySQL connection pool.
func MySQLConnector(cfg MySQLConfig) store.Connector {
	return func(context.Context) (store.Conn, error) {
		if cfg.Host == "" {
			return nil, fmt.Errorf("mysql host is required")
		}
		db, err := sql.Open("mysql", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return NewConn(db, store.MySQL), nil
	}
}

// SQLiteConnector opens the SQLite database at path, creating it if needed.
func SQLiteConnector(path string) store.Connector {
	return func(ctx context.Context) (store.Conn, error) {
		if path == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 30000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
		return NewConn(db, store.SQLite), nil
	}
}

// Conn adapts *sql.DB to store.Conn.
type Conn struct {
	db      *sql.DB
	dialect store.Dialect
}

// NewConn wraps db, rendering statements in dialect.
func NewConn(db *sql.DB, dialect store.Dialect) *Conn {
	return &Conn{db: db, dialect: dialect}
}

// Dialect implements store.Conn.
func (c *Conn) Dialect() store.Dialect {
	return c.dialect
}

// Exec implements store.Conn.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s exec: %w", c.dialect.Name, err)
	}
	return nil
}

// Begin implements store.Conn.
func (c *Conn) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s begin: %w", c.dialect.Name, err)
	}
	return &Tx{tx: tx, name: c.dialect.Name}, nil
}

// Ping implements store.Conn.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", c.dialect.Name, err)
	}
	return nil
}

// Close implements store.Conn.
func (c *Conn) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("%s close: %w", c.dialect.Name, err)
	}
	return nil
}

// Tx adapts *sql.Tx to store.Tx.
type Tx struct {
	tx   *sql.Tx
	name string
}

// Exec implements store.Tx.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s exec: %w", t.name, err)
	}
	return nil
}

// Commit implements store.Tx.
func (t *Tx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%s commit: %w", t.name, err)
	}
	return nil
}

// Rollback implements store.Tx.
func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("%s rollback: %w", t.name, err)
	}
	return nil
}

var _ store.Conn = (*Conn)(nil)
