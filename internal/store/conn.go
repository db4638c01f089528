package store

import "context"

// Conn is a live connection handed to the Store by a Connector.
type Conn interface {
	Dialect() Dialect
	Exec(ctx context.Context, query string, args ...any) error
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}

// Tx is an open transaction.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// executor runs a statement; both Conn and Tx satisfy it.
type executor interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// KeyResolver is implemented by connections that can look up a table's
// primary key. Dialects that upsert with ON CONFLICT need it when no keys
// are configured.
type KeyResolver interface {
	PrimaryKey(ctx context.Context, table string) ([]string, error)
}

// Connector opens a connection. The Store pings it before use.
type Connector func(ctx context.Context) (Conn, error)
