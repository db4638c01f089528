package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/crawler"
	"github.com/JakeFAU/housedata-crawler/internal/logging"
	"github.com/JakeFAU/housedata-crawler/internal/metrics"
)

// Record maps column names to scalar values for one row.
type Record map[string]any

// Config controls connection retries and upsert behavior.
type Config struct {
	// MaxRetries is the number of connection attempts. Default 30.
	MaxRetries int
	// RetryInterval is the pause after each failed attempt. Default 30s.
	RetryInterval time.Duration
	// Strict makes Upsert and UpsertMany return write failures instead of
	// only logging them.
	Strict bool
	// ConflictKeys names the key columns per table for dialects that upsert
	// with ON CONFLICT. Tables not listed use their primary key.
	ConflictKeys map[string][]string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 30
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 30 * time.Second
	}
	return c
}

// Option customizes Open.
type Option func(*Store)

// WithWait replaces the pause used between connection attempts.
func WithWait(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Store) { s.wait = fn }
}

// Store owns one connection and writes records through it. It is not safe
// for concurrent use.
type Store struct {
	cfg     Config
	conn    Conn
	dialect Dialect
	logger  *zap.Logger
	wait    func(ctx context.Context, d time.Duration) error
	keys    map[string][]string
	closed  bool
}

// Open connects through connect, retrying up to cfg.MaxRetries times with a
// fixed pause after every failed attempt. It returns an error wrapping
// ErrConnect once the budget is spent.
func Open(ctx context.Context, cfg Config, connect Connector, logger *zap.Logger, opts ...Option) (*Store, error) {
	if connect == nil {
		return nil, errors.New("store: connector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:    cfg.withDefaults(),
		logger: logger.Named("store"),
		wait:   crawler.SleepContext,
		keys:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	return logging.TraceValue(s.logger, "store.Open", func() (*Store, error) {
		var lastErr error
		for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
			conn, err := connectOnce(ctx, connect)
			metrics.ObserveConnectAttempt(err)
			if err == nil {
				s.conn = conn
				s.dialect = conn.Dialect()
				s.logger.Info("database connected",
					zap.String("dialect", s.dialect.Name),
					zap.Int("attempt", attempt),
				)
				return s, nil
			}
			lastErr = err
			s.logger.Warn("database connection failed",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", s.cfg.MaxRetries),
				zap.Duration("retry_in", s.cfg.RetryInterval),
				zap.Error(err),
			)
			if waitErr := s.wait(ctx, s.cfg.RetryInterval); waitErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrConnect, waitErr)
			}
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnect, s.cfg.MaxRetries, lastErr)
	})
}

func connectOnce(ctx context.Context, connect Connector) (Conn, error) {
	conn, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn, nil
}

// Insert writes one row in autocommit mode. Errors are returned as is and
// nothing is rolled back.
func (s *Store) Insert(ctx context.Context, table string, rec Record) error {
	return logging.Trace(s.logger, "store.Store.Insert", func() error {
		if s.closed {
			return ErrClosed
		}
		if len(rec) == 0 {
			return fmt.Errorf("insert %s: %w", table, ErrEmptyRecord)
		}
		cols := rec.Columns()
		query, err := s.dialect.Insert(table, cols, 1)
		if err != nil {
			return err
		}
		err = s.conn.Exec(ctx, query, rec.Values(cols)...)
		metrics.ObserveStoreWrite("insert", table, 1, err)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
		return nil
	})
}

// InsertMany writes recs with multi-row statements. The first record defines
// the column set; every other record must match it. Empty input is a no-op.
// A batch that fits the dialect's bind parameter limit is one autocommit
// statement; a larger one is split across statements in a single transaction
// that is rolled back as a whole when any part fails.
func (s *Store) InsertMany(ctx context.Context, table string, recs []Record) error {
	return logging.Trace(s.logger, "store.Store.InsertMany", func() error {
		if s.closed {
			return ErrClosed
		}
		if len(recs) == 0 {
			return nil
		}
		cols := recs[0].Columns()
		if len(cols) == 0 {
			return fmt.Errorf("insert many %s: %w", table, ErrEmptyRecord)
		}
		args := make([]any, 0, len(cols)*len(recs))
		for i, rec := range recs {
			if !slices.Equal(rec.Columns(), cols) {
				return fmt.Errorf("insert many %s: record %d: %w", table, i, ErrColumnMismatch)
			}
			args = append(args, rec.Values(cols)...)
		}

		var err error
		if per := s.dialect.RowsPerStatement(len(cols)); len(recs) > per {
			err = s.insertChunks(ctx, table, cols, args, per)
		} else {
			err = s.insertRows(ctx, s.conn, table, cols, args)
		}
		metrics.ObserveStoreWrite("insert_many", table, len(recs), err)
		if err != nil {
			return fmt.Errorf("insert many into %s: %w", table, err)
		}
		return nil
	})
}

func (s *Store) insertChunks(ctx context.Context, table string, cols []string, args []any, per int) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	step := per * len(cols)
	for start := 0; start < len(args); start += step {
		end := min(start+step, len(args))
		if err := s.insertRows(ctx, tx, table, cols, args[start:end]); err != nil {
			s.rollback(ctx, tx)
			return fmt.Errorf("rows %d-%d: %w", start/len(cols), end/len(cols)-1, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// insertRows renders and runs one INSERT for args, which holds whole rows.
func (s *Store) insertRows(ctx context.Context, ex executor, table string, cols []string, args []any) error {
	query, err := s.dialect.Insert(table, cols, len(args)/len(cols))
	if err != nil {
		return err
	}
	return ex.Exec(ctx, query, args...)
}

// Upsert inserts rec or overwrites the row sharing its key, inside a
// transaction. An empty record is a no-op. A failed write is rolled back and
// logged; it is returned only in strict mode.
func (s *Store) Upsert(ctx context.Context, table string, rec Record) error {
	return logging.Trace(s.logger, "store.Store.Upsert", func() error {
		if s.closed {
			return ErrClosed
		}
		if len(rec) == 0 {
			return nil
		}
		return s.absorb("upsert", table, s.replaceInTx(ctx, table, []Record{rec}))
	})
}

// UpsertMany applies Upsert to every non-empty record within one
// transaction. Any failure rolls back the whole batch.
func (s *Store) UpsertMany(ctx context.Context, table string, recs []Record) error {
	return logging.Trace(s.logger, "store.Store.UpsertMany", func() error {
		if s.closed {
			return ErrClosed
		}
		rows := make([]Record, 0, len(recs))
		for _, rec := range recs {
			if len(rec) > 0 {
				rows = append(rows, rec)
			}
		}
		if len(rows) == 0 {
			return nil
		}
		return s.absorb("upsert_many", table, s.replaceInTx(ctx, table, rows))
	})
}

// Close releases the connection. Later calls do nothing.
func (s *Store) Close() error {
	if s == nil || s.closed {
		return nil
	}
	return logging.Trace(s.logger, "store.Store.Close", func() error {
		s.closed = true
		if err := s.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
		return nil
	})
}

// Dialect reports the dialect of the open connection.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) absorb(op, table string, err *WriteError) error {
	if err == nil {
		return nil
	}
	err.Op = op
	err.Table = table
	s.logger.Error("write rolled back",
		zap.String("op", op),
		zap.String("table", table),
		zap.Int("row", err.Row),
		zap.Error(err.Err),
	)
	if s.cfg.Strict {
		return err
	}
	return nil
}

func (s *Store) replaceInTx(ctx context.Context, table string, rows []Record) (werr *WriteError) {
	defer func() {
		var e error
		if werr != nil {
			e = werr.Err
		}
		metrics.ObserveStoreWrite("upsert", table, len(rows), e)
	}()

	keys, err := s.conflictKeys(ctx, table)
	if err != nil {
		return &WriteError{Row: -1, Err: err}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return &WriteError{Row: -1, Err: fmt.Errorf("begin: %w", err)}
	}
	for i, rec := range rows {
		cols := rec.Columns()
		query, err := s.dialect.Replace(table, cols, keys)
		if err == nil {
			err = tx.Exec(ctx, query, rec.Values(cols)...)
		}
		if err != nil {
			s.rollback(ctx, tx)
			return &WriteError{Row: i, Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &WriteError{Row: -1, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(ctx); err != nil {
		s.logger.Warn("rollback failed", zap.Error(err))
	}
}

func (s *Store) conflictKeys(ctx context.Context, table string) ([]string, error) {
	if !s.dialect.NeedsConflictKeys() {
		return nil, nil
	}
	if keys, ok := s.cfg.ConflictKeys[table]; ok && len(keys) > 0 {
		return keys, nil
	}
	if keys, ok := s.keys[table]; ok {
		return keys, nil
	}
	resolver, ok := s.conn.(KeyResolver)
	if !ok {
		return nil, fmt.Errorf("%w for table %s", ErrNoConflictKey, table)
	}
	keys, err := resolver.PrimaryKey(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("lookup primary key of %s: %w", table, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w for table %s", ErrNoConflictKey, table)
	}
	s.keys[table] = keys
	return keys, nil
}
