package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type statement struct {
	query string
	args  []any
	inTx  bool
}

// fakeConn records every call made by the Store.
type fakeConn struct {
	dialect    Dialect
	statements []statement
	events     []string
	execErr    func(query string) error
	pingErr    error
	commitErr  error
	keys       []string
	keyLookups int
	closeCalls int
}

func (c *fakeConn) Dialect() Dialect { return c.dialect }

func (c *fakeConn) Exec(_ context.Context, query string, args ...any) error {
	c.statements = append(c.statements, statement{query: query, args: args})
	c.events = append(c.events, "exec")
	if c.execErr != nil {
		return c.execErr(query)
	}
	return nil
}

func (c *fakeConn) Begin(context.Context) (Tx, error) {
	c.events = append(c.events, "begin")
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Ping(context.Context) error { return c.pingErr }

func (c *fakeConn) Close() error {
	c.closeCalls++
	return nil
}

type fakeTx struct{ conn *fakeConn }

func (t *fakeTx) Exec(_ context.Context, query string, args ...any) error {
	t.conn.statements = append(t.conn.statements, statement{query: query, args: args, inTx: true})
	t.conn.events = append(t.conn.events, "tx-exec")
	if t.conn.execErr != nil {
		return t.conn.execErr(query)
	}
	return nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.conn.events = append(t.conn.events, "commit")
	return t.conn.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	t.conn.events = append(t.conn.events, "rollback")
	return nil
}

type resolvingConn struct{ *fakeConn }

func (c resolvingConn) PrimaryKey(context.Context, string) ([]string, error) {
	c.keyLookups++
	return c.keys, nil
}

type waits struct{ durations []time.Duration }

func (w *waits) wait(_ context.Context, d time.Duration) error {
	w.durations = append(w.durations, d)
	return nil
}

func openFake(t *testing.T, conn Conn, cfg Config) *Store {
	t.Helper()
	s, err := Open(context.Background(), cfg, func(context.Context) (Conn, error) {
		return conn, nil
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

// TestOpenRetriesUntilConnected ensures failed attempts wait the fixed interval before retrying.
func TestOpenRetriesUntilConnected(t *testing.T) {
	t.Parallel()

	w := &waits{}
	calls := 0
	conn := &fakeConn{dialect: SQLite}
	s, err := Open(context.Background(), Config{MaxRetries: 5, RetryInterval: time.Second},
		func(context.Context) (Conn, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection refused")
			}
			return conn, nil
		}, zap.NewNop(), WithWait(w.wait))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, w.durations)
	assert.Equal(t, SQLite, s.Dialect())
}

// TestOpenSingleAttemptFailsAfterOneWait ensures one attempt plus one wait precede the connection error.
func TestOpenSingleAttemptFailsAfterOneWait(t *testing.T) {
	t.Parallel()

	w := &waits{}
	calls := 0
	_, err := Open(context.Background(), Config{MaxRetries: 1},
		func(context.Context) (Conn, error) {
			calls++
			return nil, errors.New("dial tcp 10.255.255.1:3306: i/o timeout")
		}, zap.NewNop(), WithWait(w.wait))

	require.ErrorIs(t, err, ErrConnect)
	assert.Contains(t, err.Error(), "i/o timeout")
	assert.Equal(t, 1, calls)
	assert.Equal(t, []time.Duration{30 * time.Second}, w.durations)
}

// TestOpenClosesConnectionThatFailsPing ensures a connection that fails its ping is closed.
func TestOpenClosesConnectionThatFailsPing(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: MySQL, pingErr: errors.New("access denied")}
	_, err := Open(context.Background(), Config{MaxRetries: 2},
		func(context.Context) (Conn, error) { return conn, nil },
		zap.NewNop(), WithWait((&waits{}).wait))

	require.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, 2, conn.closeCalls)
}

// TestOpenStopsWhenContextCanceled ensures cancellation interrupts the wait between attempts.
func TestOpenStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Open(ctx, Config{MaxRetries: 10, RetryInterval: time.Hour},
		func(context.Context) (Conn, error) {
			calls++
			return nil, errors.New("refused")
		}, zap.NewNop())

	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// TestOpenIsTraced ensures a successful connection is wrapped in start and
// finish entries and per-attempt failures are warnings.
func TestOpenIsTraced(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	calls := 0
	_, err := Open(context.Background(), Config{MaxRetries: 3},
		func(context.Context) (Conn, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("refused")
			}
			return &fakeConn{dialect: SQLite}, nil
		}, zap.New(core), WithWait((&waits{}).wait))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("Starting 'store.Open'...").Len())
	assert.Equal(t, 1, logs.FilterMessage("Finished 'store.Open' successfully.").Len())
	failed := logs.FilterMessage("database connection failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
}

// TestOpenFailureLoggedAsError ensures an exhausted connection budget closes
// the trace at error level.
func TestOpenFailureLoggedAsError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	_, err := Open(context.Background(), Config{MaxRetries: 2},
		func(context.Context) (Conn, error) { return nil, errors.New("refused") },
		zap.New(core), WithWait((&waits{}).wait))
	require.ErrorIs(t, err, ErrConnect)

	failed := logs.FilterMessage("Error occurred in 'store.Open'").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
}

// TestCloseIsTraced ensures Close is logged under the store's operation name.
func TestCloseIsTraced(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	s, err := Open(context.Background(), Config{}, func(context.Context) (Conn, error) {
		return &fakeConn{dialect: SQLite}, nil
	}, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, logs.FilterMessage("Finished 'store.Store.Close' successfully.").Len())
}

// TestOpenRequiresConnector ensures a missing connector is rejected.
func TestOpenRequiresConnector(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{}, nil, nil)
	require.Error(t, err)
}

// TestInsertAutocommits ensures a single insert runs outside a transaction.
func TestInsertAutocommits(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: MySQL}
	s := openFake(t, conn, Config{})

	require.NoError(t, s.Insert(context.Background(), "deals", Record{"units": 12, "city": "beijing"}))
	require.Len(t, conn.statements, 1)
	assert.Equal(t, "INSERT INTO `deals` (`city`, `units`) VALUES (?, ?)", conn.statements[0].query)
	assert.Equal(t, []any{"beijing", 12}, conn.statements[0].args)
	assert.False(t, conn.statements[0].inTx)
	assert.Equal(t, []string{"exec"}, conn.events)
}

// TestInsertPropagatesErrorsWithoutRollback ensures insert errors reach the caller untouched.
func TestInsertPropagatesErrorsWithoutRollback(t *testing.T) {
	t.Parallel()

	boom := errors.New("duplicate entry")
	conn := &fakeConn{dialect: MySQL, execErr: func(string) error { return boom }}
	s := openFake(t, conn, Config{})

	err := s.Insert(context.Background(), "deals", Record{"id": 1})
	require.ErrorIs(t, err, boom)
	assert.NotContains(t, conn.events, "rollback")
}

// TestInsertEmptyRecord ensures an empty record is rejected without a statement.
func TestInsertEmptyRecord(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	require.ErrorIs(t, s.Insert(context.Background(), "deals", Record{}), ErrEmptyRecord)
	assert.Empty(t, conn.events)
}

// TestInsertManyEmptyIsNoop ensures an empty batch issues no statement.
func TestInsertManyEmptyIsNoop(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	require.NoError(t, s.InsertMany(context.Background(), "deals", nil))
	require.NoError(t, s.InsertMany(context.Background(), "deals", []Record{}))
	assert.Empty(t, conn.events)
}

// TestInsertManySingleStatement ensures a small batch is one multi-row statement.
func TestInsertManySingleStatement(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: Postgres}
	s := openFake(t, conn, Config{})

	err := s.InsertMany(context.Background(), "deals", []Record{
		{"city": "beijing", "units": 1},
		{"units": 2, "city": "shanghai"},
	})
	require.NoError(t, err)
	require.Len(t, conn.statements, 1)
	assert.Equal(t, `INSERT INTO "deals" ("city", "units") VALUES ($1, $2), ($3, $4)`, conn.statements[0].query)
	assert.Equal(t, []any{"beijing", 1, "shanghai", 2}, conn.statements[0].args)
}

// TestInsertManySplitsAtBindLimit ensures a batch over the parameter limit is
// written in several statements inside one transaction.
func TestInsertManySplitsAtBindLimit(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: Dialect{Name: "tiny", quote: '"', replaceWith: replaceInto, maxParams: 4}}
	s := openFake(t, conn, Config{})

	recs := make([]Record, 5)
	for i := range recs {
		recs[i] = Record{"id": i, "units": i * 10}
	}
	require.NoError(t, s.InsertMany(context.Background(), "deals", recs))

	assert.Equal(t, []string{"begin", "tx-exec", "tx-exec", "tx-exec", "commit"}, conn.events)
	require.Len(t, conn.statements, 3)
	assert.Equal(t, `INSERT INTO "deals" ("id", "units") VALUES (?, ?), (?, ?)`, conn.statements[0].query)
	assert.Equal(t, []any{0, 0, 1, 10}, conn.statements[0].args)
	assert.Equal(t, []any{2, 20, 3, 30}, conn.statements[1].args)
	assert.Equal(t, `INSERT INTO "deals" ("id", "units") VALUES (?, ?)`, conn.statements[2].query)
	assert.Equal(t, []any{4, 40}, conn.statements[2].args)
}

// TestInsertManyChunkFailureRollsBack ensures a failing chunk undoes the
// earlier chunks and surfaces the error.
func TestInsertManyChunkFailureRollsBack(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	execs := 0
	conn := &fakeConn{dialect: Dialect{Name: "tiny", quote: '"', replaceWith: replaceInto, maxParams: 2}}
	conn.execErr = func(string) error {
		execs++
		if execs == 2 {
			return boom
		}
		return nil
	}
	s := openFake(t, conn, Config{})

	err := s.InsertMany(context.Background(), "deals", []Record{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}, {"id": 5}})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "rows 2-3")
	assert.Equal(t, []string{"begin", "tx-exec", "tx-exec", "rollback"}, conn.events)
}

// TestInsertManyLargeSQLiteBatch ensures a batch past SQLite's 32766 bind
// parameters is split instead of sent as one statement.
func TestInsertManyLargeSQLiteBatch(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	recs := make([]Record, 12000)
	for i := range recs {
		recs[i] = Record{"city": "beijing", "id": i, "units": i}
	}
	require.NoError(t, s.InsertMany(context.Background(), "deals", recs))

	assert.Equal(t, []string{"begin", "tx-exec", "tx-exec", "commit"}, conn.events)
	total := 0
	for _, st := range conn.statements {
		assert.LessOrEqual(t, len(st.args), 32766)
		total += len(st.args)
	}
	assert.Equal(t, 36000, total)
}

// TestInsertManyColumnMismatch ensures records with differing columns are
// rejected before any statement runs.
func TestInsertManyColumnMismatch(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	err := s.InsertMany(context.Background(), "deals", []Record{
		{"city": "beijing", "units": 1},
		{"city": "shanghai"},
	})
	require.ErrorIs(t, err, ErrColumnMismatch)
	assert.Empty(t, conn.events)
}

// TestUpsertEmptyRecordNoInteraction ensures an empty record never reaches the connection.
func TestUpsertEmptyRecordNoInteraction(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	require.NoError(t, s.Upsert(context.Background(), "t", Record{}))
	require.NoError(t, s.Upsert(context.Background(), "t", nil))
	assert.Empty(t, conn.events)
}

// TestUpsertCommitsReplace ensures an upsert runs REPLACE inside a committed transaction.
func TestUpsertCommitsReplace(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	require.NoError(t, s.Upsert(context.Background(), "deals", Record{"date": "2024-05-17", "units": 9}))
	assert.Equal(t, []string{"begin", "tx-exec", "commit"}, conn.events)
	assert.Equal(t, `REPLACE INTO "deals" ("date", "units") VALUES (?, ?)`, conn.statements[0].query)
}

// TestUpsertRollsBackAndSwallows ensures a failed upsert is rolled back and only logged.
func TestUpsertRollsBackAndSwallows(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	conn := &fakeConn{dialect: MySQL, execErr: func(string) error { return errors.New("lock wait timeout") }}
	s, err := Open(context.Background(), Config{}, func(context.Context) (Conn, error) { return conn, nil }, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, s.Upsert(context.Background(), "deals", Record{"id": 1}))
	assert.Equal(t, []string{"begin", "tx-exec", "rollback"}, conn.events)

	rolled := logs.FilterMessage("write rolled back").All()
	require.Len(t, rolled, 1)
	assert.Equal(t, zapcore.ErrorLevel, rolled[0].Level)
	assert.Equal(t, 1, logs.FilterMessage("Finished 'store.Store.Upsert' successfully.").Len())
}

// TestUpsertStrictReturnsWriteError ensures strict mode surfaces the failed write.
func TestUpsertStrictReturnsWriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("lock wait timeout")
	conn := &fakeConn{dialect: MySQL, execErr: func(string) error { return boom }}
	s := openFake(t, conn, Config{Strict: true})

	err := s.Upsert(context.Background(), "deals", Record{"id": 1})
	require.ErrorIs(t, err, boom)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "upsert", werr.Op)
	assert.Equal(t, "deals", werr.Table)
	assert.Equal(t, 0, werr.Row)
	assert.Contains(t, conn.events, "rollback")
}

// TestUpsertManySkipsEmptyAndUsesOneTransaction ensures empty records are skipped inside one transaction.
func TestUpsertManySkipsEmptyAndUsesOneTransaction(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	err := s.UpsertMany(context.Background(), "deals", []Record{
		{"id": 1},
		{},
		{"id": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"begin", "tx-exec", "tx-exec", "commit"}, conn.events)
}

// TestUpsertManyAllEmptyNoTransaction ensures a batch of empty records opens no transaction.
func TestUpsertManyAllEmptyNoTransaction(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	require.NoError(t, s.UpsertMany(context.Background(), "deals", []Record{{}, nil}))
	assert.Empty(t, conn.events)
}

// TestUpsertManyRollsBackWholeBatch ensures one failing record undoes the whole batch.
func TestUpsertManyRollsBackWholeBatch(t *testing.T) {
	t.Parallel()

	execs := 0
	conn := &fakeConn{dialect: SQLite}
	conn.execErr = func(string) error {
		execs++
		if execs == 2 {
			return errors.New("constraint failed")
		}
		return nil
	}
	s := openFake(t, conn, Config{Strict: true})

	err := s.UpsertMany(context.Background(), "deals", []Record{{"id": 1}, {"id": 2}, {"id": 3}})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, 1, werr.Row)
	assert.Equal(t, []string{"begin", "tx-exec", "tx-exec", "rollback"}, conn.events)
}

// TestUpsertCommitFailureIsAbsorbed ensures a failed commit is logged but not returned.
func TestUpsertCommitFailureIsAbsorbed(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite, commitErr: errors.New("disk I/O error")}
	s := openFake(t, conn, Config{})

	require.NoError(t, s.Upsert(context.Background(), "deals", Record{"id": 1}))
	assert.Equal(t, []string{"begin", "tx-exec", "commit"}, conn.events)
}

// TestPostgresUpsertUsesConfiguredKeys ensures configured keys drive ON CONFLICT.
func TestPostgresUpsertUsesConfiguredKeys(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: Postgres}
	s := openFake(t, conn, Config{ConflictKeys: map[string][]string{"deals": {"city", "date"}}})

	require.NoError(t, s.Upsert(context.Background(), "deals", Record{"city": "beijing", "date": "2024-05-17", "units": 4}))
	require.Len(t, conn.statements, 1)
	assert.Contains(t, conn.statements[0].query, `ON CONFLICT ("city", "date") DO UPDATE SET "units" = EXCLUDED."units"`)
}

// TestPostgresUpsertResolvesAndCachesPrimaryKey ensures the primary key is looked up once per table.
func TestPostgresUpsertResolvesAndCachesPrimaryKey(t *testing.T) {
	t.Parallel()

	base := &fakeConn{dialect: Postgres, keys: []string{"id"}}
	s := openFake(t, resolvingConn{base}, Config{})

	require.NoError(t, s.Upsert(context.Background(), "deals", Record{"id": 1, "units": 4}))
	require.NoError(t, s.Upsert(context.Background(), "deals", Record{"id": 2, "units": 5}))
	assert.Equal(t, 1, base.keyLookups)
	assert.Contains(t, base.statements[1].query, `ON CONFLICT ("id")`)
}

// TestPostgresUpsertWithoutKeysIsAbsorbed ensures a missing conflict key fails only in strict mode.
func TestPostgresUpsertWithoutKeysIsAbsorbed(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: Postgres}
	s := openFake(t, conn, Config{})
	require.NoError(t, s.Upsert(context.Background(), "deals", Record{"id": 1}))
	assert.Empty(t, conn.events)

	strict := openFake(t, conn, Config{Strict: true})
	require.ErrorIs(t, strict.Upsert(context.Background(), "deals", Record{"id": 1}), ErrNoConflictKey)
}

// TestCloseIsIdempotent ensures repeated Close calls release the connection once.
func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{dialect: SQLite}
	s := openFake(t, conn, Config{})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, conn.closeCalls)

	require.ErrorIs(t, s.Insert(context.Background(), "deals", Record{"id": 1}), ErrClosed)
	require.ErrorIs(t, s.Upsert(context.Background(), "deals", Record{"id": 1}), ErrClosed)
}
