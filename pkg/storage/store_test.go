package storage

import (
	"context"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qazdata/goszakup-etl/pkg/errors"
)

// fakeDB records every call so tests can assert the store touched the
// database exactly as intended, or not at all.
type fakeDB struct {
	tx       *fakeTx
	row      *fakeRow
	beginErr error
	execErr  error
	pingErr  error

	beginCalls  int
	execSQL     []string
	queryRowSQL []string
	queryRowArg [][]interface{}
	closed      bool
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	db.beginCalls++
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	if db.tx == nil {
		db.tx = &fakeTx{}
	}
	return db.tx, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	db.execSQL = append(db.execSQL, sql)
	if db.execErr != nil {
		return pgconn.CommandTag{}, db.execErr
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	db.queryRowSQL = append(db.queryRowSQL, sql)
	db.queryRowArg = append(db.queryRowArg, args)
	if db.row == nil {
		db.row = &fakeRow{}
	}
	return db.row
}

func (db *fakeDB) Ping(ctx context.Context) error { return db.pingErr }

func (db *fakeDB) Close() { db.closed = true }

// calls reports the total number of database touches of any kind.
func (db *fakeDB) calls() int {
	return db.beginCalls + len(db.execSQL) + len(db.queryRowSQL)
}

// fakeTx captures the batch sent through the transaction. Embedding the
// interface keeps the fake small; only the methods the store uses are
// implemented.
type fakeTx struct {
	pgx.Tx

	results   *fakeBatchResults
	commitErr error

	batch      *pgx.Batch
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	tx.batch = b
	if tx.results == nil {
		tx.results = &fakeBatchResults{}
	}
	return tx.results
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

// fakeBatchResults answers Exec with one-row INSERT tags unless told to
// fail at a particular statement index.
type fakeBatchResults struct {
	failAt  int // statement index that fails, -1 for none
	failErr error

	execCalls int
	closed    bool
}

func newBatchResults() *fakeBatchResults {
	return &fakeBatchResults{failAt: -1}
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	i := r.execCalls
	r.execCalls++
	if r.failErr != nil && i == r.failAt {
		return pgconn.CommandTag{}, r.failErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) { return nil, nil }

func (r *fakeBatchResults) QueryRow() pgx.Row { return nil }

func (r *fakeBatchResults) Close() error {
	r.closed = true
	return nil
}

// fakeRow scans canned values.
type fakeRow struct {
	vals []interface{}
	err  error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.vals) {
			break
		}
		switch p := d.(type) {
		case *bool:
			*p = r.vals[i].(bool)
		case *int64:
			*p = r.vals[i].(int64)
		case *string:
			*p = r.vals[i].(string)
		}
	}
	return nil
}

func TestTableExists(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db := &fakeDB{row: &fakeRow{vals: []interface{}{true}}}
		s := NewStore(db)

		exists, err := s.TableExists(context.Background(), "subjects")
		require.NoError(t, err)
		assert.True(t, exists)

		require.Len(t, db.queryRowSQL, 1)
		assert.Contains(t, db.queryRowSQL[0], "information_schema.tables")
		assert.Contains(t, db.queryRowSQL[0], "table_schema = 'public'")
		assert.Equal(t, []interface{}{"subjects"}, db.queryRowArg[0])
	})

	t.Run("invalid name rejected before any query", func(t *testing.T) {
		db := &fakeDB{}
		s := NewStore(db)

		_, err := s.TableExists(context.Background(), `subjects"; DROP TABLE subjects--`)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		assert.Zero(t, db.calls())
	})
}

func TestRowCount(t *testing.T) {
	db := &fakeDB{row: &fakeRow{vals: []interface{}{int64(1234)}}}
	s := NewStore(db)

	n, err := s.RowCount(context.Background(), "contracts")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)

	require.Len(t, db.queryRowSQL, 1)
	assert.Equal(t, `SELECT COUNT(*) FROM "contracts"`, db.queryRowSQL[0])
}

func TestTruncate(t *testing.T) {
	db := &fakeDB{}
	s := NewStore(db)

	require.NoError(t, s.Truncate(context.Background(), "plans"))
	require.Len(t, db.execSQL, 1)
	assert.Equal(t, `TRUNCATE TABLE "plans" CASCADE`, db.execSQL[0])
}

func TestEnsureAppendTable(t *testing.T) {
	db := &fakeDB{}
	s := NewStore(db)

	require.NoError(t, s.EnsureAppendTable(context.Background(), "acts"))
	require.Len(t, db.execSQL, 1)
	assert.Contains(t, db.execSQL[0], `CREATE TABLE IF NOT EXISTS "acts"`)
	assert.Contains(t, db.execSQL[0], "data jsonb NOT NULL")
	assert.Contains(t, db.execSQL[0], "created_at timestamptz NOT NULL")
}

func TestPing(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := NewStore(&fakeDB{})
		assert.NoError(t, s.Ping(context.Background()))
	})

	t.Run("down", func(t *testing.T) {
		s := NewStore(&fakeDB{pingErr: &net.OpError{Op: "dial", Err: assert.AnError}})
		err := s.Ping(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConnectivity))
	})
}

func TestClose(t *testing.T) {
	db := &fakeDB{}
	NewStore(db).Close()
	assert.True(t, db.closed)
}

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorType
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: errors.ErrorTypeConstraintViolation},
		{name: "not null violation", err: &pgconn.PgError{Code: "23502"}, want: errors.ErrorTypeConstraintViolation},
		{name: "invalid text representation", err: &pgconn.PgError{Code: "22P02"}, want: errors.ErrorTypeConstraintViolation},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: errors.ErrorTypeConnectivity},
		{name: "too many connections", err: &pgconn.PgError{Code: "53300"}, want: errors.ErrorTypeConnectivity},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: errors.ErrorTypeConnectivity},
		{name: "undefined table", err: &pgconn.PgError{Code: "42P01"}, want: errors.ErrorTypeSchemaMismatch},
		{name: "undefined column", err: &pgconn.PgError{Code: "42703"}, want: errors.ErrorTypeSchemaMismatch},
		{name: "internal error", err: &pgconn.PgError{Code: "XX000"}, want: errors.ErrorTypeInternal},
		{name: "no sqlstate means broken connection", err: &net.OpError{Op: "read", Err: assert.AnError}, want: errors.ErrorTypeConnectivity},
		{name: "context canceled", err: context.Canceled, want: errors.ErrorTypeInternal},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: errors.ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPgError(tt.err, "write batch", "subjects")
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, "subjects", got.Detail("table"))
		})
	}
}
