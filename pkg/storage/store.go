// Package storage persists fetched registry items into PostgreSQL.
//
// A Store writes batches in one of two modes. AppendJSONB keeps every
// item as a jsonb document in an append-only table, which is how the
// registry tables are loaded. TypedUpsert maps item keys onto typed
// columns and resolves conflicts by last writer wins, for callers that
// maintain their own relational schema.
//
// Every Persist call is one transaction: either the whole batch lands
// or the table is untouched.
package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/qazdata/goszakup-etl/pkg/config"
	"github.com/qazdata/goszakup-etl/pkg/errors"
	"github.com/qazdata/goszakup-etl/pkg/logger"
)

// Item is a single record to persist, keyed by API field name. It is
// the same shape the fetch package yields, so batches flow through
// without conversion.
type Item = map[string]interface{}

// DB is the slice of pgxpool.Pool the store relies on. Tests substitute
// a recording fake.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store writes item batches into PostgreSQL. It is safe for concurrent
// use; concurrent Persist calls run in independent transactions.
type Store struct {
	db     DB
	logger *zap.Logger

	// now stamps created_at on append batches; swapped in tests.
	now func() time.Time
}

// Open connects to PostgreSQL and returns a Store backed by a
// connection pool tuned from cfg. The pool is pinged once so a bad DSN
// or unreachable server fails here, not on the first batch.
func Open(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "storage: parse connection config")
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "storage: create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, mapPgError(err, "storage: ping database", "")
	}

	return NewStore(pool), nil
}

// NewStore wraps an existing database handle. Open is the usual entry
// point; NewStore exists for tests and for callers managing their own
// pool.
func NewStore(db DB) *Store {
	return &Store{
		db:     db,
		logger: logger.Get().With(zap.String("component", "storage")),
		now:    time.Now,
	}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return mapPgError(err, "storage: ping database", "")
	}
	return nil
}

// TableExists reports whether name exists in the public schema.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	if !identRe.MatchString(name) {
		return false, errors.Newf(errors.ErrorTypeValidation, "storage: invalid table name %q", name)
	}

	const q = `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	)`
	var exists bool
	if err := s.db.QueryRow(ctx, q, name).Scan(&exists); err != nil {
		return false, mapPgError(err, "storage: check table existence", name)
	}
	return exists, nil
}

// RowCount returns the number of rows currently in the table.
func (s *Store) RowCount(ctx context.Context, name string) (int64, error) {
	if !identRe.MatchString(name) {
		return 0, errors.Newf(errors.ErrorTypeValidation, "storage: invalid table name %q", name)
	}

	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{name}.Sanitize())
	var count int64
	if err := s.db.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, mapPgError(err, "storage: count rows", name)
	}
	return count, nil
}

// Truncate empties the table along with anything referencing it.
func (s *Store) Truncate(ctx context.Context, name string) error {
	if !identRe.MatchString(name) {
		return errors.Newf(errors.ErrorTypeValidation, "storage: invalid table name %q", name)
	}

	q := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", pgx.Identifier{name}.Sanitize())
	if _, err := s.db.Exec(ctx, q); err != nil {
		return mapPgError(err, "storage: truncate table", name)
	}
	s.logger.Info("table truncated", zap.String("table", name))
	return nil
}

// EnsureAppendTable creates the jsonb document table for an append-mode
// target when it does not exist yet. The shape matches what AppendJSONB
// writes: a serial id, the document, and the ingestion timestamp.
func (s *Store) EnsureAppendTable(ctx context.Context, name string) error {
	if !identRe.MatchString(name) {
		return errors.Newf(errors.ErrorTypeValidation, "storage: invalid table name %q", name)
	}

	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	data jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
)`, pgx.Identifier{name}.Sanitize())
	if _, err := s.db.Exec(ctx, q); err != nil {
		return mapPgError(err, "storage: ensure table", name)
	}
	return nil
}

// mapPgError classifies a non-nil database failure into the error
// taxonomy by SQLSTATE class. Failures without a SQLSTATE mean the
// connection itself broke, which callers may treat as retryable.
func mapPgError(err error, msg, table string) *errors.Error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return withTable(errors.Wrap(err, errors.ErrorTypeInternal, msg), table)
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		t := classifySQLState(pgErr.Code)
		return withTable(errors.Wrap(err, t, msg), table).WithDetail("sqlstate", pgErr.Code)
	}

	return withTable(errors.Wrap(err, errors.ErrorTypeConnectivity, msg), table)
}

func withTable(e *errors.Error, table string) *errors.Error {
	if table == "" {
		return e
	}
	return e.WithDetail("table", table)
}

// classifySQLState maps a SQLSTATE class onto the error taxonomy.
// Integrity and data errors point at the batch contents, connection and
// resource errors at the server, syntax and access errors at a schema
// that no longer matches what the writer expects.
func classifySQLState(code string) errors.ErrorType {
	switch {
	case pgerrcode.IsIntegrityConstraintViolation(code),
		pgerrcode.IsDataException(code):
		return errors.ErrorTypeConstraintViolation
	case pgerrcode.IsConnectionException(code),
		pgerrcode.IsInsufficientResources(code),
		pgerrcode.IsOperatorIntervention(code):
		return errors.ErrorTypeConnectivity
	case pgerrcode.IsSyntaxErrororAccessRuleViolation(code):
		return errors.ErrorTypeSchemaMismatch
	default:
		return errors.ErrorTypeInternal
	}
}
