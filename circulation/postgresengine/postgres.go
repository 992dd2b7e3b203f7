package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // register the postgres dialect
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/libcirc/circulation-engine-go/circulation"
	"github.com/libcirc/circulation-engine-go/circulation/postgresengine/internal/adapters"
)

const postgresDialect = "postgres"

var dialect = goqu.Dialect(postgresDialect) //nolint:gochecknoglobals

// Configuration errors.
var (
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")
	ErrNilLogger             = errors.New("logger must not be nil")
	ErrEmptyTablePrefix      = errors.New("table prefix must not be empty")
)

const (
	logMsgQueryExecuted    = "storage query executed"
	logMsgStatementApplied = "storage statement applied"
	logMsgRollbackFailed   = "transaction rollback failed"

	logAttrQuery        = "query"
	logAttrDurationMS   = "duration_ms"
	logAttrRowsAffected = "rows_affected"
	logAttrError        = "error"
)

// Store is the PostgreSQL persistence engine behind the circulation managers.
// It satisfies every manager storage interface: loans, reservations,
// sanctions, integrity and the notification gate/scanner.
//
// All guarded writes run as short transactions: the stock counters are
// updated under the item's version check and the row transition under its
// status check, so a lost race surfaces circulation.ErrConcurrencyConflict
// (or the status sentinel) instead of silently double-applying.
type Store struct {
	db     adapters.DBAdapter
	logger circulation.Logger
	tables tableNames
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger attaches a logger for query timing (debug) and cleanup warnings.
func WithLogger(logger circulation.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			return ErrNilLogger
		}

		s.logger = logger

		return nil
	}
}

// WithTablePrefix namespaces every engine table, e.g. "circ_" yields
// "circ_loans". Useful when the engine shares a schema with the owning
// application.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) error {
		if prefix == "" {
			return ErrEmptyTablePrefix
		}

		s.tables = s.tables.withPrefix(prefix)

		return nil
	}
}

// NewStoreFromPGXPool creates a Store backed by a pgx connection pool.
func NewStoreFromPGXPool(pool *pgxpool.Pool, options ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapter(pool), options...)
}

// NewStoreFromSQLDB creates a Store backed by a standard library sql.DB.
func NewStoreFromSQLDB(db *sql.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapter(db), options...)
}

// NewStoreFromSQLX creates a Store backed by a sqlx.DB.
func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapter(db), options...)
}

func newStore(db adapters.DBAdapter, options ...Option) (*Store, error) {
	store := &Store{
		db:     db,
		tables: defaultTableNames(),
	}

	for _, option := range options {
		if err := option(store); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// executor is the common surface of the adapter and its transactions.
type executor interface {
	Exec(ctx context.Context, query string) (adapters.DBResult, error)
}

// withTx runs fn inside one transaction. fn's error aborts with a rollback
// and is returned as-is so sentinel errors survive; begin/commit failures
// surface as circulation.ErrStorageUnavailable.
func (s *Store) withTx(ctx context.Context, fn func(tx adapters.DBTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logWarn(logMsgRollbackFailed, logAttrError, rbErr.Error())
		}

		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return nil
}

// exec runs a statement on the pool or inside a transaction and returns the
// number of rows it touched.
func (s *Store) exec(ctx context.Context, on executor, query string) (int64, error) {
	start := time.Now()

	result, err := on.Exec(ctx, query)
	if err != nil {
		return 0, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	s.logDebug(logMsgStatementApplied,
		logAttrQuery, query,
		logAttrRowsAffected, affected,
		logAttrDurationMS, time.Since(start).Milliseconds())

	return affected, nil
}

// query runs a read on the pool. The caller owns the returned rows.
func (s *Store) query(ctx context.Context, query string) (adapters.DBRows, error) {
	start := time.Now()

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	s.logDebug(logMsgQueryExecuted,
		logAttrQuery, query,
		logAttrDurationMS, time.Since(start).Milliseconds())

	return rows, nil
}

// queryCount runs a single-value count query.
func (s *Store) queryCount(ctx context.Context, query string) (int, error) {
	rows, err := s.query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return 0, circulation.ErrStorageUnavailable
	}

	var count int
	if err = rows.Scan(&count); err != nil {
		return 0, errors.Join(circulation.ErrStorageUnavailable, err)
	}

	return count, nil
}

func (s *Store) closeRows(rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		s.logWarn("closing rows failed", logAttrError, err.Error())
	}
}

func (s *Store) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Store) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
