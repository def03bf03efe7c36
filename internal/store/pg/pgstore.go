package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"campuswallet.org/internal/ledger"
)

// Store implements ledger.Store and auth.VerificationStore on Postgres.
type Store struct {
	db    *sql.DB
	guard *Guard
}

var _ ledger.Store = (*Store)(nil)

// Options tune the pool and the guard.
type Options struct {
	Timeout         time.Duration
	MaxOpenConns    int
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// Open connects through the pgx stdlib driver.
func Open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 50
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts Options) *Store {
	openFor := opts.BreakerOpenFor
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	return &Store{
		db:    db,
		guard: NewGuard("postgres", opts.Timeout, opts.BreakerFailures, openFor),
	}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity through the guard.
func (s *Store) Ping(ctx context.Context) error {
	return s.guard.Read(ctx, s.db.PingContext)
}

// Atomic runs fn in a READ COMMITTED transaction. Conflicting writers are
// serialized by the row locks fn takes, so a losing writer observes the
// winner's committed state instead of failing with a serialization error.
func (s *Store) Atomic(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	return s.guard.Write(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(ctx, &pgTx{q: tx}); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Snapshot runs fn in a REPEATABLE READ, READ ONLY transaction so every query
// in fn sees the same committed state.
func (s *Store) Snapshot(ctx context.Context, fn func(context.Context, ledger.Reader) error) error {
	return s.guard.Read(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(ctx, &pgTx{q: tx}); err != nil {
			return err
		}
		return tx.Commit()
	})
}
