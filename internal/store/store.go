// Package store provides typed, transactional access to the automator's
// durable state: templates, tasks, executions and credential metadata.
// SQLite is the engine; all writes serialize through the store's mutex.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	// modernc's driver registers as "sqlite"; sqlx does not know its bind
	// type out of the box.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store wraps the SQLite database. A Store handed to a Transaction callback
// is bound to the open transaction; all methods work on either.
type Store struct {
	db   *sqlx.DB
	ext  sqlx.ExtContext
	mu   *sync.Mutex
	inTx bool
}

// Open opens (or creates) the database at path, applies pending migrations
// and seeds built-in templates.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, ext: db, mu: &sync.Mutex{}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.seedBuiltins(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed builtins: %w", err)
	}

	slog.Info("store opened", "path", path)
	return s, nil
}

// migrate applies pending migration scripts in order, recording progress in
// the _migrations table. A partial failure leaves the version unmarked so
// startup fail-stops until the operator intervenes.
func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.db.DB, &sqlitemigrate.Config{
		MigrationsTable: "_migrations",
	})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Transaction runs fn inside a single atomic unit. The Store passed to fn
// is bound to the transaction; nesting reuses the outer transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	view := &Store{db: s.db, ext: txx, mu: s.mu, inTx: true}
	if err := fn(view); err != nil {
		txx.Rollback()
		return err
	}
	return txx.Commit()
}

// lockWriter serializes writers. Transactions already hold the lock.
func (s *Store) lockWriter() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Ping reports whether the database connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
