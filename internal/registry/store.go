package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"autosumm/internal/services"
	"autosumm/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
// Users will need to delete registry.db after schema changes.
const schemaVersion = 1

// Store tracks known papers and run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open initializes or connects to the registry database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{
		SQL:       schemaSQL,
		Version:   schemaVersion,
		ResetHint: "delete " + path + " to start a fresh registry",
	})
	if err != nil {
		return nil, &services.CacheIOError{Op: "open registry", Err: err}
	}
	store := &Store{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := sqlitedb.RetryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) affected(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, &services.CacheIOError{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &services.CacheIOError{Op: op, Err: err}
	}
	return n, nil
}
