package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"autosumm/internal/item"
	"autosumm/internal/services"
	"autosumm/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

const (
	entriesTable   = "cache_entries"
	deliveredTable = "delivered_items"
	sweepBatchSize = 500
)

// Store is the persistent fingerprint -> payload cache. It is safe for
// concurrent use.
type Store struct {
	db    *sql.DB
	path  string
	now   func() time.Time
	batch int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepBatch overrides how many rows a single sweep transaction deletes.
func WithSweepBatch(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batch = n
		}
	}
}

// Open initializes or connects to the cache database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{
		SQL:       schemaSQL,
		Version:   schemaVersion,
		ResetHint: "run 'autosumm cache clear --all' or delete the database",
	})
	if err != nil {
		return nil, &services.CacheIOError{Op: "open", Err: err}
	}
	store := &Store{db: db, path: path, now: time.Now, batch: sweepBatchSize}
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

// Get returns the payload stored under token. Absent and expired entries are
// both misses.
func (s *Store) Get(ctx context.Context, token string) (item.Payload, bool, error) {
	query, args, err := sq.Select("payload").
		From(entriesTable).
		Where(sq.Eq{"fingerprint": token}).
		Where(sq.Gt{"expires_at": s.now().UnixNano()}).
		ToSql()
	if err != nil {
		return item.Payload{}, false, &services.CacheIOError{Op: "get", Err: err}
	}

	var raw []byte
	err = sqlitedb.RetryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return item.Payload{}, false, nil
	}
	if err != nil {
		return item.Payload{}, false, &services.CacheIOError{Op: "get", Err: err}
	}

	payload, err := item.Decode(raw)
	if err != nil {
		return item.Payload{}, false, &services.CacheIOError{Op: "get", Err: fmt.Errorf("entry %s: %w", token, err)}
	}
	return payload, true, nil
}

// Put stores payload under token for ttl. Writing the same result again is
// a no-op; writing a different result under a token that still holds a
// valid entry fails with CacheConsistencyError. An expired entry is
// replaced. The write is committed before Put returns.
func (s *Store) Put(ctx context.Context, token string, payload item.Payload, ttl time.Duration) error {
	encoded, err := payload.Encode()
	if err != nil {
		return services.Wrap(services.ErrValidation, payload.Stage, "cache put", "payload cannot be stored", err)
	}

	err = sqlitedb.RetryOnBusy(ctx, func() error {
		return s.putTx(ctx, token, payload.Stage, encoded, ttl)
	})
	if err == nil {
		return nil
	}
	var consistency *services.CacheConsistencyError
	if errors.As(err, &consistency) {
		return err
	}
	return &services.CacheIOError{Op: "put", Err: err}
}

func (s *Store) putTx(ctx context.Context, token, stage string, encoded []byte, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	selectQuery, selectArgs, err := sq.Select("payload", "expires_at").
		From(entriesTable).
		Where(sq.Eq{"fingerprint": token}).
		ToSql()
	if err != nil {
		return err
	}

	var (
		existing  []byte
		expiresAt int64
	)
	err = tx.QueryRowContext(ctx, selectQuery, selectArgs...).Scan(&existing, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case expiresAt > now.UnixNano():
		same, cmpErr := item.Equivalent(existing, encoded)
		if cmpErr != nil {
			return fmt.Errorf("compare entry %s: %w", token, cmpErr)
		}
		if !same {
			return &services.CacheConsistencyError{Token: token, Stage: stage}
		}
		return nil
	}

	insertQuery, insertArgs, err := sq.Insert(entriesTable).
		Columns("fingerprint", "stage", "payload", "created_at", "expires_at").
		Values(token, stage, encoded, now.UnixNano(), now.Add(ttl).UnixNano()).
		Suffix("ON CONFLICT(fingerprint) DO UPDATE SET stage = excluded.stage, payload = excluded.payload, created_at = excluded.created_at, expires_at = excluded.expires_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertQuery, insertArgs...); err != nil {
		return err
	}
	return tx.Commit()
}

// Sweep removes entries that expired at or before now. The cutoff is fixed
// when the sweep starts: entries created after it are never removed, even
// if they already expired. Rows are deleted in short batches without
// reading their payloads.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UnixNano()
	inner, innerArgs, err := sq.Select("rowid").
		From(entriesTable).
		Where(sq.LtOrEq{"expires_at": cutoff}).
		Where(sq.LtOrEq{"created_at": cutoff}).
		Limit(uint64(s.batch)).
		ToSql()
	if err != nil {
		return 0, &services.CacheIOError{Op: "sweep", Err: err}
	}
	query, args, err := sq.Delete(entriesTable).
		Where("rowid IN ("+inner+")", innerArgs...).
		ToSql()
	if err != nil {
		return 0, &services.CacheIOError{Op: "sweep", Err: err}
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var affected int64
		err := sqlitedb.RetryOnBusy(ctx, func() error {
			res, execErr := s.db.ExecContext(ctx, query, args...)
			if execErr != nil {
				return execErr
			}
			affected, execErr = res.RowsAffected()
			return execErr
		})
		if err != nil {
			return total, &services.CacheIOError{Op: "sweep", Err: err}
		}
		total += affected
		if affected < int64(s.batch) {
			return total, nil
		}
	}
}

// InvalidateAll removes every cached result. The delivered ledger is kept so
// papers already mailed are not sent again.
func (s *Store) InvalidateAll(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, "invalidate", sq.Delete(entriesTable))
}

// InvalidateStage removes every cached result of one stage.
func (s *Store) InvalidateStage(ctx context.Context, stage string) (int64, error) {
	return s.deleteWhere(ctx, "invalidate stage", sq.Delete(entriesTable).Where(sq.Eq{"stage": stage}))
}

// Reset removes every cached result and the delivered ledger.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.InvalidateAll(ctx); err != nil {
		return err
	}
	_, err := s.deleteWhere(ctx, "reset delivered", sq.Delete(deliveredTable))
	return err
}

func (s *Store) deleteWhere(ctx context.Context, op string, builder sq.DeleteBuilder) (int64, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, &services.CacheIOError{Op: op, Err: err}
	}
	var affected int64
	err = sqlitedb.RetryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, &services.CacheIOError{Op: op, Err: err}
	}
	return affected, nil
}
