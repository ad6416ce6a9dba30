package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"autosumm/internal/item"
	"autosumm/internal/services"
	"autosumm/internal/sqlitedb"
)

// Upsert registers discovered papers as pending for runID. A paper seen
// before keeps its attempt count unless its revision changed.
func (s *Store) Upsert(ctx context.Context, runID string, items []*item.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	now := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO items (
            id, revision, title, category, abstract, abstract_url, pdf_url, published_at,
            status, attempts, last_run_id, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            attempts = CASE WHEN items.revision = excluded.revision THEN items.attempts ELSE 0 END,
            revision = excluded.revision,
            title = excluded.title,
            category = excluded.category,
            abstract = excluded.abstract,
            abstract_url = excluded.abstract_url,
            pdf_url = excluded.pdf_url,
            published_at = excluded.published_at,
            status = excluded.status,
            last_stage = NULL,
            error_kind = NULL,
            error_message = NULL,
            last_run_id = excluded.last_run_id,
            updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, w := range items {
			if w == nil {
				continue
			}
			if _, err := stmt.ExecContext(ctx,
				w.ID,
				w.Revision,
				nullableString(w.Title),
				nullableString(w.Category),
				nullableString(w.Abstract),
				nullableString(w.AbstractURL),
				nullableString(w.PDFURL),
				nullableTime(w.PublishedAt),
				item.StatusPending,
				nullableString(runID),
				now,
				now,
			); err != nil {
				return fmt.Errorf("upsert %s: %w", w.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return &services.CacheIOError{Op: "upsert items", Err: err}
	}
	return nil
}

// UpdateProgress records the status and stage an item reached mid-run so an
// interrupted run leaves a trail.
func (s *Store) UpdateProgress(ctx context.Context, id string, status item.Status, stage string) error {
	_, err := s.affected(ctx, "update progress",
		`UPDATE items SET status = ?, last_stage = ?, updated_at = ? WHERE id = ?`,
		status, nullableString(stage), s.timestamp(), id)
	return err
}

// RecordOutcome stores the final state of an item for runID. A failure
// counts against the item's attempts; success clears them.
func (s *Store) RecordOutcome(ctx context.Context, runID string, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	now := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE items
         SET status = ?, last_stage = ?, error_kind = ?, error_message = ?,
             attempts = CASE ? WHEN 'failed' THEN attempts + 1 WHEN 'succeeded' THEN 0 ELSE attempts END,
             last_run_id = ?, updated_at = ?
         WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, o := range outcomes {
			if _, err := stmt.ExecContext(ctx,
				o.Status,
				nullableString(o.Stage),
				nullableString(o.ErrorKind),
				nullableString(o.Message),
				o.Status,
				nullableString(runID),
				now,
				o.ID,
			); err != nil {
				return fmt.Errorf("record outcome %s: %w", o.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return &services.CacheIOError{Op: "record outcomes", Err: err}
	}
	return nil
}

// PruneExhausted deletes failed items whose attempts reached budget.
func (s *Store) PruneExhausted(ctx context.Context, budget int) (int64, error) {
	return s.affected(ctx, "prune exhausted",
		`DELETE FROM items WHERE status = ? AND attempts >= ?`, item.StatusFailed, budget)
}

// ResetInProgress returns items left in progress by an interrupted run to
// pending so the next run resumes them.
func (s *Store) ResetInProgress(ctx context.Context) (int64, error) {
	return s.affected(ctx, "reset in-progress",
		`UPDATE items SET status = ?, updated_at = ? WHERE status = ?`,
		item.StatusPending, s.timestamp(), item.StatusInProgress)
}

// RetryFailed moves failed items back to pending and clears their attempt
// count. With no ids every failed item is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	builder := sq.Update("items").
		Set("status", item.StatusPending).
		Set("attempts", 0).
		Set("error_kind", nil).
		Set("error_message", nil).
		Set("updated_at", s.timestamp()).
		Where(sq.Eq{"status": item.StatusFailed})
	if len(ids) > 0 {
		builder = builder.Where(sq.Eq{"id": ids})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, &services.CacheIOError{Op: "retry failed", Err: err}
	}
	return s.affected(ctx, "retry failed", query, args...)
}

// Remove deletes items by identifier.
func (s *Store) Remove(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sq.Delete("items").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, &services.CacheIOError{Op: "remove items", Err: err}
	}
	return s.affected(ctx, "remove items", query, args...)
}

// Get fetches one item. It returns nil when the item is unknown.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM items WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &services.CacheIOError{Op: "get item", Err: err}
	}
	return rec, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses []item.Status
	Category string
	Limit    uint64
}

// List returns items matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Record, error) {
	builder := sq.Select(recordColumns).From("items").OrderBy("updated_at DESC", "id")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		builder = builder.Where(sq.Eq{"status": statuses})
	}
	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"category": filter.Category})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &services.CacheIOError{Op: "list items", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &services.CacheIOError{Op: "list items", Err: err}
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &services.CacheIOError{Op: "list items", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &services.CacheIOError{Op: "list items", Err: err}
	}
	return records, nil
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[item.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM items GROUP BY status`)
	if err != nil {
		return nil, &services.CacheIOError{Op: "item stats", Err: err}
	}
	defer rows.Close()

	stats := make(map[item.Status]int)
	for rows.Next() {
		var (
			status item.Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, &services.CacheIOError{Op: "item stats", Err: err}
		}
		stats[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, &services.CacheIOError{Op: "item stats", Err: err}
	}
	return stats, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return sqlitedb.RetryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}
