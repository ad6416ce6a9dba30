package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"autosumm/internal/services"
	"autosumm/internal/sqlitedb"
)

// Delivery records one paper that went out in a digest.
type Delivery struct {
	ItemID      string    `json:"item_id"`
	Revision    string    `json:"revision"`
	Title       string    `json:"title"`
	RunID       string    `json:"run_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// MarkDelivered records that the listed papers were sent. Existing records
// are overwritten with the newer revision.
func (s *Store) MarkDelivered(ctx context.Context, deliveries []Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	now := s.now()
	builder := sq.Insert(deliveredTable).
		Columns("item_id", "revision", "title", "run_id", "delivered_at")
	for _, d := range deliveries {
		at := d.DeliveredAt
		if at.IsZero() {
			at = now
		}
		builder = builder.Values(d.ItemID, d.Revision, d.Title, d.RunID, at.UnixNano())
	}
	query, args, err := builder.
		Suffix("ON CONFLICT(item_id) DO UPDATE SET revision = excluded.revision, title = excluded.title, run_id = excluded.run_id, delivered_at = excluded.delivered_at").
		ToSql()
	if err != nil {
		return &services.CacheIOError{Op: "mark delivered", Err: err}
	}
	err = sqlitedb.RetryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return &services.CacheIOError{Op: "mark delivered", Err: err}
	}
	return nil
}

// IsDelivered reports whether a paper was already sent in an earlier digest.
func (s *Store) IsDelivered(ctx context.Context, itemID string) (bool, error) {
	query, args, err := sq.Select("1").From(deliveredTable).Where(sq.Eq{"item_id": itemID}).ToSql()
	if err != nil {
		return false, &services.CacheIOError{Op: "is delivered", Err: err}
	}
	var one int
	err = sqlitedb.RetryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &services.CacheIOError{Op: "is delivered", Err: err}
	}
	return true, nil
}

// DeliveredSince lists deliveries at or after since, newest first.
func (s *Store) DeliveredSince(ctx context.Context, since time.Time) ([]Delivery, error) {
	query, args, err := sq.Select("item_id", "revision", "title", "run_id", "delivered_at").
		From(deliveredTable).
		Where(sq.GtOrEq{"delivered_at": since.UnixNano()}).
		OrderBy("delivered_at DESC", "item_id").
		ToSql()
	if err != nil {
		return nil, &services.CacheIOError{Op: "list delivered", Err: err}
	}
	var out []Delivery
	err = sqlitedb.RetryOnBusy(ctx, func() error {
		out = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				d  Delivery
				at int64
			)
			if err := rows.Scan(&d.ItemID, &d.Revision, &d.Title, &d.RunID, &at); err != nil {
				return err
			}
			d.DeliveredAt = time.Unix(0, at)
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, &services.CacheIOError{Op: "list delivered", Err: err}
	}
	return out, nil
}

// PruneDelivered drops ledger records older than before.
func (s *Store) PruneDelivered(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteWhere(ctx, "prune delivered", sq.Delete(deliveredTable).Where(sq.Lt{"delivered_at": before.UnixNano()}))
}
