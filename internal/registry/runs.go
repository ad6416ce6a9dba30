package registry

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"

	"autosumm/internal/services"
)

// Run is the history record of one pipeline run.
type Run struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	DryRun      bool      `json:"dry_run,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Discovered  int       `json:"discovered"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	InProgress  int       `json:"in_progress"`
	CacheHits   int       `json:"cache_hits"`
	Invocations int       `json:"invocations"`
	Delivered   int       `json:"delivered"`
	AbortReason string    `json:"abort_reason,omitempty"`
}

// Duration reports how long a finished run took.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	_, err := s.affected(ctx, "begin run",
		`INSERT INTO runs (id, category, dry_run, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Category, run.DryRun, run.StartedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// FinishRun stores the totals and end time of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.now()
	}
	_, err := s.affected(ctx, "finish run",
		`UPDATE runs
         SET finished_at = ?, discovered = ?, succeeded = ?, failed = ?, skipped = ?,
             in_progress = ?, cache_hits = ?, invocations = ?, delivered = ?, abort_reason = ?
         WHERE id = ?`,
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Discovered,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.InProgress,
		run.CacheHits,
		run.Invocations,
		run.Delivered,
		nullableString(run.AbortReason),
		run.ID,
	)
	return err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit uint64) ([]Run, error) {
	builder := sq.Select(
		"id", "category", "dry_run", "started_at", "finished_at", "discovered", "succeeded",
		"failed", "skipped", "in_progress", "cache_hits", "invocations", "delivered", "abort_reason",
	).From("runs").OrderBy("started_at DESC")
	if limit > 0 {
		builder = builder.Limit(limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &services.CacheIOError{Op: "list runs", Err: err}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &services.CacheIOError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run         Run
			startedRaw  string
			finishedRaw sql.NullString
			abortReason sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &run.Category, &run.DryRun, &startedRaw, &finishedRaw,
			&run.Discovered, &run.Succeeded, &run.Failed, &run.Skipped, &run.InProgress,
			&run.CacheHits, &run.Invocations, &run.Delivered, &abortReason,
		); err != nil {
			return nil, &services.CacheIOError{Op: "list runs", Err: err}
		}
		if t, err := parseTimeString(startedRaw); err == nil {
			run.StartedAt = t
		}
		if t, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = t
		}
		run.AbortReason = abortReason.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, &services.CacheIOError{Op: "list runs", Err: err}
	}
	return runs, nil
}
