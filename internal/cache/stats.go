package cache

import (
	"context"
	"path/filepath"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sys/unix"

	"autosumm/internal/services"
	"autosumm/internal/sqlitedb"
)

// StageStats counts the entries a single stage holds.
type StageStats struct {
	Stage   string `json:"stage"`
	Entries int    `json:"entries"`
	Expired int    `json:"expired"`
	Bytes   int64  `json:"bytes"`
}

// Stats describes current cache usage.
type Stats struct {
	Entries   int          `json:"entries"`
	Expired   int          `json:"expired"`
	Delivered int          `json:"delivered"`
	FileBytes int64        `json:"file_bytes"`
	FreeBytes uint64       `json:"free_bytes"`
	Stages    []StageStats `json:"stages"`
}

// Stats summarizes the cache contents per stage.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	now := s.now().UnixNano()
	query, args, err := sq.Select("stage", "COUNT(*)").
		Column(sq.Expr("COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)", now)).
		Column("COALESCE(SUM(LENGTH(payload)), 0)").
		From(entriesTable).
		GroupBy("stage").
		ToSql()
	if err != nil {
		return Stats{}, &services.CacheIOError{Op: "stats", Err: err}
	}

	var stats Stats
	err = sqlitedb.RetryOnBusy(ctx, func() error {
		stats = Stats{}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var st StageStats
			if err := rows.Scan(&st.Stage, &st.Entries, &st.Expired, &st.Bytes); err != nil {
				return err
			}
			stats.Entries += st.Entries
			stats.Expired += st.Expired
			stats.Stages = append(stats.Stages, st)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+deliveredTable).Scan(&stats.Delivered)
	})
	if err != nil {
		return Stats{}, &services.CacheIOError{Op: "stats", Err: err}
	}
	sort.Slice(stats.Stages, func(i, j int) bool { return stats.Stages[i].Stage < stats.Stages[j].Stage })

	stats.FileBytes = sqlitedb.FileSize(s.path)
	if free, err := freeBytes(filepath.Dir(s.path)); err == nil {
		stats.FreeBytes = free
	}
	return stats, nil
}

func freeBytes(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
