package sqlitedb_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"autosumm/internal/sqlitedb"
)

const testSchema = `
CREATE TABLE schema_version (version INTEGER NOT NULL);
CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
`

func TestOpenCreatesSchemaAndChecksVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{SQL: testSchema, Version: 1, ResetHint: "delete it"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO things (name) VALUES (?)", "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal, got %q", mode)
	}
	_ = db.Close()

	db, err = sqlitedb.Open(ctx, path, sqlitedb.Schema{SQL: testSchema, Version: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = db.Close()

	_, err = sqlitedb.Open(ctx, path, sqlitedb.Schema{SQL: testSchema, Version: 2, ResetHint: "delete it"})
	if !errors.Is(err, sqlitedb.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := sqlitedb.RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got err=%v calls=%d", err, calls)
	}

	calls = 0
	boom := errors.New("constraint failed")
	if err := sqlitedb.RetryOnBusy(context.Background(), func() error { calls++; return boom }); !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected non-busy error to return immediately, got err=%v calls=%d", err, calls)
	}
}
