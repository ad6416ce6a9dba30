package pdfstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"autosumm/internal/logging"
)

func writePDF(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestEnsureFetchesOnce(t *testing.T) {
	store := New(t.TempDir(), 10, logging.NewNop())
	var fetches atomic.Int32
	fetch := func(ctx context.Context, w io.Writer) error {
		fetches.Add(1)
		_, err := io.WriteString(w, "%PDF-1.7 demo")
		return err
	}

	first, err := store.Ensure(context.Background(), "2406.01234", "v2", fetch)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := store.Ensure(context.Background(), "2406.01234", "v2", fetch)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first != second || filepath.Base(first) != "2406.01234v2.pdf" {
		t.Fatalf("unexpected paths %q %q", first, second)
	}
	if fetches.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", fetches.Load())
	}
}

func TestEnsureFailureLeavesNoFile(t *testing.T) {
	store := New(t.TempDir(), 10, logging.NewNop())
	boom := errors.New("connection reset")
	_, err := store.Ensure(context.Background(), "hep-th/9901001", "", func(ctx context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, statErr := os.Stat(store.Path("hep-th/9901001", "")); !os.IsNotExist(statErr) {
		t.Fatalf("partial download left behind: %v", statErr)
	}
}

func TestPruneRemovesOldestUnused(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, 1, logging.NewNop())
	store.maxBytes = 1000
	store.statfs = func(string) (uint64, uint64, error) { return 100, 50, nil }

	oldest := writePDF(t, dir, "a.pdf", 400, 3*time.Hour)
	middle := writePDF(t, dir, "b.pdf", 400, 2*time.Hour)
	newest := writePDF(t, dir, "c.pdf", 400, time.Hour)
	store.markInUse(oldest)

	removed, bytesRemoved, err := store.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	// Target is 800 bytes: skipping the in-use file, b goes and the store fits.
	if removed != 1 || bytesRemoved != 400 {
		t.Fatalf("removed %d files / %d bytes", removed, bytesRemoved)
	}
	for path, want := range map[string]bool{oldest: true, middle: false, newest: true} {
		_, err := os.Stat(path)
		if exists := err == nil; exists != want {
			t.Fatalf("%s exists=%v, want %v", filepath.Base(path), exists, want)
		}
	}
}

func TestPruneHonoursFreeSpaceFloor(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, 0, logging.NewNop())
	writePDF(t, dir, "a.pdf", 10, 2*time.Hour)
	writePDF(t, dir, "b.pdf", 10, time.Hour)
	calls := 0
	store.statfs = func(string) (uint64, uint64, error) {
		calls++
		if calls == 1 {
			return 100, 5, nil
		}
		return 100, 20, nil
	}
	removed, _, err := store.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one file removed for free space, got %d", removed)
	}
}

func TestStatsListsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, 5, logging.NewNop())
	store.statfs = func(string) (uint64, uint64, error) { return 200, 100, nil }
	writePDF(t, dir, "old.pdf", 10, 2*time.Hour)
	writePDF(t, dir, "new.pdf", 20, time.Hour)
	writePDF(t, dir, "notes.txt", 99, time.Minute)

	st, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Files != 2 || st.TotalBytes != 30 || st.FreeRatio != 0.5 || st.MaxBytes != 5<<20 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Entries[0].Name != "new.pdf" {
		t.Fatalf("expected newest first, got %+v", st.Entries)
	}
}
