package registry_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"autosumm/internal/item"
	"autosumm/internal/registry"
)

func openStore(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.Open(context.Background(), filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func paper(id, rev string) *item.WorkItem {
	w := item.New(id, rev)
	w.Title = "Paper " + id
	w.Category = "cs.CL"
	w.PDFURL = "https://arxiv.org/pdf/" + id + rev
	w.PublishedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return w
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	if err := store.Upsert(ctx, "run-1", []*item.WorkItem{paper("2403.00001", "v1")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec, err := store.Get(ctx, "2403.00001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || rec.Status != item.StatusPending || rec.LastRunID != "run-1" {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if !rec.PublishedAt.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected published time: %v", rec.PublishedAt)
	}
	w := rec.WorkItem()
	if w.Identity() != "2403.00001@v1" || w.Title != "Paper 2403.00001" {
		t.Fatalf("unexpected work item: %#v", w)
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown item, got %#v err=%v", missing, err)
	}
}

func TestOutcomesCountAttemptsAndPrune(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	a, b := paper("a", "v1"), paper("b", "v1")

	for run := 1; run <= 3; run++ {
		if err := store.Upsert(ctx, "run", []*item.WorkItem{a, b}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		err := store.RecordOutcome(ctx, "run", []registry.Outcome{
			{ID: "a", Status: item.StatusFailed, Stage: "rate", ErrorKind: "stage_fatal", Message: "rejected"},
			{ID: "b", Status: item.StatusSucceeded, Stage: "summarize"},
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	rec, _ := store.Get(ctx, "a")
	if rec.Attempts != 3 || rec.ErrorKind != "stage_fatal" || rec.LastStage != "rate" {
		t.Fatalf("unexpected failed record: %#v", rec)
	}

	pruned, err := store.PruneExhausted(ctx, 3)
	if err != nil {
		t.Fatalf("PruneExhausted: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	if rec, _ := store.Get(ctx, "a"); rec != nil {
		t.Fatal("expected exhausted item to be removed")
	}
	if rec, _ := store.Get(ctx, "b"); rec == nil || rec.Attempts != 0 {
		t.Fatalf("expected succeeded item to stay, got %#v", rec)
	}
}

func TestNewRevisionResetsAttempts(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_ = store.Upsert(ctx, "r1", []*item.WorkItem{paper("a", "v1")})
	_ = store.RecordOutcome(ctx, "r1", []registry.Outcome{{ID: "a", Status: item.StatusFailed}})
	_ = store.Upsert(ctx, "r2", []*item.WorkItem{paper("a", "v1")})
	if rec, _ := store.Get(ctx, "a"); rec.Attempts != 1 {
		t.Fatalf("expected attempts kept for same revision, got %d", rec.Attempts)
	}
	_ = store.Upsert(ctx, "r3", []*item.WorkItem{paper("a", "v2")})
	rec, _ := store.Get(ctx, "a")
	if rec.Attempts != 0 || rec.Revision != "v2" {
		t.Fatalf("expected reset for new revision, got %#v", rec)
	}
}

func TestResetInProgressAndRetryFailed(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	_ = store.Upsert(ctx, "r1", []*item.WorkItem{paper("a", "v1"), paper("b", "v1"), paper("c", "v1")})

	if err := store.UpdateProgress(ctx, "a", item.StatusInProgress, "summarize"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	_ = store.RecordOutcome(ctx, "r1", []registry.Outcome{
		{ID: "b", Status: item.StatusFailed, ErrorKind: "stage_exhausted"},
		{ID: "c", Status: item.StatusFailed, ErrorKind: "stage_fatal"},
	})

	n, err := store.ResetInProgress(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetInProgress: n=%d err=%v", n, err)
	}
	if rec, _ := store.Get(ctx, "a"); rec.Status != item.StatusPending || rec.LastStage != "summarize" {
		t.Fatalf("unexpected reset record: %#v", rec)
	}

	n, err = store.RetryFailed(ctx, "b")
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed: n=%d err=%v", n, err)
	}
	pending, err := store.List(ctx, registry.Filter{Statuses: []item.Status{item.StatusPending}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending items, got %d", len(pending))
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[item.StatusFailed] != 1 || stats[item.StatusPending] != 2 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestRunHistory(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b"} {
		run := registry.Run{ID: id, Category: "cs.CL", StartedAt: start.Add(time.Duration(i) * time.Hour)}
		if err := store.BeginRun(ctx, run); err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
		run.FinishedAt = run.StartedAt.Add(5 * time.Minute)
		run.Discovered, run.Succeeded, run.Failed = 10, 8, 2
		if err := store.FinishRun(ctx, run); err != nil {
			t.Fatalf("FinishRun: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-b" {
		t.Fatalf("expected newest run first, got %#v", runs)
	}
	if runs[0].Duration() != 5*time.Minute || runs[0].Failed != 2 {
		t.Fatalf("unexpected run totals: %#v", runs[0])
	}
}
