package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"autosumm/internal/item"
	"autosumm/internal/ratelimit"
	"autosumm/internal/services"
	"autosumm/internal/stage"
	"autosumm/internal/workflow"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]item.Payload
	getErr  error
	putErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]item.Payload{}}
}

func (m *memoryCache) Get(_ context.Context, token string) (item.Payload, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return item.Payload{}, false, m.getErr
	}
	p, ok := m.entries[token]
	return p, ok, nil
}

func (m *memoryCache) Put(_ context.Context, token string, p item.Payload, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[token] = p
	return nil
}

func (m *memoryCache) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// callLog counts executor invocations per "stage/item".
type callLog struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *callLog) record(name stage.Name, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[string(name)+"/"+id]++
}

func (c *callLog) count(name stage.Name, id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[string(name)+"/"+id]
}

func (c *callLog) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func textStage(name stage.Name, log *callLog) stage.Definition {
	return stage.Definition{
		Name:     name,
		Provider: "local",
		Enabled:  true,
		Workers:  2,
		Config:   map[string]any{"mode": "default"},
		Executor: stage.ExecutorFunc(func(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
			log.record(name, w.ID)
			return item.TextPayload(string(name), fmt.Sprintf("%s:%s:%d", name, w.ID, len(w.Payloads))), nil
		}),
	}
}

func newItems(ids ...string) []*item.WorkItem {
	out := make([]*item.WorkItem, 0, len(ids))
	for _, id := range ids {
		w := item.New(id, "v1")
		w.Title = "Paper " + id
		out = append(out, w)
	}
	return out
}

func newCoordinator(cache workflow.ResultCache, opts ...workflow.Option) *workflow.Coordinator {
	limits := ratelimit.NewRegistry(
		ratelimit.Policy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 1},
		ratelimit.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	return workflow.NewCoordinator(cache, limits, opts...)
}

func TestFailedItemIsRetriedAloneOnRerun(t *testing.T) {
	cache := newMemoryCache()
	calls := &callLog{}
	failA := true
	rate := stage.Definition{
		Name:     stage.Rate,
		Provider: "llm",
		Enabled:  true,
		Workers:  1,
		Config:   map[string]any{"criteria": map[string]any{"novelty": 1.0}},
		Executor: stage.ExecutorFunc(func(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
			calls.record(stage.Rate, w.ID)
			if w.ID == "A" && failA {
				return item.Payload{}, services.Wrap(services.ErrValidation, "rate", "decode", "model returned no ratings", nil)
			}
			return item.ScorePayload("rate", item.Score{Value: 7}), nil
		}),
	}
	defs := []stage.Definition{textStage(stage.Parse, calls), rate}
	coord := newCoordinator(cache)

	first := workflow.NewLedger(nil)
	if err := coord.Run(context.Background(), first, newItems("A", "B", "C"), defs); err != nil {
		t.Fatalf("first run: %v", err)
	}
	entryA, _ := first.Entry("A")
	if entryA.Status != item.StatusFailed || entryA.Stage != "rate" || entryA.ErrorKind != "stage_fatal" {
		t.Fatalf("unexpected entry for A: %+v", entryA)
	}
	for _, id := range []string{"B", "C"} {
		if got := first.Status(id); got != item.StatusSucceeded {
			t.Fatalf("item %s status = %s, want succeeded", id, got)
		}
	}
	if cache.size() != 5 {
		t.Fatalf("expected 5 cached results after first run, got %d", cache.size())
	}
	manifest := first.Manifest()
	if manifest.Totals.Failed != 1 || manifest.Totals.Succeeded != 2 || manifest.Items[0].ItemID != "A" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	failA = false
	before := calls.total()
	second := workflow.NewLedger(nil)
	if err := coord.Run(context.Background(), second, newItems("A", "B", "C"), defs); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := calls.total() - before; got != 1 {
		t.Fatalf("second run invoked %d executors, want 1", got)
	}
	if calls.count(stage.Rate, "A") != 2 || calls.count(stage.Parse, "A") != 1 {
		t.Fatalf("unexpected call counts: %+v", calls.calls)
	}
	for _, id := range []string{"A", "B", "C"} {
		if got := second.Status(id); got != item.StatusSucceeded {
			t.Fatalf("item %s status = %s after rerun", id, got)
		}
	}
	entryB, _ := second.Entry("B")
	if entryB.CacheHits != 2 || entryB.Invocations != 0 {
		t.Fatalf("expected B served from cache, got %+v", entryB)
	}
}

func TestDisabledStageLeavesChainUnchanged(t *testing.T) {
	calls := &callLog{}
	parse := textStage(stage.Parse, calls)
	refine := textStage(stage.Refine, calls)
	summarize := textStage(stage.Summarize, calls)

	run := func(defs []stage.Definition) *item.WorkItem {
		t.Helper()
		items := newItems("2406.00001")
		if err := newCoordinator(newMemoryCache()).Run(context.Background(), workflow.NewLedger(nil), items, defs); err != nil {
			t.Fatalf("run: %v", err)
		}
		return items[0]
	}

	refine.Enabled = false
	withDisabled := run([]stage.Definition{parse, refine, summarize})
	without := run([]stage.Definition{parse, summarize})
	if !slices.Equal(withDisabled.Chain, without.Chain) {
		t.Fatalf("disabled stage changed the chain:\n%v\n%v", withDisabled.Chain, without.Chain)
	}
	if _, ok := withDisabled.Payload("refine"); ok {
		t.Fatal("disabled stage produced a payload")
	}
	if calls.count(stage.Refine, "2406.00001") != 0 {
		t.Fatal("disabled stage executor was called")
	}

	refine.Enabled = true
	withRefine := run([]stage.Definition{parse, refine, summarize})
	if len(withRefine.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d", len(withRefine.Chain))
	}
	if withRefine.Chain[0] != without.Chain[0] {
		t.Fatal("enabling a later stage changed an upstream fingerprint")
	}
	if withRefine.Chain[2] == without.Chain[1] {
		t.Fatal("enabling refine did not change the summarize fingerprint")
	}
}

func TestCancellationLeavesItemInProgress(t *testing.T) {
	cache := newMemoryCache()
	started := make(chan struct{})
	var once sync.Once
	blocking := stage.Definition{
		Name:     stage.Summarize,
		Provider: "llm",
		Enabled:  true,
		Workers:  1,
		Executor: stage.ExecutorFunc(func(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return item.Payload{}, ctx.Err()
		}),
	}
	ledger := workflow.NewLedger(nil)
	coord := newCoordinator(cache, workflow.WithCancelGrace(0), workflow.WithItemWorkers(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- coord.Run(ctx, ledger, newItems("A", "B"), []stage.Definition{textStage(stage.Parse, &callLog{}), blocking})
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("executor never started")
	}
	cancel()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	entry, _ := ledger.Entry("A")
	if entry.Status != item.StatusInProgress || entry.Stage != "summarize" || entry.ErrorKind != workflow.KindInterrupted {
		t.Fatalf("unexpected entry after cancel: %+v", entry)
	}
	if got := ledger.Status("B"); got != item.StatusPending {
		t.Fatalf("unscheduled item status = %s, want pending", got)
	}
	if cache.size() != 1 {
		t.Fatalf("expected only the parse result cached, got %d entries", cache.size())
	}
}

func TestConsistencyErrorAbortsRun(t *testing.T) {
	cache := newMemoryCache()
	cache.putErr = &services.CacheConsistencyError{Token: "abc", Stage: "parse"}
	calls := &callLog{}

	ledger := workflow.NewLedger(nil)
	err := newCoordinator(cache, workflow.WithItemWorkers(1)).Run(context.Background(), ledger, newItems("A", "B", "C"), []stage.Definition{textStage(stage.Parse, calls)})
	var consistency *services.CacheConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("expected CacheConsistencyError, got %v", err)
	}
	if calls.total() >= 3 {
		t.Fatalf("run kept going after abort: %d calls", calls.total())
	}
	if ledger.Manifest().Totals.Succeeded != 0 {
		t.Fatal("no item may succeed when every store fails")
	}
}

func TestCacheReadFailureAbortsRun(t *testing.T) {
	cache := newMemoryCache()
	cache.getErr = &services.CacheIOError{Op: "get", Err: errors.New("disk I/O error")}
	calls := &callLog{}

	ledger := workflow.NewLedger(nil)
	err := newCoordinator(cache).Run(context.Background(), ledger, newItems("A", "B", "C"), []stage.Definition{
		textStage(stage.Parse, calls),
		textStage(stage.Summarize, calls),
	})
	var cacheIO *services.CacheIOError
	if !errors.As(err, &cacheIO) {
		t.Fatalf("expected CacheIOError, got %v", err)
	}
	if !services.IsRunFatal(err) {
		t.Fatalf("cache read failure must be run fatal: %v", err)
	}
	if calls.total() != 0 {
		t.Fatalf("a failed cache read was treated as a miss: %d executor calls", calls.total())
	}
	if got := ledger.Manifest().Totals.Succeeded; got != 0 {
		t.Fatalf("succeeded = %d, want 0", got)
	}
}

func TestCacheWriteFailureAbortsRun(t *testing.T) {
	cache := newMemoryCache()
	cache.putErr = &services.CacheIOError{Op: "put", Err: errors.New("database is locked")}
	calls := &callLog{}

	ledger := workflow.NewLedger(nil)
	err := newCoordinator(cache, workflow.WithItemWorkers(1)).Run(context.Background(), ledger, newItems("A", "B", "C"), []stage.Definition{
		textStage(stage.Parse, calls),
		textStage(stage.Summarize, calls),
	})
	var cacheIO *services.CacheIOError
	if !errors.As(err, &cacheIO) {
		t.Fatalf("expected CacheIOError, got %v", err)
	}
	if n := calls.count(stage.Summarize, "A") + calls.count(stage.Summarize, "B") + calls.count(stage.Summarize, "C"); n != 0 {
		t.Fatalf("later stages ran after a failed write: %d calls", n)
	}
}

func TestNonFiniteScoreFailsOnlyThatItem(t *testing.T) {
	cache := newMemoryCache()
	rate := stage.Definition{
		Name:     stage.Rate,
		Provider: "local",
		Enabled:  true,
		Workers:  2,
		Config:   map[string]any{"model": "m"},
		Executor: stage.ExecutorFunc(func(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
			value := 7.0
			if w.ID == "A" {
				value = math.NaN()
			}
			return item.ScorePayload(string(stage.Rate), item.Score{Value: value}), nil
		}),
	}

	ledger := workflow.NewLedger(nil)
	if err := newCoordinator(cache).Run(context.Background(), ledger, newItems("A", "B"), []stage.Definition{rate}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := ledger.Status("A"); got != item.StatusFailed {
		t.Fatalf("A status = %s, want failed", got)
	}
	if got := ledger.Status("B"); got != item.StatusSucceeded {
		t.Fatalf("B status = %s, want succeeded", got)
	}
	if entry, _ := ledger.Entry("A"); entry.ErrorKind != "stage_fatal" {
		t.Fatalf("A error kind = %q, want stage_fatal", entry.ErrorKind)
	}
	if cache.size() != 1 {
		t.Fatalf("cached %d results, want only B's", cache.size())
	}
}

func TestLedgerObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []item.Status
	ledger := workflow.NewLedger(func(tr workflow.Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr.Status)
	})
	if err := newCoordinator(newMemoryCache()).Run(context.Background(), ledger, newItems("A"), []stage.Definition{textStage(stage.Parse, &callLog{})}); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []item.Status{item.StatusInProgress, item.StatusSucceeded}
	if !slices.Equal(seen, want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
}

func TestTerminalItemsAreNotReentered(t *testing.T) {
	calls := &callLog{}
	ledger := workflow.NewLedger(nil)
	items := newItems("A", "B")
	for _, w := range items {
		ledger.Track(w)
	}
	ledger.Skip("B", "not selected")
	if err := newCoordinator(newMemoryCache()).Run(context.Background(), ledger, items, []stage.Definition{textStage(stage.Summarize, calls)}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.count(stage.Summarize, "B") != 0 {
		t.Fatal("skipped item was processed")
	}
	if ledger.Status("B") != item.StatusSkipped || ledger.Status("A") != item.StatusSucceeded {
		t.Fatalf("unexpected statuses: A=%s B=%s", ledger.Status("A"), ledger.Status("B"))
	}
}
