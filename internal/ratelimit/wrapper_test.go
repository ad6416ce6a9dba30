package ratelimit_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"autosumm/internal/ratelimit"
	"autosumm/internal/services"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newRegistry(sleeper *recordingSleeper, jitter func(time.Duration) time.Duration, maxRetries int) *ratelimit.Registry {
	return ratelimit.NewRegistry(
		ratelimit.Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, MaxRetries: maxRetries},
		ratelimit.WithSleeper(sleeper.Sleep),
		ratelimit.WithJitter(jitter),
	)
}

func fullJitter(d time.Duration) time.Duration { return d }
func noJitter(time.Duration) time.Duration     { return 0 }

func TestInvokeRetriesTooManyRequestsThenSucceeds(t *testing.T) {
	jitterCalls := 0
	// Alternate between the top and bottom of the window so a naive
	// schedule would shrink between retries.
	jitter := func(d time.Duration) time.Duration {
		jitterCalls++
		if jitterCalls%2 == 1 {
			return d
		}
		return 0
	}
	sleeper := &recordingSleeper{}
	w := newRegistry(sleeper, jitter, 5).Wrapper("deepseek", "rate")

	calls := 0
	got, err := ratelimit.Invoke(context.Background(), w, func(context.Context) (string, error) {
		calls++
		if calls <= 3 {
			return "", &services.StatusError{StatusCode: 429, Body: "slow down"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "ok" || calls != 4 {
		t.Fatalf("unexpected result %q after %d calls", got, calls)
	}
	waits := sleeper.Waits()
	if len(waits) != 3 {
		t.Fatalf("expected 3 waits, got %v", waits)
	}
	for i := 1; i < len(waits); i++ {
		if waits[i] < waits[i-1] {
			t.Fatalf("waits decreased: %v", waits)
		}
	}
	if waits[0] < 50*time.Millisecond || waits[0] > 100*time.Millisecond {
		t.Fatalf("first wait outside equal-jitter window: %v", waits[0])
	}
	if stats := w.Stats(); stats.Calls != 4 || stats.Retries != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInvokeBackoffIsCapped(t *testing.T) {
	sleeper := &recordingSleeper{}
	w := newRegistry(sleeper, fullJitter, 8).Wrapper("p", "summarize")
	_, err := ratelimit.Invoke(context.Background(), w, func(context.Context) (int, error) {
		return 0, services.ErrTransient
	})
	var exhausted *services.StageExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	for _, wait := range sleeper.Waits() {
		if wait > 2*time.Second {
			t.Fatalf("wait %v exceeds cap", wait)
		}
	}
	if last := sleeper.Waits()[len(sleeper.Waits())-1]; last != 2*time.Second {
		t.Fatalf("expected backoff to reach the cap, got %v", last)
	}
}

func TestInvokeFatalDoesNotRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth", &services.StatusError{StatusCode: 401}},
		{"bad request", &services.StatusError{StatusCode: 400, Body: "malformed"}},
		{"validation", fmt.Errorf("bad input: %w", services.ErrValidation)},
		{"unknown", errors.New("something odd")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleeper{}
			w := newRegistry(sleeper, noJitter, 5).Wrapper("p", "rate")
			calls := 0
			ctx := services.WithItemID(context.Background(), "2403.00001")
			_, err := ratelimit.Invoke(ctx, w, func(context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			var fatal *services.StageFatalError
			if !errors.As(err, &fatal) {
				t.Fatalf("expected StageFatalError, got %v", err)
			}
			if fatal.ItemID != "2403.00001" || fatal.Stage != "rate" {
				t.Fatalf("unexpected error detail: %+v", fatal)
			}
			if calls != 1 || len(sleeper.Waits()) != 0 {
				t.Fatalf("expected a single call without waits, got calls=%d waits=%v", calls, sleeper.Waits())
			}
		})
	}
}

func TestInvokeExhaustsRetryBudget(t *testing.T) {
	sleeper := &recordingSleeper{}
	w := newRegistry(sleeper, noJitter, 2).Wrapper("p", "embed")
	calls := 0
	_, err := ratelimit.Invoke(context.Background(), w, func(context.Context) (int, error) {
		calls++
		return 0, &services.StatusError{StatusCode: 503}
	})
	var exhausted *services.StageExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected StageExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls=%d)", exhausted.Attempts, calls)
	}
	if services.IsRunFatal(err) {
		t.Fatal("exhaustion must stay an item failure")
	}
}

func TestInvokeHonorsRetryAfterAndPausesWrapper(t *testing.T) {
	sleeper := &recordingSleeper{}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	reg := ratelimit.NewRegistry(
		ratelimit.Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 5 * time.Second, MaxRetries: 3},
		ratelimit.WithSleeper(sleeper.Sleep),
		ratelimit.WithJitter(noJitter),
		ratelimit.WithClock(func() time.Time { return now }),
	)
	w := reg.Wrapper("p", "rate")

	calls := 0
	_, err := ratelimit.Invoke(context.Background(), w, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &services.StatusError{StatusCode: 429, RetryAfter: time.Minute}
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	waits := sleeper.Waits()
	if len(waits) == 0 || waits[0] != 5*time.Second {
		t.Fatalf("expected capped Retry-After wait, got %v", waits)
	}

	// The clock has not moved, so another item must wait out the pause first.
	before := len(sleeper.Waits())
	if _, err := ratelimit.Invoke(context.Background(), w, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("second Invoke: %v", err)
	}
	if len(sleeper.Waits()) != before+1 {
		t.Fatalf("expected the paused wrapper to hold the next caller, waits=%v", sleeper.Waits())
	}
	if other := reg.Wrapper("p", "summarize"); other == w {
		t.Fatal("expected separate wrappers per stage")
	}
}

func TestInvokeReturnsInterruptedOnCancel(t *testing.T) {
	sleeper := &recordingSleeper{}
	w := newRegistry(sleeper, noJitter, 5).Wrapper("p", "summarize")
	ctx, cancel := context.WithCancel(context.Background())
	_, err := ratelimit.Invoke(ctx, w, func(context.Context) (int, error) {
		cancel()
		return 0, &services.StatusError{StatusCode: 500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if services.IsItemFailure(err) {
		t.Fatal("cancellation must not be reported as an item failure")
	}
}

func TestInvokePassesRunFatalErrorsThrough(t *testing.T) {
	w := newRegistry(&recordingSleeper{}, noJitter, 5).Wrapper("p", "rate")
	want := &services.CacheIOError{Op: "put", Err: errors.New("disk full")}
	_, err := ratelimit.Invoke(context.Background(), w, func(context.Context) (int, error) { return 0, want })
	if !errors.Is(err, want) {
		t.Fatalf("expected run-fatal error unchanged, got %v", err)
	}
}

func TestLimiterThrottlesProvider(t *testing.T) {
	reg := ratelimit.NewRegistry(ratelimit.Policy{}, ratelimit.WithLimits(map[string]ratelimit.Limit{
		"slow": {RequestsPerMinute: 60, Burst: 1},
	}))
	w := reg.Wrapper("slow", "rate")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := ratelimit.Invoke(ctx, w, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// The second token arrives after one second, past the deadline.
	_, err := ratelimit.Invoke(ctx, w, func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the limiter to block past the deadline, got %v", err)
	}

	free := reg.Wrapper("fast", "rate")
	if _, err := ratelimit.Invoke(ctx, free, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("unlimited provider should not block: %v", err)
	}
}

func TestWrappersOfOneProviderShareBucket(t *testing.T) {
	reg := ratelimit.NewRegistry(ratelimit.Policy{MaxRetries: 0},
		ratelimit.WithLimits(map[string]ratelimit.Limit{
			"deepseek": {RequestsPerMinute: 1, Burst: 1},
			"ollama":   {RequestsPerMinute: 1, Burst: 1},
		}),
	)
	call := func(w *ratelimit.Wrapper) error {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err := ratelimit.Invoke(ctx, w, func(context.Context) (int, error) { return 1, nil })
		return err
	}

	if err := call(reg.Wrapper("deepseek", "rate")); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// The only token of the minute is gone, for every deepseek stage.
	if err := call(reg.Wrapper("deepseek", "summarize")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected summarize to wait on the shared bucket, got %v", err)
	}
	if err := call(reg.Wrapper("ollama", "rate")); err != nil {
		t.Fatalf("other provider should not be throttled: %v", err)
	}
}
