package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"autosumm/internal/logging"
	"autosumm/internal/services"
)

// Wrapper throttles and retries calls to one (provider, stage) pair. The
// token bucket is shared with the provider's other stages; the pause after
// a Retry-After hint holds only this pair.
type Wrapper struct {
	provider string
	stage    string
	policy   Policy
	limiter  *rate.Limiter
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	jitter   func(time.Duration) time.Duration
	now      func() time.Time

	mu          sync.Mutex
	pausedUntil time.Time

	calls    atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
}

// Invoke runs fn under w's rate limit and retry policy. It returns fn's
// result, a *services.StageFatalError for non-retryable failures, or a
// *services.StageExhaustedError once the retries are used up. When ctx ends
// first the context error is returned wrapped, so callers can tell an
// interrupted call from a failed one. Errors that must abort the run pass
// through untouched.
func Invoke[T any](ctx context.Context, w *Wrapper, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	itemID, _ := services.ItemIDFromContext(ctx)
	logger := logging.WithContext(ctx, w.logger)

	var previous time.Duration
	for attempt := 1; ; attempt++ {
		if err := w.acquire(ctx); err != nil {
			return zero, w.interrupted(err)
		}
		w.calls.Add(1)
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if services.IsRunFatal(err) || services.IsItemFailure(err) {
			return zero, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, w.interrupted(ctxErr)
		}

		class, hint := services.Classify(err)
		switch class {
		case services.ClassCanceled:
			return zero, w.interrupted(err)
		case services.ClassFatal:
			w.failures.Add(1)
			return zero, &services.StageFatalError{Stage: w.stage, ItemID: itemID, Err: err}
		}
		if attempt > w.policy.MaxRetries {
			w.failures.Add(1)
			return zero, &services.StageExhaustedError{Stage: w.stage, ItemID: itemID, Attempts: attempt, Err: err}
		}

		wait := w.backoff(attempt, previous, hint)
		previous = wait
		if hint > 0 {
			w.pause(wait)
		}
		w.retries.Add(1)
		logger.Debug("retrying remote call",
			logging.String("provider", w.provider),
			logging.String(logging.FieldStage, w.stage),
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Duration("retry_after", hint),
			logging.ErrorKind(err),
			logging.Error(err),
		)
		if err := w.sleep(ctx, wait); err != nil {
			return zero, w.interrupted(err)
		}
	}
}

// backoff returns the wait before the next attempt. Waits never shrink from
// one retry to the next, and a server hint raises the wait up to MaxDelay.
func (w *Wrapper) backoff(retry int, previous, hint time.Duration) time.Duration {
	wait := equalJitter(w.policy.exponential(retry), w.jitter)
	if hinted := w.policy.capDelay(hint); hinted > wait {
		wait = hinted
	}
	return max(wait, previous)
}

// pause holds every caller of this wrapper until d has passed.
func (w *Wrapper) pause(d time.Duration) {
	until := w.now().Add(d)
	w.mu.Lock()
	if until.After(w.pausedUntil) {
		w.pausedUntil = until
	}
	w.mu.Unlock()
}

func (w *Wrapper) acquire(ctx context.Context) error {
	w.mu.Lock()
	wait := w.pausedUntil.Sub(w.now())
	w.mu.Unlock()
	if wait > 0 {
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
	if w.limiter == nil {
		return ctx.Err()
	}
	return w.limiter.Wait(ctx)
}

func (w *Wrapper) interrupted(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s/%s interrupted: %w", w.provider, w.stage, err)
	}
	// rate.Limiter reports a wait that would outlast the deadline without
	// wrapping the context error.
	return fmt.Errorf("%s/%s interrupted: %w: %w", w.provider, w.stage, context.DeadlineExceeded, err)
}

// Stats is a snapshot of one wrapper's counters.
type Stats struct {
	Provider string `json:"provider"`
	Stage    string `json:"stage"`
	Calls    int64  `json:"calls"`
	Retries  int64  `json:"retries"`
	Failures int64  `json:"failures"`
}

// Stats returns the wrapper's counters.
func (w *Wrapper) Stats() Stats {
	return Stats{
		Provider: w.provider,
		Stage:    w.stage,
		Calls:    w.calls.Load(),
		Retries:  w.retries.Load(),
		Failures: w.failures.Load(),
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
