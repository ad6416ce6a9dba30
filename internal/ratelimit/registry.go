package ratelimit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"autosumm/internal/logging"
)

type key struct {
	provider string
	stage    string
}

// Registry hands out one Wrapper per (provider, stage) pair. Wrappers of
// the same provider draw from one token bucket, since the provider's quota
// covers every stage that calls it.
type Registry struct {
	policy Policy
	limits map[string]Limit
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration
	now    func() time.Time

	mu       sync.Mutex
	wrappers map[key]*Wrapper
	limiters map[string]*rate.Limiter
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger wrappers report retries to.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithLimits sets per-provider request budgets. Providers without an entry
// are unlimited.
func WithLimits(limits map[string]Limit) Option {
	return func(r *Registry) {
		for name, l := range limits {
			r.limits[name] = l
		}
	}
}

// WithSleeper overrides how backoff waits are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Registry) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithJitter overrides the random part of backoff. The function receives
// the jitter window and returns a duration within it.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(r *Registry) {
		if jitter != nil {
			r.jitter = jitter
		}
	}
}

// WithClock overrides the time source used for Retry-After pauses.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(policy Policy, opts ...Option) *Registry {
	r := &Registry{
		policy:   policy,
		limits:   map[string]Limit{},
		sleep:    sleepContext,
		jitter:   randomDuration,
		now:      time.Now,
		wrappers: map[key]*Wrapper{},
		limiters: map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "ratelimit")
	return r
}

// Wrapper returns the wrapper for provider and stage, creating it on first
// use.
func (r *Registry) Wrapper(provider, stage string) *Wrapper {
	k := key{provider: provider, stage: stage}
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wrappers[k]; ok {
		return w
	}
	w := &Wrapper{
		provider: provider,
		stage:    stage,
		policy:   r.policy,
		limiter:  r.limiter(provider),
		logger:   r.logger,
		sleep:    r.sleep,
		jitter:   r.jitter,
		now:      r.now,
	}
	r.wrappers[k] = w
	return w
}

// Stats returns a snapshot of every wrapper, ordered by provider and stage.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	out := make([]Stats, 0, len(r.wrappers))
	for _, w := range r.wrappers {
		out = append(out, w.Stats())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Stage < out[j].Stage
	})
	return out
}

// limiter returns the provider's shared bucket. Callers hold r.mu.
func (r *Registry) limiter(provider string) *rate.Limiter {
	if l, ok := r.limiters[provider]; ok {
		return l
	}
	l := newLimiter(r.limits[provider])
	r.limiters[provider] = l
	return l
}

func newLimiter(l Limit) *rate.Limiter {
	if l.RequestsPerMinute <= 0 {
		return nil
	}
	burst := max(l.Burst, 1)
	return rate.NewLimiter(rate.Limit(float64(l.RequestsPerMinute)/60), burst)
}
