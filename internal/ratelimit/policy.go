package ratelimit

import (
	"math/rand/v2"
	"time"

	"autosumm/internal/config"
)

// Policy controls retry backoff for remote calls.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// PolicyFromConfig converts the [retry] settings.
func PolicyFromConfig(cfg config.Retry) Policy {
	return Policy{
		BaseDelay:  time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		MaxRetries: cfg.MaxRetries,
	}
}

// Limit is the request budget of one provider.
type Limit struct {
	// RequestsPerMinute of zero means unlimited.
	RequestsPerMinute int
	Burst             int
}

// LimitsFromConfig collects the per-provider limits from cfg.
func LimitsFromConfig(cfg *config.Config) map[string]Limit {
	limits := make(map[string]Limit, len(cfg.Providers))
	for name, p := range cfg.Providers {
		limits[name] = Limit{RequestsPerMinute: p.RequestsPerMinute, Burst: p.Burst}
	}
	return limits
}

// capDelay bounds delay to [0, MaxDelay].
func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// exponential returns min(MaxDelay, BaseDelay*2^(retry-1)) for a 1-based retry.
func (p Policy) exponential(retry int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < retry; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay/2 {
			delay = p.MaxDelay
			break
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

// equalJitter keeps half of d fixed and randomizes the other half.
func equalJitter(d time.Duration, random func(time.Duration) time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + random(d-half)
}

func randomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}
