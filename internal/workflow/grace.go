package workflow

import (
	"context"
	"sync"
	"time"
)

// graceContext returns a context that keeps running after parent is
// cancelled and ends grace later. In-flight stage invocations use it so a
// shutdown lets them finish or notice cancellation in their own time.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	stop := context.AfterFunc(parent, func() {
		if grace <= 0 {
			cancel()
			return
		}
		mu.Lock()
		timer = time.AfterFunc(grace, cancel)
		mu.Unlock()
	})
	return ctx, func() {
		stop()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		cancel()
	}
}
