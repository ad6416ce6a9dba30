package stage

import (
	"context"

	"autosumm/internal/item"
)

// Executor performs one stage for one item. The item carries the payloads of
// every earlier stage; Execute must not mutate it. Failures should be
// classifiable by services.Classify so the rate-limited wrapper can decide
// whether to retry.
type Executor interface {
	Execute(context.Context, *item.WorkItem) (item.Payload, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(context.Context, *item.WorkItem) (item.Payload, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
	return f(ctx, w)
}
