package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"autosumm/internal/fingerprint"
	"autosumm/internal/item"
	"autosumm/internal/logging"
	"autosumm/internal/ratelimit"
	"autosumm/internal/services"
	"autosumm/internal/stage"
)

// ResultCache is the persistent store of stage results keyed by fingerprint.
type ResultCache interface {
	Get(ctx context.Context, token string) (item.Payload, bool, error)
	Put(ctx context.Context, token string, payload item.Payload, ttl time.Duration) error
}

const (
	defaultTTL         = 16 * 24 * time.Hour
	defaultItemWorkers = 8
	defaultCancelGrace = 30 * time.Second
)

// Coordinator drives work items through the enabled stages of a pipeline,
// consulting the result cache before every invocation.
type Coordinator struct {
	cache       ResultCache
	limits      *ratelimit.Registry
	logger      *slog.Logger
	ttl         time.Duration
	itemWorkers int
	grace       time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTTL sets how long stored results stay valid.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithItemWorkers bounds how many items are in flight at once.
func WithItemWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.itemWorkers = n
		}
	}
}

// WithCancelGrace sets how long in-flight invocations may keep running after
// the run is cancelled. Zero cancels them immediately.
func WithCancelGrace(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// NewCoordinator wires a coordinator to its cache and rate limits.
func NewCoordinator(cache ResultCache, limits *ratelimit.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		cache:       cache,
		limits:      limits,
		logger:      logging.NewNop(),
		ttl:         defaultTTL,
		itemWorkers: defaultItemWorkers,
		grace:       defaultCancelGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "workflow")
	if c.limits == nil {
		c.limits = ratelimit.NewRegistry(ratelimit.Policy{}, ratelimit.WithLogger(c.logger))
	}
	return c
}

// Run passes every item through the enabled stages of defs in order. Items
// are updated in place: each completed stage stores its payload on the item
// and appends its fingerprint to the item's chain, so a later Run over the
// same items continues the chain.
//
// Per-item failures are recorded in the ledger and do not stop other items.
// A run-aborting error (unresolved configuration or a cache failure) cancels
// the remaining work and is returned. When ctx is cancelled no new work is
// scheduled; items interrupted mid-stage stay in progress and Run returns an
// error wrapping ctx's error.
func (c *Coordinator) Run(ctx context.Context, ledger *Ledger, items []*item.WorkItem, defs []stage.Definition) error {
	if c.cache == nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "run", "coordinator has no result cache", nil)
	}
	if err := stage.ValidateDefinitions(defs); err != nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "run", "invalid stage definitions", err)
	}
	enabled := make([]stage.Definition, 0, len(defs))
	slots := make(map[stage.Name]*semaphore.Weighted, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		enabled = append(enabled, def)
		slots[def.Name] = semaphore.NewWeighted(int64(def.Workers))
	}
	for _, w := range items {
		ledger.Track(w)
	}
	if len(enabled) == 0 {
		for _, w := range items {
			if !ledger.Status(w.ID).Terminal() {
				ledger.Succeed(w.ID)
			}
		}
		return nil
	}

	execBase, stopGrace := graceContext(ctx, c.grace)
	defer stopGrace()
	g, execCtx := errgroup.WithContext(execBase)
	schedCtx, cancelSched := context.WithCancel(execCtx)
	defer cancelSched()
	stopSched := context.AfterFunc(ctx, cancelSched)
	defer stopSched()
	g.SetLimit(c.itemWorkers)

	r := &itemRun{coordinator: c, ledger: ledger, defs: enabled, slots: slots, parent: ctx, sched: schedCtx}
	for _, w := range items {
		if schedCtx.Err() != nil {
			break
		}
		if ledger.Status(w.ID).Terminal() {
			continue
		}
		g.Go(func() error {
			return r.process(execCtx, w)
		})
	}
	err := g.Wait()
	if err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("run interrupted: %w", ctxErr)
	}
	return nil
}

// itemRun holds the per-Run state shared by item goroutines.
type itemRun struct {
	coordinator *Coordinator
	ledger      *Ledger
	defs        []stage.Definition
	slots       map[stage.Name]*semaphore.Weighted
	parent      context.Context
	sched       context.Context
}

func (r *itemRun) process(ctx context.Context, w *item.WorkItem) error {
	ctx = services.WithItemID(ctx, w.ID)
	for _, def := range r.defs {
		if r.sched.Err() != nil {
			r.stopped(ctx, w, def.Name)
			return nil
		}
		done, err := r.runStage(ctx, w, def)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
	}
	r.ledger.Succeed(w.ID)
	return nil
}

// runStage executes one stage for w. It reports false when the item must not
// continue, and returns an error only when the whole run has to stop.
func (r *itemRun) runStage(ctx context.Context, w *item.WorkItem, def stage.Definition) (bool, error) {
	c := r.coordinator
	name := string(def.Name)
	stageCtx := services.WithRequestID(services.WithStage(ctx, name), uuid.NewString())
	logger := logging.WithContext(stageCtx, c.logger)

	token, err := fingerprint.Compute(w.Identity(), def.Name, fingerprint.WithUpstream(def.Config, w.Chain))
	if err != nil {
		if services.IsRunFatal(err) {
			return false, err
		}
		return false, services.Wrap(services.ErrConfiguration, name, "fingerprint", "stage configuration cannot be fingerprinted", err)
	}
	r.ledger.Begin(w.ID, name)

	payload, hit, err := c.cache.Get(stageCtx, token.String())
	if err != nil {
		if r.interrupted(stageCtx) {
			r.stopped(stageCtx, w, def.Name)
			return false, nil
		}
		return false, err
	}
	if hit {
		r.ledger.CacheHit(w.ID)
		logger.Debug("stage result served from cache",
			logging.String(logging.FieldEventType, "stage_cache_hit"),
			logging.String("fingerprint", token.Short()),
		)
		r.complete(w, payload, token)
		return true, nil
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("provider", def.Provider),
		logging.String("fingerprint", token.Short()),
	)
	started := time.Now()

	slot := r.slots[def.Name]
	if err := slot.Acquire(r.sched, 1); err != nil {
		r.stopped(stageCtx, w, def.Name)
		return false, nil
	}
	r.ledger.Invoked(w.ID)
	snapshot := w.Clone()
	wrapper := c.limits.Wrapper(def.Provider, name)
	payload, err = ratelimit.Invoke(stageCtx, wrapper, func(ctx context.Context) (item.Payload, error) {
		return def.Executor.Execute(ctx, snapshot)
	})
	slot.Release(1)

	if err == nil {
		payload.Stage = name
		if verr := payload.Validate(); verr != nil {
			err = &services.StageFatalError{Stage: name, ItemID: w.ID, Err: verr}
		}
	}
	if err != nil {
		switch {
		case services.IsRunFatal(err):
			return false, err
		case !services.IsItemFailure(err):
			r.stopped(stageCtx, w, def.Name)
			return false, nil
		}
		r.ledger.Fail(w.ID, name, err)
		logging.ErrorWithContext(logger, "stage failed", "stage_failure",
			logging.Alert("stage_failure"),
			logging.ErrorKind(err),
			logging.String(logging.FieldErrorHint, failureHint(err)),
			logging.Duration("duration", time.Since(started)),
			logging.Error(err),
		)
		return false, nil
	}

	if err := c.cache.Put(stageCtx, token.String(), payload, c.ttl); err != nil {
		if r.interrupted(stageCtx) && !errors.As(err, new(*services.CacheConsistencyError)) {
			r.stopped(stageCtx, w, def.Name)
			return false, nil
		}
		return false, err
	}
	r.complete(w, payload, token)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", time.Since(started)),
		logging.String("payload_kind", string(payload.Kind)),
	)
	return true, nil
}

func (r *itemRun) complete(w *item.WorkItem, payload item.Payload, token fingerprint.Token) {
	w.SetPayload(payload)
	w.Chain = append(w.Chain, token.String())
}

// interrupted reports whether ctx ended because the run was cancelled or
// aborted rather than because of a stage's own failure.
func (r *itemRun) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || r.parent.Err() != nil
}

// stopped records an item the run could not finish. Items that never began
// a stage in this run keep their status.
func (r *itemRun) stopped(ctx context.Context, w *item.WorkItem, name stage.Name) {
	if r.ledger.Status(w.ID) != item.StatusInProgress {
		return
	}
	r.ledger.Interrupt(w.ID, string(name))
	logging.WithContext(ctx, r.coordinator.logger).Info("stage interrupted",
		logging.String(logging.FieldEventType, "stage_interrupted"),
		logging.String(logging.FieldStage, string(name)),
	)
}

func failureHint(err error) string {
	var exhausted *services.StageExhaustedError
	if errors.As(err, &exhausted) {
		return "remote service kept failing; the item is retried on the next run"
	}
	switch {
	case errors.Is(err, services.ErrAuth):
		return "check the provider api_key"
	case errors.Is(err, services.ErrValidation):
		return "inspect the stage output or prompt for this item"
	case errors.Is(err, services.ErrExternalTool):
		return "run autosumm deps to check external tools"
	}
	return "check logs for details"
}
