package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"autosumm/internal/cache"
	"autosumm/internal/config"
	"autosumm/internal/deliver"
	"autosumm/internal/item"
	"autosumm/internal/logging"
	"autosumm/internal/notifications"
	"autosumm/internal/pdfstore"
	"autosumm/internal/ratelimit"
	"autosumm/internal/registry"
	"autosumm/internal/render"
	"autosumm/internal/resolve"
	"autosumm/internal/selection"
	"autosumm/internal/services"
	"autosumm/internal/services/arxiv"
	"autosumm/internal/services/pdf"
	"autosumm/internal/stage"
	"autosumm/internal/stages"
	"autosumm/internal/workflow"
)

const (
	reasonDelivered   = "already delivered"
	reasonNotSelected = "not selected"

	// discoverProvider names the rate-limit bucket of the arXiv listing.
	discoverProvider = "arxiv"
)

// Discoverer lists candidate papers for a category.
type Discoverer interface {
	Discover(ctx context.Context, category string, since time.Time, limit int) ([]*item.WorkItem, error)
}

// PipelineBuilder assembles the stage definitions for a resolved config.
type PipelineBuilder func(cfg *config.Config, store *pdfstore.Store, logger *slog.Logger) (*stages.Pipeline, error)

// Sender mails a rendered digest.
type Sender interface {
	Send(ctx context.Context, subject string, artifacts []render.Artifact) (deliver.Result, error)
}

// Options select what one run does.
type Options struct {
	// Category overrides the day's rotation.
	Category string
	// DryRun processes and renders but neither mails the digest nor marks
	// papers delivered.
	DryRun bool
}

// Result summarizes a finished run.
type Result struct {
	RunID     string
	Category  string
	Manifest  workflow.Manifest
	Papers    []*item.WorkItem
	Artifacts []render.Artifact
	Delivery  *deliver.Result
	// Calls reports remote call counters per (provider, stage).
	Calls    []ratelimit.Stats
	Duration time.Duration
}

// Runner executes digest runs against one loaded configuration.
type Runner struct {
	cfg        *config.Config
	logger     *slog.Logger
	resolver   *resolve.Resolver
	discoverer Discoverer
	build      PipelineBuilder
	sender     func(cfg config.Deliver, logger *slog.Logger) Sender
	notifier   notifications.Service
	httpClient *http.Client
	limitOpts  []ratelimit.Option
	now        func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolver replaces the reference resolver.
func WithResolver(res *resolve.Resolver) Option {
	return func(r *Runner) {
		if res != nil {
			r.resolver = res
		}
	}
}

// WithDiscoverer replaces the arXiv lister.
func WithDiscoverer(d Discoverer) Option {
	return func(r *Runner) {
		if d != nil {
			r.discoverer = d
		}
	}
}

// WithPipelineBuilder replaces how stage definitions are assembled.
func WithPipelineBuilder(b PipelineBuilder) Option {
	return func(r *Runner) {
		if b != nil {
			r.build = b
		}
	}
}

// WithSender replaces the SMTP mailer.
func WithSender(s Sender) Option {
	return func(r *Runner) {
		if s != nil {
			r.sender = func(config.Deliver, *slog.Logger) Sender { return s }
		}
	}
}

// WithNotifier replaces the ntfy service.
func WithNotifier(n notifications.Service) Option {
	return func(r *Runner) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithHTTPClient shares one HTTP client between the model providers and the
// PDF downloader. By default each gets its own client with its configured
// timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Runner) { r.httpClient = client }
}

// WithRateLimitOptions passes options to the per-run rate limit registry.
func WithRateLimitOptions(opts ...ratelimit.Option) Option {
	return func(r *Runner) {
		r.limitOpts = append(r.limitOpts, opts...)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a runner for a loaded, unresolved configuration.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		logger:   logging.NewNop(),
		resolver: resolve.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "runner")
	if r.notifier == nil {
		r.notifier = notifications.NewService(cfg)
	}
	if r.build == nil {
		r.build = r.defaultPipeline
	}
	if r.sender == nil {
		r.sender = func(cfg config.Deliver, logger *slog.Logger) Sender {
			return deliver.NewMailer(cfg, logger)
		}
	}
	return r
}

// run carries the state of one Run call.
type run struct {
	*Runner
	cfg      *config.Config
	opts     Options
	id       string
	category string
	started  time.Time
	logger   *slog.Logger
	cache    *cache.Store
	registry *registry.Store
	pdfs     *pdfstore.Store
	limits   *ratelimit.Registry
	ledger   *workflow.Ledger
	record   registry.Run
}

// Run performs one digest run. A run-aborting failure (unresolvable
// configuration, cache or registry I/O, discovery) is returned; per-item
// failures are reported in the manifest. When ctx is cancelled or the
// process is signalled, in-flight work winds down, bookkeeping still runs,
// and the returned error wraps the cancellation.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if r.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	lock, err := acquireLock(r.cfg.LockPath())
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	cfg, err := r.resolver.Config(r.cfg)
	if err != nil {
		logging.ErrorWithContext(r.logger, "configuration references unresolved", "config_resolution_failed",
			logging.Error(err),
			logging.ErrorHint("set the referenced environment variables or fix file: paths"),
		)
		return nil, err
	}

	x := &run{
		Runner:  r,
		cfg:     cfg,
		opts:    opts,
		id:      uuid.NewString(),
		started: r.now(),
	}
	ctx = services.WithRunID(ctx, x.id)
	x.logger = logging.WithContext(ctx, r.logger)

	x.cache, err = cache.Open(ctx, cfg.CacheDBPath())
	if err != nil {
		return nil, err
	}
	defer x.cache.Close()
	x.registry, err = registry.Open(ctx, cfg.RegistryDBPath())
	if err != nil {
		return nil, err
	}
	defer x.registry.Close()

	x.category = strings.TrimSpace(opts.Category)
	if x.category == "" {
		x.category = PickCategory(cfg.Run.Categories, x.started)
	}
	x.record = registry.Run{ID: x.id, Category: x.category, DryRun: opts.DryRun, StartedAt: x.started}
	if err := x.registry.BeginRun(ctx, x.record); err != nil {
		return nil, err
	}

	res, err := x.execute(ctx)
	x.finish(ctx, res, err)
	return res, err
}

func (x *run) execute(ctx context.Context) (*Result, error) {
	cfg := x.cfg
	x.logger.Info("run started",
		logging.EventType("run_started"),
		logging.String("category", x.category),
		logging.Bool("dry_run", x.opts.DryRun),
	)
	x.publish(ctx, notifications.EventRunStarted, notifications.Payload{"category": x.category})

	if cfg.Cache.SweepOnStart {
		removed, err := x.cache.Sweep(ctx, x.now())
		if err != nil {
			return nil, err
		}
		x.logger.Info("expired cache entries swept", logging.EventType("cache_swept"), logging.Int64("removed", removed))
	}
	if reset, err := x.registry.ResetInProgress(ctx); err != nil {
		return nil, err
	} else if reset > 0 {
		x.logger.Info("items from an interrupted run reset to pending",
			logging.EventType("registry_reset"),
			logging.Int64("items", reset),
		)
	}

	x.pdfs = pdfstore.New(cfg.PDFDir(), cfg.Cache.MaxPDFCacheMB, x.Runner.logger)
	pipeline, err := x.build(cfg, x.pdfs, x.Runner.logger)
	if err != nil {
		return nil, err
	}
	if err := x.preflight(ctx, pipeline); err != nil {
		return nil, err
	}

	x.limits = ratelimit.NewRegistry(ratelimit.PolicyFromConfig(cfg.Retry),
		append([]ratelimit.Option{
			ratelimit.WithLogger(x.Runner.logger),
			ratelimit.WithLimits(ratelimit.LimitsFromConfig(cfg)),
		}, x.limitOpts...)...)
	x.ledger = workflow.NewLedger(x.mirror(ctx))
	work, err := x.workSet(ctx)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour
	coordinator := workflow.NewCoordinator(x.cache, x.limits,
		workflow.WithLogger(x.Runner.logger),
		workflow.WithTTL(ttl),
		workflow.WithItemWorkers(cfg.Run.ItemWorkers),
		workflow.WithCancelGrace(time.Duration(cfg.Run.CancelGraceSeconds)*time.Second),
	)

	res := &Result{RunID: x.id, Category: x.category}
	if len(work) == 0 {
		x.logger.Info("no new papers", logging.EventType("run_empty"), logging.String("category", x.category))
		return res, nil
	}

	if pipeline.Similarity != nil && ctx.Err() == nil {
		wrapper := x.limits.Wrapper(cfg.StageProvider(string(stage.Embed)), string(stage.Embed))
		if err := pipeline.Similarity.PrepareQuery(ctx, x.cache, wrapper, cfg.StageConfig(string(stage.Embed)), ttl); err != nil {
			return res, fmt.Errorf("prepare interest query: %w", err)
		}
	}

	if err := coordinator.Run(ctx, x.ledger, work, pipeline.Scoring); err != nil {
		return res, err
	}

	var scored []*item.WorkItem
	for _, w := range work {
		if x.ledger.Status(w.ID) == item.StatusSucceeded {
			scored = append(scored, w)
		}
	}
	picked := selection.Select(scored, selection.Policy{
		TopK:        cfg.Selection.TopK,
		MaxSelected: cfg.Selection.MaxSelected,
		EmbedRan:    enabled(pipeline.Scoring, stage.Embed),
		RateRan:     enabled(pipeline.Scoring, stage.Rate),
	})
	for _, w := range picked.Rejected {
		x.ledger.Skip(w.ID, reasonNotSelected)
	}
	x.logger.Info("papers selected",
		logging.EventType("selection_complete"),
		logging.Int("candidates", len(scored)),
		logging.Int("selected", len(picked.Selected)),
	)

	if err := coordinator.Run(ctx, x.ledger, picked.Selected, pipeline.Digest); err != nil {
		return res, err
	}
	for _, w := range picked.Selected {
		if x.ledger.Status(w.ID) == item.StatusSucceeded {
			res.Papers = append(res.Papers, w)
		}
	}
	if len(res.Papers) == 0 {
		x.logger.Info("nothing to render", logging.EventType("digest_empty"))
		return res, nil
	}

	res.Artifacts, err = render.Digest(ctx, res.Papers, render.Options{
		Title:     cfg.Render.Title,
		Category:  x.category,
		Date:      x.started,
		OutputDir: cfg.Paths.OutputDir,
		Formats:   cfg.Render.Formats,
		Pandoc:    cfg.Render.Pandoc,
	})
	if err != nil {
		if len(res.Artifacts) == 0 {
			return res, fmt.Errorf("render digest: %w", err)
		}
		logging.WarnWithContext(x.logger, "some digest formats failed", "render_partial",
			logging.Error(err),
			logging.ErrorHint("check that pandoc and a PDF engine are installed"),
			logging.String(logging.FieldImpact, "the digest is missing some formats"),
		)
	}
	for _, a := range res.Artifacts {
		x.logger.Info("digest written",
			logging.EventType("digest_rendered"),
			logging.String("format", a.Format),
			logging.String("path", a.Path),
		)
	}

	if err := x.deliver(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// preflight fails the run when an enabled stage reports that it cannot work,
// such as a missing pdftotext.
func (x *run) preflight(ctx context.Context, pipeline *stages.Pipeline) error {
	problems := stage.Blockers(pipeline.Readiness(ctx))
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrExternalTool, "runner", "preflight",
		"stages not ready: "+strings.Join(problems, ", "), nil)
}

// workSet merges freshly discovered papers with items still pending from
// earlier runs, and drops papers that were already mailed. The listing goes
// through the rate limiter so transient arXiv failures are retried.
func (x *run) workSet(ctx context.Context) ([]*item.WorkItem, error) {
	since := x.started.AddDate(0, 0, -x.cfg.Fetch.Days)
	wrapper := x.limits.Wrapper(discoverProvider, string(stage.Discover))
	discovered, err := ratelimit.Invoke(services.WithStage(ctx, string(stage.Discover)), wrapper,
		func(ctx context.Context) ([]*item.WorkItem, error) {
			return x.discovery().Discover(ctx, x.category, since, x.cfg.Fetch.MaxResults)
		})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", x.category, err)
	}
	seen := make(map[string]bool, len(discovered))
	candidates := make([]*item.WorkItem, 0, len(discovered))
	for _, w := range discovered {
		if seen[w.ID] {
			continue
		}
		seen[w.ID] = true
		candidates = append(candidates, w)
	}
	pending, err := x.registry.List(ctx, registry.Filter{
		Statuses: []item.Status{item.StatusPending},
		Category: x.category,
	})
	if err != nil {
		return nil, err
	}
	carried := 0
	for _, rec := range pending {
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		candidates = append(candidates, rec.WorkItem())
		carried++
	}

	var work []*item.WorkItem
	delivered := 0
	for _, w := range candidates {
		done, err := x.cache.IsDelivered(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		if done {
			x.ledger.Track(w)
			x.ledger.Skip(w.ID, reasonDelivered)
			delivered++
			continue
		}
		work = append(work, w)
	}
	if err := x.registry.Upsert(ctx, x.id, work); err != nil {
		return nil, err
	}
	x.record.Discovered = len(discovered)
	x.logger.Info("papers discovered",
		logging.EventType("discover_complete"),
		logging.String("category", x.category),
		logging.Int("discovered", len(discovered)),
		logging.Int("carried_over", carried),
		logging.Int("already_delivered", delivered),
		logging.Int("work", len(work)),
	)
	return work, nil
}

func (x *run) discovery() Discoverer {
	if x.discoverer != nil {
		return x.discoverer
	}
	return arxiv.NewLister(x.cfg.Fetch)
}

func (x *run) deliver(ctx context.Context, res *Result) error {
	cfg := x.cfg
	if !cfg.Deliver.Enabled {
		return nil
	}
	if x.opts.DryRun {
		x.logger.Info("dry run, digest not mailed", logging.EventType("deliver_skipped"))
		return nil
	}
	sent, err := x.sender(cfg.Deliver, x.Runner.logger).Send(ctx, x.subject(), res.Artifacts)
	if err != nil {
		return fmt.Errorf("deliver digest: %w", err)
	}
	res.Delivery = &sent

	now := x.now()
	deliveries := make([]cache.Delivery, 0, len(res.Papers))
	for _, w := range res.Papers {
		deliveries = append(deliveries, cache.Delivery{
			ItemID:      w.ID,
			Revision:    w.Revision,
			Title:       w.Title,
			RunID:       x.id,
			DeliveredAt: now,
		})
	}
	if err := x.cache.MarkDelivered(context.WithoutCancel(ctx), deliveries); err != nil {
		return err
	}
	x.record.Delivered = len(deliveries)
	x.publish(ctx, notifications.EventDigestDelivered, notifications.Payload{
		"category":   x.category,
		"papers":     len(deliveries),
		"recipients": len(sent.Recipients),
	})
	return nil
}

func (x *run) subject() string {
	if s := strings.TrimSpace(x.cfg.Deliver.Subject); s != "" {
		return strings.NewReplacer(
			"{category}", x.category,
			"{date}", x.started.Format("2006-01-02"),
		).Replace(s)
	}
	return fmt.Sprintf("%s: %s, %s", x.cfg.Render.Title, x.category, x.started.Format("January 2, 2006"))
}

// finish records outcomes and the run row. It runs even when ctx is
// cancelled, so bookkeeping uses a detached context.
func (x *run) finish(ctx context.Context, res *Result, runErr error) {
	bg := context.WithoutCancel(ctx)
	var manifest workflow.Manifest
	if x.ledger != nil {
		manifest = x.ledger.Manifest()
	}
	if res != nil {
		res.Manifest = manifest
	}

	outcomes := make([]registry.Outcome, 0, len(manifest.Items))
	for _, e := range manifest.Items {
		outcomes = append(outcomes, registry.Outcome{
			ID:        e.ItemID,
			Status:    e.Status,
			Stage:     e.Stage,
			ErrorKind: e.ErrorKind,
			Message:   e.Message,
		})
	}
	if err := x.registry.RecordOutcome(bg, x.id, outcomes); err != nil {
		logging.ErrorWithContext(x.logger, "record item outcomes", "registry_write_failed",
			logging.Error(err),
			logging.ErrorHint("check the registry database under cache_dir"),
		)
	}
	if pruned, err := x.registry.PruneExhausted(bg, x.cfg.Run.RetryBudget); err != nil {
		logging.WarnWithContext(x.logger, "prune exhausted items", "registry_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "failed items stay in the registry"),
		)
	} else if pruned > 0 {
		x.logger.Info("items over the retry budget removed",
			logging.EventType("registry_pruned"),
			logging.Int64("items", pruned),
			logging.Int("retry_budget", x.cfg.Run.RetryBudget),
		)
	}
	if x.pdfs != nil {
		if removed, freed, err := x.pdfs.Prune(bg); err != nil {
			logging.WarnWithContext(x.logger, "prune pdf store", "pdfstore_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the pdf store may exceed its size limit"),
			)
		} else if removed > 0 {
			x.logger.Info("pdf store pruned",
				logging.EventType("pdfstore_pruned"),
				logging.Int("files", removed),
				logging.Int64("bytes", freed),
			)
		}
	}

	totals := manifest.Totals
	x.record.FinishedAt = x.now()
	x.record.Succeeded = totals.Succeeded
	x.record.Failed = totals.Failed
	x.record.Skipped = totals.Skipped
	x.record.InProgress = totals.InProgress + totals.Pending
	x.record.CacheHits = totals.CacheHits
	x.record.Invocations = totals.Invocations
	if runErr != nil {
		x.record.AbortReason = runErr.Error()
	}
	if err := x.registry.FinishRun(bg, x.record); err != nil {
		logging.ErrorWithContext(x.logger, "record run", "registry_write_failed",
			logging.Error(err),
			logging.ErrorHint("check the registry database under cache_dir"),
		)
	}
	duration := x.record.Duration()
	var calls []ratelimit.Stats
	if x.limits != nil {
		calls = x.limits.Stats()
	}
	if res != nil {
		res.Duration = duration
		res.Calls = calls
	}
	var retries int64
	for _, c := range calls {
		retries += c.Retries
	}

	if runErr != nil {
		hint := "rerun after fixing the cause; cached stage results are reused"
		if errors.Is(runErr, context.Canceled) {
			hint = "the next run resumes interrupted items"
		}
		logging.ErrorWithContext(x.logger, "run aborted", "run_aborted",
			logging.Error(runErr),
			logging.ErrorKind(runErr),
			logging.ErrorHint(hint),
			logging.Duration("duration", duration),
		)
		x.publish(bg, notifications.EventRunAborted, notifications.Payload{
			"category": x.category,
			"error":    runErr,
		})
		return
	}
	selected := 0
	if res != nil {
		selected = len(res.Papers)
	}
	x.logger.Info("run complete",
		logging.EventType("run_complete"),
		logging.Int("succeeded", totals.Succeeded),
		logging.Int("failed", totals.Failed),
		logging.Int("skipped", totals.Skipped),
		logging.Int("cache_hits", totals.CacheHits),
		logging.Int("invocations", totals.Invocations),
		logging.Int64("retries", retries),
		logging.Duration("duration", duration),
	)
	x.publish(bg, notifications.EventRunCompleted, notifications.Payload{
		"category":  x.category,
		"selected":  selected,
		"succeeded": totals.Succeeded,
		"failed":    totals.Failed,
		"skipped":   totals.Skipped,
		"duration":  duration,
	})
}

// mirror copies ledger transitions into the registry.
func (x *run) mirror(ctx context.Context) workflow.Observer {
	bg := context.WithoutCancel(ctx)
	return func(t workflow.Transition) {
		if err := x.registry.UpdateProgress(bg, t.ItemID, t.Status, t.Stage); err != nil {
			logging.WarnWithContext(x.logger, "mirror item progress", "registry_write_failed",
				logging.String(logging.FieldItemID, t.ItemID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "items list may lag behind the run"),
			)
		}
	}
}

func (x *run) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := x.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(x.logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "push notification not delivered"),
		)
	}
}

func (r *Runner) defaultPipeline(cfg *config.Config, store *pdfstore.Store, logger *slog.Logger) (*stages.Pipeline, error) {
	clients, err := stages.NewClients(cfg, r.httpClient)
	if err != nil {
		return nil, err
	}
	fetchTimeout := time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	return stages.Build(cfg, stages.Deps{
		Store:   store,
		Fetcher: pdf.NewDownloader(r.httpClient, cfg.Fetch.UserAgent, fetchTimeout),
		Clients: clients,
		Logger:  logger,
	})
}

func enabled(defs []stage.Definition, name stage.Name) bool {
	for _, def := range defs {
		if def.Name == name {
			return def.Enabled
		}
	}
	return false
}
