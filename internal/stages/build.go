package stages

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"autosumm/internal/config"
	"autosumm/internal/deps"
	"autosumm/internal/pdfstore"
	"autosumm/internal/services"
	"autosumm/internal/services/llm"
	"autosumm/internal/stage"
)

// Deps are the collaborators the executors share.
type Deps struct {
	Store   *pdfstore.Store
	Fetcher Fetcher
	// Clients maps provider names to chat/embedding clients. NewClients
	// builds it from configuration; tests substitute fakes.
	Clients map[string]Client
	Logger  *slog.Logger
}

// Client is the union of the remote calls the stages make.
type Client interface {
	Chatter
	Embedder
}

// Pipeline holds the stage definitions of both run phases.
type Pipeline struct {
	// Scoring covers parse, embed, and rate for every candidate.
	Scoring []stage.Definition
	// Digest covers refine and summarize for the selected papers.
	Digest []stage.Definition
	// Similarity is the embed executor, nil when embedding is inactive. Its
	// query vector is prepared once per run.
	Similarity *Similarity
}

// NewClients builds one llm client per provider used by an enabled stage.
func NewClients(cfg *config.Config, httpClient *http.Client) (map[string]Client, error) {
	clients := make(map[string]Client)
	for _, name := range cfg.ActiveProviders() {
		provider, ok := cfg.Providers[name]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "stages", "clients", fmt.Sprintf("provider %q is not configured", name), nil)
		}
		clients[name] = llm.NewClient(llm.ConfigFromProvider(name, provider), llm.WithHTTPClient(httpClient))
	}
	return clients, nil
}

// Build assembles the stage definitions from a resolved config.
func Build(cfg *config.Config, d Deps) (*Pipeline, error) {
	client := func(name stage.Name) (Client, error) {
		provider := cfg.StageProvider(string(name))
		c, ok := d.Clients[provider]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, string(name), "build", fmt.Sprintf("no client for provider %q", provider), nil)
		}
		return c, nil
	}
	def := func(name stage.Name, exec stage.Executor) stage.Definition {
		return stage.Definition{
			Name:     name,
			Provider: cfg.StageProvider(string(name)),
			Enabled:  cfg.StageEnabled(string(name)),
			Workers:  max(1, cfg.StageWorkers(string(name))),
			Config:   cfg.StageConfig(string(name)),
			Executor: exec,
		}
	}

	p := &Pipeline{}
	p.Scoring = append(p.Scoring, def(stage.Parse, NewParser(cfg.Parse, d.Store, d.Fetcher, d.Logger)))

	embed := def(stage.Embed, nil)
	if embed.Enabled {
		c, err := client(stage.Embed)
		if err != nil {
			return nil, err
		}
		p.Similarity = NewSimilarity(cfg.Embed, c, d.Logger)
		embed.Executor = p.Similarity
	}
	p.Scoring = append(p.Scoring, embed)

	rate := def(stage.Rate, nil)
	if rate.Enabled {
		c, err := client(stage.Rate)
		if err != nil {
			return nil, err
		}
		rate.Executor = NewRater(cfg.Rate, c, d.Logger)
	}
	p.Scoring = append(p.Scoring, rate)

	refine := def(stage.Refine, nil)
	if refine.Enabled {
		c, err := client(stage.Refine)
		if err != nil {
			return nil, err
		}
		refine.Executor = NewRefiner(cfg.Refine, d.Store, d.Fetcher, c, d.Logger)
	}
	p.Digest = append(p.Digest, refine)

	summarize := def(stage.Summarize, nil)
	if summarize.Enabled {
		c, err := client(stage.Summarize)
		if err != nil {
			return nil, err
		}
		summarize.Executor = NewSummarizer(cfg.Summarize, c, d.Logger)
	}
	p.Digest = append(p.Digest, summarize)

	for _, defs := range [][]stage.Definition{p.Scoring, p.Digest} {
		if err := stage.ValidateDefinitions(defs); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "stages", "build", "invalid stage definitions", err)
		}
	}
	return p, nil
}

// Readiness reports on every enabled executor of both phases that can
// check its environment.
func (p *Pipeline) Readiness(ctx context.Context) []stage.Readiness {
	return append(stage.Check(ctx, p.Scoring), stage.Check(ctx, p.Digest)...)
}

func binaryReadiness(name stage.Name, command string) stage.Readiness {
	status := deps.CheckBinaries([]deps.Requirement{{Name: string(name), Command: command}})[0]
	if !status.Available {
		return stage.Blocked(name, status.Detail)
	}
	return stage.ReadyFor(name)
}
