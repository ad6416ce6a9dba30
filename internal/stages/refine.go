package stages

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"autosumm/internal/config"
	"autosumm/internal/item"
	"autosumm/internal/logging"
	"autosumm/internal/pdfstore"
	"autosumm/internal/services"
	"autosumm/internal/services/llm"
	"autosumm/internal/services/pdf"
	"autosumm/internal/stage"
)

// Refiner transcribes page images of a paper to Markdown with a vision
// model, replacing the pdftotext layer for summarization.
type Refiner struct {
	docs     documents
	client   Chatter
	model    string
	prompt   string
	dpi      int
	maxPages int
	tool     string
	logger   *slog.Logger
	render   func(ctx context.Context, binary, path string, dpi, maxPages int) ([][]byte, error)
}

// NewRefiner builds the refine stage executor.
func NewRefiner(cfg config.Refine, store *pdfstore.Store, fetcher Fetcher, client Chatter, logger *slog.Logger) *Refiner {
	return &Refiner{
		docs:     documents{store: store, fetcher: fetcher},
		client:   client,
		model:    cfg.Model,
		prompt:   cfg.Prompt,
		dpi:      cfg.DPI,
		maxPages: cfg.MaxPages,
		tool:     cfg.Pdftoppm,
		logger:   logging.NewComponentLogger(logger, "refine"),
		render:   pdf.RenderPages,
	}
}

// Execute transcribes every rendered page and joins the results. A page
// the model cannot transcribe fails the item.
func (r *Refiner) Execute(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
	path, err := r.docs.path(ctx, string(stage.Refine), w)
	if err != nil {
		return item.Payload{}, err
	}
	pages, err := r.render(ctx, r.tool, path, r.dpi, r.maxPages)
	if err != nil {
		return item.Payload{}, err
	}
	logger := logging.WithContext(ctx, r.logger)
	parts := make([]string, 0, len(pages))
	for i, page := range pages {
		content, err := r.client.Chat(ctx, llm.ChatRequest{
			Model:  r.model,
			User:   r.prompt,
			Images: [][]byte{page},
		})
		if err != nil {
			return item.Payload{}, err
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return item.Payload{}, services.Wrap(services.ErrTransient, "refine", "chat", "empty transcription for page "+strconv.Itoa(i+1), nil)
		}
		parts = append(parts, content)
		logger.Debug("page transcribed", logging.Int("page", i+1), logging.Int("pages", len(pages)))
	}
	payload := item.TextPayload(string(stage.Refine), strings.Join(parts, "\n\n"))
	payload.Meta = map[string]string{"pages": strconv.Itoa(len(pages))}
	return payload, nil
}

// Readiness reports whether pdftoppm is installed.
func (r *Refiner) Readiness(context.Context) stage.Readiness {
	return binaryReadiness(stage.Refine, r.tool)
}
