package stages

import (
	"context"
	"io"

	"autosumm/internal/item"
	"autosumm/internal/pdfstore"
	"autosumm/internal/services"
	"autosumm/internal/services/llm"
)

// Fetcher downloads a document.
type Fetcher interface {
	Fetch(ctx context.Context, url string, w io.Writer) error
}

// Chatter sends one chat completion request.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (string, error)
}

// Embedder returns the embedding vector of a text.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float64, error)
}

// documents resolves the local PDF of a work item, downloading it into the
// store on first use.
type documents struct {
	store   *pdfstore.Store
	fetcher Fetcher
}

func (d documents) path(ctx context.Context, stageName string, w *item.WorkItem) (string, error) {
	if d.store == nil || d.fetcher == nil {
		return "", services.Wrap(services.ErrConfiguration, stageName, "pdf", "no document store configured", nil)
	}
	if w.PDFURL == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "pdf", "work item has no pdf url", nil)
	}
	return d.store.Ensure(ctx, w.ID, w.Revision, func(ctx context.Context, out io.Writer) error {
		return d.fetcher.Fetch(ctx, w.PDFURL, out)
	})
}
