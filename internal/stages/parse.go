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
	"autosumm/internal/services/pdf"
	"autosumm/internal/stage"
	"autosumm/internal/textutil"
)

// Parser downloads a paper's PDF and extracts its text layer.
type Parser struct {
	docs     documents
	tool     string
	maxChars int
	logger   *slog.Logger
	extract  func(ctx context.Context, binary, path string) (string, error)
}

// NewParser builds the parse stage executor.
func NewParser(cfg config.Parse, store *pdfstore.Store, fetcher Fetcher, logger *slog.Logger) *Parser {
	return &Parser{
		docs:     documents{store: store, fetcher: fetcher},
		tool:     cfg.Pdftotext,
		maxChars: cfg.MaxChars,
		logger:   logging.NewComponentLogger(logger, "parse"),
		extract:  pdf.ExtractText,
	}
}

// Execute returns the paper text, truncated to the configured length.
func (p *Parser) Execute(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
	path, err := p.docs.path(ctx, string(stage.Parse), w)
	if err != nil {
		return item.Payload{}, err
	}
	text, err := p.extract(ctx, p.tool, path)
	if err != nil {
		return item.Payload{}, err
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "\f", "\n"))
	if text == "" {
		return item.Payload{}, services.Wrap(services.ErrValidation, "parse", "extract", "pdf has no text layer", nil)
	}
	full := len(text)
	text = textutil.TruncateRunes(text, p.maxChars)
	if len(text) < full {
		logging.WithContext(ctx, p.logger).Debug("paper text truncated",
			logging.Int("bytes", full),
			logging.Int("max_chars", p.maxChars),
		)
	}
	payload := item.TextPayload(string(stage.Parse), text)
	payload.Meta = map[string]string{"chars": strconv.Itoa(len([]rune(text)))}
	return payload, nil
}

// Readiness reports whether pdftotext is installed.
func (p *Parser) Readiness(context.Context) stage.Readiness {
	return binaryReadiness(stage.Parse, p.tool)
}
