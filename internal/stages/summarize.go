package stages

import (
	"context"
	"log/slog"
	"strings"

	"autosumm/internal/config"
	"autosumm/internal/item"
	"autosumm/internal/logging"
	"autosumm/internal/services"
	"autosumm/internal/services/llm"
	"autosumm/internal/stage"
	"autosumm/internal/textutil"
)

// Summarizer writes the Markdown summary of a selected paper.
type Summarizer struct {
	client   Chatter
	model    string
	system   string
	template string
	maxChars int
	options  config.CompletionOptions
	logger   *slog.Logger
}

// NewSummarizer builds the summarize stage executor.
func NewSummarizer(cfg config.Summarize, client Chatter, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		client:   client,
		model:    cfg.Model,
		system:   cfg.SystemPrompt,
		template: cfg.UserPromptTemplate,
		maxChars: cfg.MaxChars,
		options:  cfg.Options,
		logger:   logging.NewComponentLogger(logger, "summarize"),
	}
}

// Execute summarizes the refined text when present, else the parsed text.
func (s *Summarizer) Execute(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
	text, ok := w.Text(string(stage.Refine), string(stage.Parse))
	if !ok {
		return item.Payload{}, services.Wrap(services.ErrValidation, "summarize", "prompt", "no paper text", nil)
	}
	text = textutil.TruncateRunes(text, s.maxChars)
	prompt := text
	if strings.TrimSpace(s.template) != "" {
		prompt = fillTemplate(s.template, map[string]string{
			"paper_text":    text,
			"paper_content": text,
		})
	}
	content, err := s.client.Chat(ctx, llm.ChatRequest{
		Model:   s.model,
		System:  s.system,
		User:    prompt,
		Options: s.options,
	})
	if err != nil {
		return item.Payload{}, err
	}
	summary := strings.TrimSpace(content)
	if summary == "" {
		return item.Payload{}, services.Wrap(services.ErrTransient, "summarize", "chat", "empty summary", nil)
	}
	logging.WithContext(ctx, s.logger).Debug("paper summarized",
		logging.Int("summary_chars", len(summary)),
	)
	return item.TextPayload(string(stage.Summarize), summary), nil
}
