package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"autosumm/internal/config"
	"autosumm/internal/item"
	"autosumm/internal/logging"
	"autosumm/internal/services"
	"autosumm/internal/services/llm"
	"autosumm/internal/stage"
	"autosumm/internal/textutil"
)

// Rater asks a chat model to rate a paper on weighted criteria.
type Rater struct {
	client   Chatter
	model    string
	system   string
	template string
	criteria map[string]config.Criterion
	maxChars int
	options  config.CompletionOptions
	logger   *slog.Logger
}

// NewRater builds the rate stage executor from a resolved config.
func NewRater(cfg config.Rate, client Chatter, logger *slog.Logger) *Rater {
	return &Rater{
		client:   client,
		model:    cfg.Model,
		system:   cfg.SystemPrompt,
		template: cfg.UserPromptTemplate,
		criteria: cfg.Criteria,
		maxChars: cfg.MaxChars,
		options:  cfg.Options,
		logger:   logging.NewComponentLogger(logger, "rate"),
	}
}

type ratingReply struct {
	Ratings        map[string]json.RawMessage `json:"ratings"`
	Justifications map[string]json.RawMessage `json:"justifications"`
}

// Execute rates the parsed paper text. The score is the weighted mean of
// the ratings of the configured criteria the model answered.
func (r *Rater) Execute(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
	if len(r.criteria) == 0 {
		return item.Payload{}, services.Wrap(services.ErrConfiguration, "rate", "prompt", "no rating criteria configured", nil)
	}
	text, ok := w.Text(string(stage.Parse))
	if !ok {
		return item.Payload{}, services.Wrap(services.ErrValidation, "rate", "prompt", "no parsed text", nil)
	}
	prompt := fillTemplate(r.template, map[string]string{
		"criteria_text": CriteriaText(r.criteria),
		"paper_text":    textutil.TruncateRunes(text, r.maxChars),
	})
	content, err := r.client.Chat(ctx, llm.ChatRequest{
		Model:   r.model,
		System:  r.system,
		User:    prompt,
		Options: r.options,
	})
	if err != nil {
		return item.Payload{}, err
	}

	var reply ratingReply
	if err := llm.DecodeLLMJSON(content, &reply); err != nil {
		return item.Payload{}, services.Wrap(services.ErrTransient, "rate", "decode", "rating reply is not valid json", err)
	}
	if reply.Ratings == nil || reply.Justifications == nil {
		return item.Payload{}, services.Wrap(services.ErrValidation, "rate", "decode", "rating reply lacks ratings or justifications", nil)
	}
	score, err := r.weigh(reply)
	if err != nil {
		return item.Payload{}, err
	}
	logging.WithContext(ctx, r.logger).Debug("paper rated",
		logging.Float64("score", score.Value),
		logging.Int("criteria", len(score.Ratings)),
	)
	return item.ScorePayload(string(stage.Rate), score), nil
}

func (r *Rater) weigh(reply ratingReply) (item.Score, error) {
	score := item.Score{
		Ratings:        make(map[string]float64, len(r.criteria)),
		Justifications: make(map[string]string, len(r.criteria)),
	}
	var values, weights []float64
	for _, name := range sortedCriteria(r.criteria) {
		raw, ok := reply.Ratings[name]
		if !ok {
			continue
		}
		value, err := ratingValue(raw)
		if err != nil {
			return item.Score{}, services.Wrap(services.ErrValidation, "rate", "decode", fmt.Sprintf("rating for %s", name), err)
		}
		score.Ratings[name] = value
		if just, ok := reply.Justifications[name]; ok {
			score.Justifications[name] = justificationText(just)
		}
		values = append(values, value)
		weights = append(weights, r.criteria[name].Weight)
	}
	if len(values) == 0 {
		return item.Score{}, services.Wrap(services.ErrValidation, "rate", "decode", "reply rates none of the configured criteria", nil)
	}
	score.Value = textutil.WeightedMean(values, weights)
	return score, nil
}

// ratingValue accepts a finite number or a numeric string.
func ratingValue(raw json.RawMessage) (float64, error) {
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, fmt.Errorf("not a finite number: %s", raw)
	}
	return number, nil
}

func justificationText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(raw))
}

// CriteriaText renders the criteria as "- name: description" lines in name
// order, for the {criteria_text} placeholder.
func CriteriaText(criteria map[string]config.Criterion) string {
	lines := make([]string, 0, len(criteria))
	for _, name := range sortedCriteria(criteria) {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, strings.TrimSpace(criteria[name].Description)))
	}
	return strings.Join(lines, "\n")
}

func sortedCriteria(criteria map[string]config.Criterion) []string {
	names := make([]string, 0, len(criteria))
	for name := range criteria {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fillTemplate substitutes {name} placeholders in a single pass, so text
// inserted for one placeholder is never expanded again.
func fillTemplate(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for _, name := range sortedKeys(values) {
		pairs = append(pairs, "{"+name+"}", values[name])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
