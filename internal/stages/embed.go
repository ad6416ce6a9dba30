package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"autosumm/internal/config"
	"autosumm/internal/fingerprint"
	"autosumm/internal/item"
	"autosumm/internal/logging"
	"autosumm/internal/ratelimit"
	"autosumm/internal/services"
	"autosumm/internal/stage"
	"autosumm/internal/textutil"
)

// queryIdentity is the cache identity of the interest query vector.
const queryIdentity = "query:user-interests"

// ResultCache stores stage results by fingerprint.
type ResultCache interface {
	Get(ctx context.Context, token string) (item.Payload, bool, error)
	Put(ctx context.Context, token string, payload item.Payload, ttl time.Duration) error
}

// Similarity scores a paper by the cosine similarity of its text to the
// reader's interests. Long texts are embedded in sentence chunks and the
// chunk similarities are averaged, weighted by chunk length.
type Similarity struct {
	client        Embedder
	model         string
	query         string
	contextLength int
	logger        *slog.Logger

	vector []float64
}

// NewSimilarity builds the embed stage executor. PrepareQuery must run
// before the first Execute.
func NewSimilarity(cfg config.Embed, client Embedder, logger *slog.Logger) *Similarity {
	return &Similarity{
		client:        client,
		model:         cfg.Model,
		query:         strings.ReplaceAll(cfg.QueryTemplate, "{user_interests}", cfg.UserInterests),
		contextLength: cfg.ContextLength,
		logger:        logging.NewComponentLogger(logger, "embed"),
	}
}

// PrepareQuery computes the interest query vector once per run, through the
// same wrapper and result cache as paper embeddings. effective is the embed
// stage configuration.
func (s *Similarity) PrepareQuery(ctx context.Context, cache ResultCache, wrapper *ratelimit.Wrapper, effective map[string]any, ttl time.Duration) error {
	token, err := fingerprint.Compute(queryIdentity, stage.Embed, effective)
	if err != nil {
		return err
	}
	if payload, ok, err := cache.Get(ctx, token.String()); err != nil {
		return err
	} else if ok {
		var vector []float64
		if err := json.Unmarshal(payload.Blob, &vector); err == nil && len(vector) > 0 {
			s.vector = vector
			return nil
		}
	}

	vector, err := ratelimit.Invoke(ctx, wrapper, func(ctx context.Context) ([]float64, error) {
		return s.client.Embed(ctx, s.model, s.query)
	})
	if err != nil {
		return fmt.Errorf("embed interest query: %w", err)
	}
	encoded, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode query vector: %w", err)
	}
	payload := item.BlobPayload(string(stage.Embed), encoded)
	payload.Meta = map[string]string{"role": "query"}
	if err := cache.Put(ctx, token.String(), payload, ttl); err != nil {
		return err
	}
	s.vector = vector
	logging.WithContext(ctx, s.logger).Debug("interest query embedded",
		logging.Int("dimensions", len(vector)),
	)
	return nil
}

// Execute scores the parsed paper text.
func (s *Similarity) Execute(ctx context.Context, w *item.WorkItem) (item.Payload, error) {
	if len(s.vector) == 0 {
		return item.Payload{}, services.Wrap(services.ErrConfiguration, "embed", "score", "interest query not prepared", nil)
	}
	text, ok := w.Text(string(stage.Parse))
	if !ok {
		return item.Payload{}, services.Wrap(services.ErrValidation, "embed", "score", "no parsed text", nil)
	}
	chunks := textutil.ChunkSentences(text, s.contextLength)
	if len(chunks) == 0 {
		return item.Payload{}, services.Wrap(services.ErrValidation, "embed", "score", "parsed text is empty", nil)
	}

	var weighted, total float64
	for _, chunk := range chunks {
		vector, err := s.client.Embed(ctx, s.model, chunk.Text)
		if err != nil {
			return item.Payload{}, err
		}
		weighted += float64(chunk.Tokens) * textutil.Cosine(vector, s.vector)
		total += float64(chunk.Tokens)
	}
	score := 0.0
	if total > 0 {
		score = weighted / total
	}
	payload := item.ScorePayload(string(stage.Embed), item.Score{Value: score})
	payload.Meta = map[string]string{"chunks": strconv.Itoa(len(chunks))}
	return payload, nil
}
