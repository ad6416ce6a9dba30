package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"autosumm/internal/services"
)

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type ollamaEmbeddingResponse struct {
	Embedding  []float64   `json:"embedding"`
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed returns the embedding vector of one text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float64, error) {
	if strings.TrimSpace(model) == "" {
		return nil, services.Wrap(services.ErrConfiguration, c.cfg.Provider, "embed", "model required", nil)
	}
	if strings.TrimSpace(text) == "" {
		return nil, services.Wrap(services.ErrValidation, c.cfg.Provider, "embed", "empty input", nil)
	}

	var vector []float64
	if c.cfg.Flavor == FlavorOllama {
		body, err := c.post(ctx, "embed", "/api/embeddings", map[string]any{"model": model, "prompt": text})
		if err != nil {
			return nil, err
		}
		var resp ollamaEmbeddingResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, services.Wrap(services.ErrTransient, c.cfg.Provider, "embed", "decode response", err)
		}
		vector = resp.Embedding
		if len(vector) == 0 && len(resp.Embeddings) > 0 {
			vector = resp.Embeddings[0]
		}
	} else {
		body, err := c.post(ctx, "embed", "/embeddings", map[string]any{"model": model, "input": []string{text}})
		if err != nil {
			return nil, err
		}
		var resp openAIEmbeddingResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, services.Wrap(services.ErrTransient, c.cfg.Provider, "embed", "decode response", err)
		}
		if len(resp.Data) > 0 {
			vector = resp.Data[0].Embedding
		}
	}
	if len(vector) == 0 {
		return nil, services.Wrap(services.ErrTransient, c.cfg.Provider, "embed", fmt.Sprintf("no embedding returned for model %s", model), nil)
	}
	return vector, nil
}

func dataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
