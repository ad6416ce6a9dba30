package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"autosumm/internal/config"
	"autosumm/internal/services"
)

const (
	// FlavorOpenAI speaks the OpenAI-compatible /chat/completions and
	// /embeddings API.
	FlavorOpenAI = "openai"
	// FlavorOllama speaks the native Ollama /api/chat and /api/embeddings API.
	FlavorOllama = "ollama"

	defaultHTTPTimeout = 120 * time.Second
	maxResponseBytes   = 32 << 20
)

// Config captures the runtime settings required to talk to one provider.
type Config struct {
	Provider       string
	Flavor         string
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// ConfigFromProvider builds a client config from a resolved provider entry.
func ConfigFromProvider(name string, p config.Provider) Config {
	return Config{
		Provider:       name,
		Flavor:         p.Flavor,
		BaseURL:        p.BaseURL,
		APIKey:         p.APIKey,
		TimeoutSeconds: p.TimeoutSeconds,
	}
}

// Client issues single chat and embedding requests. It never retries: the
// caller's rate-limited wrapper owns retry policy, so every failure is
// returned in a form services.Classify understands.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client for one provider.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	flavor := strings.ToLower(strings.TrimSpace(cfg.Flavor))
	if flavor == "" {
		flavor = FlavorOpenAI
	}
	client := &Client{
		cfg: Config{
			Provider:       strings.TrimSpace(cfg.Provider),
			Flavor:         flavor,
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Provider returns the provider name the client talks to.
func (c *Client) Provider() string { return c.cfg.Provider }

// ChatRequest is one chat completion call.
type ChatRequest struct {
	Model  string
	System string
	User   string
	// Images are PNG page renders attached to the user message.
	Images  [][]byte
	Options config.CompletionOptions
}

// Chat sends one chat completion request and returns the model's text.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if strings.TrimSpace(req.User) == "" && len(req.Images) == 0 {
		return "", services.Wrap(services.ErrValidation, c.cfg.Provider, "chat", "user prompt required", nil)
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", services.Wrap(services.ErrConfiguration, c.cfg.Provider, "chat", "model required", nil)
	}
	if c.cfg.Flavor == FlavorOllama {
		return c.chatOllama(ctx, req)
	}
	return c.chatOpenAI(ctx, req)
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema (delta) even when
		// stream=false, so tolerate it as a fallback.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

func (c *Client) chatOpenAI(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]openAIMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}
	if len(req.Images) == 0 {
		messages = append(messages, openAIMessage{Role: "user", Content: req.User})
	} else {
		parts := []openAIContentPart{{Type: "text", Text: req.User}}
		for _, img := range req.Images {
			parts = append(parts, openAIContentPart{
				Type:     "image_url",
				ImageURL: &openAIImageURL{URL: dataURL(img), Detail: "high"},
			})
		}
		messages = append(messages, openAIMessage{Role: "user", Content: parts})
	}

	payload := req.Options.ToMap()
	payload["model"] = req.Model
	payload["messages"] = messages
	payload["stream"] = false

	body, err := c.post(ctx, "chat", "/chat/completions", payload)
	if err != nil {
		return "", err
	}
	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", services.Wrap(services.ErrTransient, c.cfg.Provider, "chat", "decode response", err)
	}
	if completion.Error != nil {
		return "", services.Wrap(services.ErrRejected, c.cfg.Provider, "chat", strings.TrimSpace(completion.Error.Message), nil)
	}
	var finishReason, refusal string
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, nil
		}
		if refusal == "" {
			refusal = firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal)
		}
	}
	if refusal != "" {
		return "", services.Wrap(services.ErrRejected, c.cfg.Provider, "chat", "model refused: "+refusal, nil)
	}
	return "", services.Wrap(services.ErrTransient, c.cfg.Provider, "chat",
		fmt.Sprintf("empty content (finish_reason=%q, response_snippet=%s)", finishReason, summarizePayloadSnippet(string(body))), nil)
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  [][]byte `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

func (c *Client) chatOllama(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]ollamaMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: system})
	}
	// encoding/json renders []byte as base64, which is what Ollama expects.
	messages = append(messages, ollamaMessage{Role: "user", Content: req.User, Images: req.Images})

	options := req.Options.ToMap()
	if v, ok := options["max_tokens"]; ok {
		delete(options, "max_tokens")
		options["num_predict"] = v
	}
	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   false,
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	body, err := c.post(ctx, "chat", "/api/chat", payload)
	if err != nil {
		return "", err
	}
	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", services.Wrap(services.ErrTransient, c.cfg.Provider, "chat", "decode response", err)
	}
	if resp.Error != "" {
		return "", services.Wrap(services.ErrRejected, c.cfg.Provider, "chat", resp.Error, nil)
	}
	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", services.Wrap(services.ErrTransient, c.cfg.Provider, "chat",
			"empty content (response_snippet="+summarizePayloadSnippet(string(body))+")", nil)
	}
	return content, nil
}

// post sends a JSON request and returns the body of a 2xx response. Non-2xx
// responses become *services.StatusError carrying any Retry-After hint.
func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	if c.cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, c.cfg.Provider, op, "base_url is not set", nil)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, c.cfg.Provider, op, "build url", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, c.cfg.Provider, op, "encode body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, c.cfg.Provider, op, "new request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: http error (timeout=%s): %w", c.cfg.Provider, op, c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, c.cfg.Provider, op, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, fmt.Errorf("%s %s: %w", c.cfg.Provider, op, &services.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		})
	}
	return body, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
