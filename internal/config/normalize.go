package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRun()
	c.normalizeFetch()
	c.normalizeCache()
	c.normalizeRetry()
	c.normalizeStages()
	c.normalizeProviders()
	c.normalizeRender()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRun() {
	categories := make([]string, 0, len(c.Run.Categories))
	for _, cat := range c.Run.Categories {
		if cat = strings.TrimSpace(cat); cat != "" {
			categories = append(categories, cat)
		}
	}
	c.Run.Categories = categories
	if c.Run.ItemWorkers <= 0 {
		c.Run.ItemWorkers = defaultItemWorkers
	}
	if c.Run.CancelGraceSeconds < 0 {
		c.Run.CancelGraceSeconds = 0
	}
}

func (c *Config) normalizeFetch() {
	c.Fetch.BaseURL = strings.TrimRight(strings.TrimSpace(c.Fetch.BaseURL), "/")
	if c.Fetch.BaseURL == "" {
		c.Fetch.BaseURL = defaultFetchBaseURL
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		c.Fetch.UserAgent = defaultFetchUserAgent
	}
	c.Fetch.Days = clampInt(c.Fetch.Days, 1, 100)
	c.Fetch.MaxResults = clampInt(c.Fetch.MaxResults, 1, 1000)
	if c.Fetch.PageSize <= 0 {
		c.Fetch.PageSize = defaultFetchPageSize
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = defaultFetchTimeoutSeconds
	}
}

func (c *Config) normalizeCache() {
	if c.Cache.MaxPDFCacheMB < 0 {
		c.Cache.MaxPDFCacheMB = 0
	}
}

func (c *Config) normalizeRetry() {
	c.Retry.MaxRetries = clampInt(c.Retry.MaxRetries, 0, 100)
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = defaultRetryBaseDelayMS
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		c.Retry.MaxDelayMS = c.Retry.BaseDelayMS
	}
}

func (c *Config) normalizeStages() {
	c.Parse.Pdftotext = defaultString(c.Parse.Pdftotext, defaultPdftotext)
	c.Parse.Workers = defaultInt(c.Parse.Workers, defaultParseWorkers)

	c.Embed.Provider = normalizeProviderName(c.Embed.Provider)
	c.Embed.Model = strings.TrimSpace(c.Embed.Model)
	c.Embed.Workers = defaultInt(c.Embed.Workers, defaultEmbedWorkers)
	c.Embed.ContextLength = defaultInt(c.Embed.ContextLength, defaultEmbedContextLength)

	c.Rate.Provider = normalizeProviderName(c.Rate.Provider)
	c.Rate.Model = strings.TrimSpace(c.Rate.Model)
	c.Rate.Workers = defaultInt(c.Rate.Workers, defaultRateWorkers)
	c.Rate.CriteriaFile = strings.TrimSpace(c.Rate.CriteriaFile)
	if len(c.Rate.Criteria) == 0 && c.Rate.CriteriaFile == "" {
		c.Rate.Criteria = defaultCriteria()
	}
	c.Rate.Options.clamp()

	if c.Selection.MaxSelected <= 0 {
		c.Selection.MaxSelected = defaultMaxSelected
	}
	if c.Selection.TopK <= 0 {
		c.Selection.TopK = defaultTopK
	}

	c.Refine.Provider = normalizeProviderName(c.Refine.Provider)
	c.Refine.Model = strings.TrimSpace(c.Refine.Model)
	c.Refine.Workers = defaultInt(c.Refine.Workers, defaultRefineWorkers)
	c.Refine.DPI = defaultInt(c.Refine.DPI, defaultRefineDPI)
	c.Refine.MaxPages = defaultInt(c.Refine.MaxPages, defaultRefineMaxPages)
	c.Refine.Pdftoppm = defaultString(c.Refine.Pdftoppm, defaultPdftoppm)

	c.Summarize.Provider = normalizeProviderName(c.Summarize.Provider)
	c.Summarize.Model = strings.TrimSpace(c.Summarize.Model)
	c.Summarize.Workers = defaultInt(c.Summarize.Workers, defaultSummarizeWorkers)
	c.Summarize.Options.clamp()
}

// normalizeProviders makes sure every provider a stage names has an entry,
// filling base URLs for recognized providers and API keys from
// <NAME>_API_KEY when the file leaves them blank.
func (c *Config) normalizeProviders() {
	normalized := make(map[string]Provider, len(c.Providers))
	for name, p := range c.Providers {
		normalized[normalizeProviderName(name)] = p
	}
	for _, name := range []string{c.Embed.Provider, c.Rate.Provider, c.Refine.Provider, c.Summarize.Provider} {
		if name == "" {
			continue
		}
		if _, ok := normalized[name]; !ok {
			normalized[name] = Provider{}
		}
	}
	for name, p := range normalized {
		p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
		if p.BaseURL == "" {
			p.BaseURL = KnownProviders[name]
		}
		p.Flavor = strings.ToLower(strings.TrimSpace(p.Flavor))
		if p.Flavor == "" {
			p.Flavor = "openai"
			if name == "ollama" {
				p.Flavor = "ollama"
			}
		}
		if strings.TrimSpace(p.APIKey) == "" {
			if value, ok := os.LookupEnv(apiKeyEnv(name)); ok {
				p.APIKey = value
			}
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = defaultProviderTimeout
		}
		if p.RequestsPerMinute < 0 {
			p.RequestsPerMinute = 0
		}
		if p.Burst <= 0 {
			p.Burst = 1
		}
		normalized[name] = p
	}
	c.Providers = normalized
}

func (c *Config) normalizeRender() {
	formats := make([]string, 0, len(c.Render.Formats))
	seen := map[string]struct{}{}
	for _, f := range c.Render.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		formats = []string{"md"}
	}
	c.Render.Formats = formats
	c.Render.Pandoc = defaultString(c.Render.Pandoc, defaultPandoc)
	if c.Deliver.MaxAttachmentMB <= 0 {
		c.Deliver.MaxAttachmentMB = defaultMaxAttachmentMB
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (o *CompletionOptions) clamp() {
	o.Temperature = clampFloat(o.Temperature, 0, 2)
	o.TopP = clampFloat(o.TopP, 0, 1)
	o.FrequencyPenalty = clampFloat(o.FrequencyPenalty, -2, 2)
	o.PresencePenalty = clampFloat(o.PresencePenalty, -2, 2)
	if o.MaxTokens != nil && *o.MaxTokens < 1 {
		one := 1
		o.MaxTokens = &one
	}
}

// ToMap returns the set options keyed by their wire names.
func (o CompletionOptions) ToMap() map[string]any {
	out := map[string]any{}
	if o.Temperature != nil {
		out["temperature"] = *o.Temperature
	}
	if o.TopP != nil {
		out["top_p"] = *o.TopP
	}
	if o.FrequencyPenalty != nil {
		out["frequency_penalty"] = *o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		out["presence_penalty"] = *o.PresencePenalty
	}
	if o.MaxTokens != nil {
		out["max_tokens"] = *o.MaxTokens
	}
	return out
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func apiKeyEnv(provider string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(provider) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_API_KEY")
	return b.String()
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampFloat(v *float64, lo, hi float64) *float64 {
	if v == nil {
		return nil
	}
	out := max(lo, min(*v, hi))
	return &out
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func defaultString(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
