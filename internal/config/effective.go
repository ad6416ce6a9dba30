package config

import (
	"fmt"
	"slices"
	"sort"
)

// EmbedActive reports whether embedding scoring runs. A top_k of 1000 or
// more means selection relies on the LLM rating alone.
func (c *Config) EmbedActive() bool {
	return c.Embed.Enabled && c.Selection.TopK < 1000
}

// RateActive reports whether LLM rating runs. A top_k of 1 or less means
// selection relies on the embedding score alone.
func (c *Config) RateActive() bool {
	return c.Rate.Enabled && c.Selection.TopK > 1
}

// StageEnabled reports whether the named stage takes part in a run.
func (c *Config) StageEnabled(stage string) bool {
	switch stage {
	case "embed":
		return c.EmbedActive()
	case "rate":
		return c.RateActive()
	case "refine":
		return c.Refine.Enabled
	case "summarize":
		return c.Summarize.Enabled
	case "deliver":
		return c.Deliver.Enabled
	default:
		return true
	}
}

// StageWorkers returns the worker pool size for a stage.
func (c *Config) StageWorkers(stage string) int {
	switch stage {
	case "parse":
		return c.Parse.Workers
	case "embed":
		return c.Embed.Workers
	case "rate":
		return c.Rate.Workers
	case "refine":
		return c.Refine.Workers
	case "summarize":
		return c.Summarize.Workers
	default:
		return 1
	}
}

// StageProvider returns the remote provider a stage calls, or "" for
// stages that run locally.
func (c *Config) StageProvider(stage string) string {
	switch stage {
	case "parse", "discover":
		return "arxiv"
	case "embed":
		return c.Embed.Provider
	case "rate":
		return c.Rate.Provider
	case "refine":
		return c.Refine.Provider
	case "summarize":
		return c.Summarize.Provider
	default:
		return ""
	}
}

// StageConfig returns the effective configuration subtree of a stage: every
// value that can change the stage's output. Credentials, worker counts, rate
// limits, and timeouts are left out so tuning them never invalidates cached
// results. Call it on a resolved config.
func (c *Config) StageConfig(stage string) map[string]any {
	switch stage {
	case "parse":
		return map[string]any{
			"tool":      c.Parse.Pdftotext,
			"args":      []string{"-layout", "-enc", "UTF-8"},
			"max_chars": c.Parse.MaxChars,
		}
	case "embed":
		return map[string]any{
			"provider":       c.Embed.Provider,
			"flavor":         c.Providers[c.Embed.Provider].Flavor,
			"model":          c.Embed.Model,
			"query_template": c.Embed.QueryTemplate,
			"user_interests": c.Embed.UserInterests,
			"context_length": c.Embed.ContextLength,
		}
	case "rate":
		return map[string]any{
			"provider":             c.Rate.Provider,
			"flavor":               c.Providers[c.Rate.Provider].Flavor,
			"model":                c.Rate.Model,
			"system_prompt":        c.Rate.SystemPrompt,
			"user_prompt_template": c.Rate.UserPromptTemplate,
			"criteria":             criteriaMap(c.Rate.Criteria),
			"max_chars":            c.Rate.MaxChars,
			"options":              c.Rate.Options.ToMap(),
		}
	case "refine":
		return map[string]any{
			"provider":  c.Refine.Provider,
			"flavor":    c.Providers[c.Refine.Provider].Flavor,
			"model":     c.Refine.Model,
			"prompt":    c.Refine.Prompt,
			"dpi":       c.Refine.DPI,
			"max_pages": c.Refine.MaxPages,
			"tool":      c.Refine.Pdftoppm,
		}
	case "summarize":
		return map[string]any{
			"provider":             c.Summarize.Provider,
			"flavor":               c.Providers[c.Summarize.Provider].Flavor,
			"model":                c.Summarize.Model,
			"system_prompt":        c.Summarize.SystemPrompt,
			"user_prompt_template": c.Summarize.UserPromptTemplate,
			"max_chars":            c.Summarize.MaxChars,
			"options":              c.Summarize.Options.ToMap(),
		}
	default:
		return map[string]any{}
	}
}

func criteriaMap(criteria map[string]Criterion) map[string]any {
	out := make(map[string]any, len(criteria))
	for name, crit := range criteria {
		out[name] = map[string]any{
			"description": crit.Description,
			"weight":      crit.Weight,
		}
	}
	return out
}

// Field is one string setting that may be written as an env: or file:
// reference. Set replaces the value in the owning Config.
type Field struct {
	Path  string
	Value string
	Set   func(string)
}

func stringField(path string, target *string) Field {
	return Field{Path: path, Value: *target, Set: func(v string) { *target = v }}
}

// IndirectFields lists the settings that accept env: and file: references,
// in a stable order.
func (c *Config) IndirectFields() []Field {
	fields := []Field{
		stringField("embed.query_template", &c.Embed.QueryTemplate),
		stringField("embed.user_interests", &c.Embed.UserInterests),
		stringField("rate.system_prompt", &c.Rate.SystemPrompt),
		stringField("rate.user_prompt_template", &c.Rate.UserPromptTemplate),
		stringField("refine.prompt", &c.Refine.Prompt),
		stringField("summarize.system_prompt", &c.Summarize.SystemPrompt),
		stringField("summarize.user_prompt_template", &c.Summarize.UserPromptTemplate),
		stringField("deliver.username", &c.Deliver.Username),
		stringField("deliver.password", &c.Deliver.Password),
		stringField("deliver.sender", &c.Deliver.Sender),
		stringField("notifications.ntfy_topic", &c.Notifications.NtfyTopic),
	}
	for i := range c.Deliver.Recipients {
		fields = append(fields, stringField(fmt.Sprintf("deliver.recipients[%d]", i), &c.Deliver.Recipients[i]))
	}

	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields = append(fields,
			Field{
				Path:  "providers." + name + ".api_key",
				Value: c.Providers[name].APIKey,
				Set: func(v string) {
					p := c.Providers[name]
					p.APIKey = v
					c.Providers[name] = p
				},
			},
			Field{
				Path:  "providers." + name + ".base_url",
				Value: c.Providers[name].BaseURL,
				Set: func(v string) {
					p := c.Providers[name]
					p.BaseURL = v
					c.Providers[name] = p
				},
			},
		)
	}
	return fields
}

// ActiveProviders returns the providers that enabled stages call.
func (c *Config) ActiveProviders() []string {
	var names []string
	for _, stage := range []string{"embed", "rate", "refine", "summarize"} {
		if !c.StageEnabled(stage) {
			continue
		}
		name := c.StageProvider(stage)
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
