package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
)

var categoryPattern = regexp.MustCompile(`^[a-z-]+(\.[A-Za-z-]+)?$`)

var renderFormats = []string{"md", "html", "pdf", "epub"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRun(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateDeliver(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRun() error {
	if len(c.Run.Categories) == 0 {
		return errors.New("run.categories must list at least one arXiv category")
	}
	for _, cat := range c.Run.Categories {
		if !categoryPattern.MatchString(cat) {
			return fmt.Errorf("run.categories: %q is not an arXiv category", cat)
		}
	}
	if c.Run.RetryBudget < 1 {
		return errors.New("run.retry_budget must be at least 1")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.TTLDays <= 0 {
		return errors.New("cache.ttl_days must be positive")
	}
	return nil
}

func (c *Config) validateStages() error {
	if c.Embed.Enabled {
		if c.Embed.Provider == "" || c.Embed.Model == "" {
			return errors.New("embed.provider and embed.model must be set when embed is enabled")
		}
		if strings.TrimSpace(c.Embed.QueryTemplate) == "" {
			return errors.New("embed.query_template must be set when embed is enabled")
		}
	}
	if c.Rate.Enabled {
		if c.Rate.Provider == "" || c.Rate.Model == "" {
			return errors.New("rate.provider and rate.model must be set when rate is enabled")
		}
		if strings.TrimSpace(c.Rate.UserPromptTemplate) == "" {
			return errors.New("rate.user_prompt_template must be set when rate is enabled")
		}
		if err := ValidateCriteria(c.Rate.Criteria); err != nil && c.Rate.CriteriaFile == "" {
			return err
		}
	}
	if c.Refine.Enabled && (c.Refine.Provider == "" || c.Refine.Model == "") {
		return errors.New("refine.provider and refine.model must be set when refine is enabled")
	}
	if c.Summarize.Enabled {
		if c.Summarize.Provider == "" || c.Summarize.Model == "" {
			return errors.New("summarize.provider and summarize.model must be set when summarize is enabled")
		}
		if strings.TrimSpace(c.Summarize.UserPromptTemplate) == "" {
			return errors.New("summarize.user_prompt_template must be set when summarize is enabled")
		}
	}
	return nil
}

// ValidateCriteria checks that rating criteria exist and carry positive,
// finite weights.
func ValidateCriteria(criteria map[string]Criterion) error {
	if len(criteria) == 0 {
		return errors.New("rate.criteria must define at least one criterion")
	}
	for name, crit := range criteria {
		if strings.TrimSpace(name) == "" {
			return errors.New("rate.criteria: criterion names must not be empty")
		}
		if crit.Weight <= 0 || math.IsInf(crit.Weight, 0) || math.IsNaN(crit.Weight) {
			return fmt.Errorf("rate.criteria.%s.weight must be positive", name)
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	for name, p := range c.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url must be set for unrecognized providers", name)
		}
		if p.Flavor != "openai" && p.Flavor != "ollama" {
			return fmt.Errorf("providers.%s.flavor must be openai or ollama", name)
		}
	}
	return nil
}

func (c *Config) validateRender() error {
	for _, f := range c.Render.Formats {
		if !slices.Contains(renderFormats, f) {
			return fmt.Errorf("render.formats: unsupported format %q (want one of %s)", f, strings.Join(renderFormats, ", "))
		}
	}
	return nil
}

func (c *Config) validateDeliver() error {
	if !c.Deliver.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Deliver.SMTPHost) == "" {
		return errors.New("deliver.smtp_host must be set when delivery is enabled")
	}
	if c.Deliver.SMTPPort <= 0 || c.Deliver.SMTPPort > 65535 {
		return errors.New("deliver.smtp_port must be a valid port")
	}
	if strings.TrimSpace(c.Deliver.Sender) == "" {
		return errors.New("deliver.sender must be set when delivery is enabled")
	}
	if len(c.Deliver.Recipients) == 0 {
		return errors.New("deliver.recipients must list at least one address")
	}
	for _, f := range c.Deliver.Attach {
		if !slices.Contains(c.Render.Formats, strings.ToLower(f)) {
			return fmt.Errorf("deliver.attach: %q is not listed in render.formats", f)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
