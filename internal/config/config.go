package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	CacheDir  string `toml:"cache_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Run contains settings that apply to a whole pipeline run.
type Run struct {
	Categories         []string `toml:"categories"`
	ItemWorkers        int      `toml:"item_workers"`
	RetryBudget        int      `toml:"retry_budget"`
	CancelGraceSeconds int      `toml:"cancel_grace_seconds"`
}

// Fetch contains settings for discovering new papers.
type Fetch struct {
	BaseURL        string `toml:"base_url"`
	UserAgent      string `toml:"user_agent"`
	Days           int    `toml:"days"`
	MaxResults     int    `toml:"max_results"`
	PageSize       int    `toml:"page_size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Cache contains settings for the result cache and the PDF store.
type Cache struct {
	TTLDays       int  `toml:"ttl_days"`
	SweepOnStart  bool `toml:"sweep_on_start"`
	MaxPDFCacheMB int  `toml:"max_pdf_cache_mb"`
}

// Retry contains the backoff policy applied to every remote call.
type Retry struct {
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
	MaxRetries  int `toml:"max_retries"`
}

// Provider describes one remote model endpoint. Flavor is "openai" for
// OpenAI-compatible APIs or "ollama" for the native Ollama API.
type Provider struct {
	Flavor            string `toml:"flavor"`
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	Burst             int    `toml:"burst"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// CompletionOptions are sampling parameters forwarded to chat completions.
// Unset values are omitted from requests.
type CompletionOptions struct {
	Temperature      *float64 `toml:"temperature"`
	TopP             *float64 `toml:"top_p"`
	FrequencyPenalty *float64 `toml:"frequency_penalty"`
	PresencePenalty  *float64 `toml:"presence_penalty"`
	MaxTokens        *int     `toml:"max_tokens"`
}

// Parse contains settings for text extraction.
type Parse struct {
	Workers   int    `toml:"workers"`
	MaxChars  int    `toml:"max_chars"`
	Pdftotext string `toml:"pdftotext"`
}

// Embed contains settings for embedding-based relevance scoring.
type Embed struct {
	Enabled       bool   `toml:"enabled"`
	Provider      string `toml:"provider"`
	Model         string `toml:"model"`
	Workers       int    `toml:"workers"`
	QueryTemplate string `toml:"query_template"`
	UserInterests string `toml:"user_interests"`
	ContextLength int    `toml:"context_length"`
}

// Criterion is one weighted rating dimension.
type Criterion struct {
	Description string  `toml:"description" yaml:"description"`
	Weight      float64 `toml:"weight" yaml:"weight"`
}

// Rate contains settings for LLM-based rating.
type Rate struct {
	Enabled            bool                 `toml:"enabled"`
	Provider           string               `toml:"provider"`
	Model              string               `toml:"model"`
	Workers            int                  `toml:"workers"`
	SystemPrompt       string               `toml:"system_prompt"`
	UserPromptTemplate string               `toml:"user_prompt_template"`
	Criteria           map[string]Criterion `toml:"criteria"`
	CriteriaFile       string               `toml:"criteria_file"`
	MaxChars           int                  `toml:"max_chars"`
	Options            CompletionOptions    `toml:"options"`
}

// Selection decides how many items survive each scoring stage.
type Selection struct {
	TopK        int `toml:"top_k"`
	MaxSelected int `toml:"max_selected"`
}

// Refine contains settings for the optional vision-model extraction pass.
type Refine struct {
	Enabled  bool   `toml:"enabled"`
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	Workers  int    `toml:"workers"`
	Prompt   string `toml:"prompt"`
	DPI      int    `toml:"dpi"`
	MaxPages int    `toml:"max_pages"`
	Pdftoppm string `toml:"pdftoppm"`
}

// Summarize contains settings for summary generation.
type Summarize struct {
	Enabled            bool              `toml:"enabled"`
	Provider           string            `toml:"provider"`
	Model              string            `toml:"model"`
	Workers            int               `toml:"workers"`
	SystemPrompt       string            `toml:"system_prompt"`
	UserPromptTemplate string            `toml:"user_prompt_template"`
	MaxChars           int               `toml:"max_chars"`
	Options            CompletionOptions `toml:"options"`
}

// Render contains settings for the digest document.
type Render struct {
	Title   string   `toml:"title"`
	Formats []string `toml:"formats"`
	Pandoc  string   `toml:"pandoc"`
}

// Deliver contains SMTP settings for mailing the digest.
type Deliver struct {
	Enabled         bool     `toml:"enabled"`
	SMTPHost        string   `toml:"smtp_host"`
	SMTPPort        int      `toml:"smtp_port"`
	Username        string   `toml:"username"`
	Password        string   `toml:"password"`
	Sender          string   `toml:"sender"`
	Recipients      []string `toml:"recipients"`
	Subject         string   `toml:"subject"`
	Attach          []string `toml:"attach"`
	MaxAttachmentMB int      `toml:"max_attachment_mb"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for autosumm.
//
// Configuration sections by subsystem:
//   - Paths: cache, output, and log directories
//   - Run: categories, concurrency, retry budget, cancellation grace
//   - Fetch: arXiv listing discovery
//   - Cache: result TTL and PDF store size
//   - Retry: backoff policy for remote calls
//   - Providers: model endpoints and their rate limits
//   - Parse, Embed, Rate, Refine, Summarize: per-stage settings
//   - Selection: top_k and max_selected
//   - Render, Deliver, Notifications: digest output
//   - Logging: log format and level
type Config struct {
	Paths         Paths               `toml:"paths"`
	Run           Run                 `toml:"run"`
	Fetch         Fetch               `toml:"fetch"`
	Cache         Cache               `toml:"cache"`
	Retry         Retry               `toml:"retry"`
	Providers     map[string]Provider `toml:"providers"`
	Parse         Parse               `toml:"parse"`
	Embed         Embed               `toml:"embed"`
	Rate          Rate                `toml:"rate"`
	Selection     Selection           `toml:"selection"`
	Refine        Refine              `toml:"refine"`
	Summarize     Summarize           `toml:"summarize"`
	Render        Render              `toml:"render"`
	Deliver       Deliver             `toml:"deliver"`
	Notifications Notifications       `toml:"notifications"`
	Logging       Logging             `toml:"logging"`

	// dir is the directory of the loaded file; file: references resolve
	// relative to it.
	dir string
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/autosumm/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Values written as env: or file:
// references are left in place; see package resolve.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		cfg.dir = filepath.Dir(resolvedPath)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("autosumm.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// Dir returns the directory relative file: references resolve against.
func (c *Config) Dir() string {
	if c.dir != "" {
		return c.dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// SetDir overrides the reference base directory.
func (c *Config) SetDir(dir string) { c.dir = dir }

// EnsureDirectories creates the cache, output, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.OutputDir, c.Paths.LogDir, c.PDFDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CacheDBPath is the result cache database location.
func (c *Config) CacheDBPath() string { return filepath.Join(c.Paths.CacheDir, "cache.db") }

// RegistryDBPath is the item registry database location.
func (c *Config) RegistryDBPath() string { return filepath.Join(c.Paths.CacheDir, "registry.db") }

// PDFDir is where downloaded PDFs are kept.
func (c *Config) PDFDir() string { return filepath.Join(c.Paths.CacheDir, "pdfs") }

// LockPath is the single-run lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.CacheDir, "autosumm.lock") }

// Clone returns a deep copy so resolution never mutates the loaded config.
func (c *Config) Clone() *Config {
	out := *c
	out.Run.Categories = slices.Clone(c.Run.Categories)
	out.Providers = maps.Clone(c.Providers)
	out.Rate.Criteria = maps.Clone(c.Rate.Criteria)
	out.Render.Formats = slices.Clone(c.Render.Formats)
	out.Deliver.Recipients = slices.Clone(c.Deliver.Recipients)
	out.Deliver.Attach = slices.Clone(c.Deliver.Attach)
	return &out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
