package config

const (
	defaultCacheDir            = "~/.cache/autosumm"
	defaultOutputDir           = "~/.local/share/autosumm/output"
	defaultLogDir              = "~/.local/share/autosumm/logs"
	defaultCategory            = "cs.AI"
	defaultItemWorkers         = 8
	defaultRetryBudget         = 3
	defaultCancelGraceSeconds  = 30
	defaultFetchBaseURL        = "https://arxiv.org"
	defaultFetchUserAgent      = "autosumm/dev (+https://arxiv.org/help/robots)"
	defaultFetchDays           = 8
	defaultFetchMaxResults     = 1000
	defaultFetchPageSize       = 250
	defaultFetchTimeoutSeconds = 60
	defaultCacheTTLDays        = 16
	defaultMaxPDFCacheMB       = 1024
	defaultRetryBaseDelayMS    = 1000
	defaultRetryMaxDelayMS     = 60000
	defaultRetryMaxRetries     = 5
	defaultProviderTimeout     = 120
	defaultParseWorkers        = 4
	defaultParseMaxChars       = 200000
	defaultPdftotext           = "pdftotext"
	defaultEmbedWorkers        = 4
	defaultEmbedContextLength  = 32768
	defaultRateWorkers         = 4
	defaultRateMaxChars        = 65536
	defaultTopK                = 200
	defaultMaxSelected         = 10
	defaultRefineWorkers       = 2
	defaultRefineDPI           = 168
	defaultRefineMaxPages      = 20
	defaultPdftoppm            = "pdftoppm"
	defaultSummarizeWorkers    = 4
	defaultSummarizeMaxChars   = 131072
	defaultRenderTitle         = "arXiv digest"
	defaultPandoc              = "pandoc"
	defaultSMTPPort            = 465
	defaultMaxAttachmentMB     = 25
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "auto"
	defaultLogLevel            = "info"

	defaultQueryTemplate = "Represent this research interest for retrieving relevant papers: {user_interests}"

	defaultRateSystemPrompt = "You rate research papers for a reader. Answer with JSON only."
	defaultRateUserPrompt   = `Rate the paper below from 0 to 10 on each criterion.

Criteria:
{criteria_text}

Respond with {"ratings": {"<criterion>": <score>}, "justifications": {"<criterion>": "<one sentence>"}}.

Paper:
{paper_text}`

	defaultSummarizeSystemPrompt = "You write concise, faithful summaries of research papers in Markdown."
	defaultSummarizeUserPrompt   = `Summarize the paper below: the problem, the method, the key results, and the limitations.

{paper_text}`

	defaultRefinePrompt = "Transcribe this page of a research paper to Markdown. Keep equations as LaTeX."
)

func defaultCriteria() map[string]Criterion {
	return map[string]Criterion{
		"relevance": {Description: "How closely the paper matches the reader's interests.", Weight: 0.6},
		"novelty":   {Description: "How new the ideas or results are.", Weight: 0.4},
	}
}

// KnownProviders maps recognized provider names to their default base URL.
var KnownProviders = map[string]string{
	"dashscope":   "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"deepseek":    "https://api.deepseek.com/v1",
	"ollama":      "http://localhost:11434",
	"openai":      "https://api.openai.com/v1",
	"minimax":     "https://api.minimaxi.com/v1",
	"moonshot":    "https://api.moonshot.cn/v1",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"volcengine":  "https://ark.cn-beijing.volces.com/api/v3",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir:  defaultCacheDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Run: Run{
			Categories:         []string{defaultCategory},
			ItemWorkers:        defaultItemWorkers,
			RetryBudget:        defaultRetryBudget,
			CancelGraceSeconds: defaultCancelGraceSeconds,
		},
		Fetch: Fetch{
			BaseURL:        defaultFetchBaseURL,
			UserAgent:      defaultFetchUserAgent,
			Days:           defaultFetchDays,
			MaxResults:     defaultFetchMaxResults,
			PageSize:       defaultFetchPageSize,
			TimeoutSeconds: defaultFetchTimeoutSeconds,
		},
		Cache: Cache{
			TTLDays:       defaultCacheTTLDays,
			SweepOnStart:  true,
			MaxPDFCacheMB: defaultMaxPDFCacheMB,
		},
		Retry: Retry{
			BaseDelayMS: defaultRetryBaseDelayMS,
			MaxDelayMS:  defaultRetryMaxDelayMS,
			MaxRetries:  defaultRetryMaxRetries,
		},
		Providers: map[string]Provider{},
		Parse: Parse{
			Workers:   defaultParseWorkers,
			MaxChars:  defaultParseMaxChars,
			Pdftotext: defaultPdftotext,
		},
		Embed: Embed{
			Enabled:       true,
			Provider:      "ollama",
			Model:         "nomic-embed-text",
			Workers:       defaultEmbedWorkers,
			QueryTemplate: defaultQueryTemplate,
			ContextLength: defaultEmbedContextLength,
		},
		Rate: Rate{
			Enabled:            true,
			Provider:           "deepseek",
			Model:              "deepseek-chat",
			Workers:            defaultRateWorkers,
			SystemPrompt:       defaultRateSystemPrompt,
			UserPromptTemplate: defaultRateUserPrompt,
			MaxChars:           defaultRateMaxChars,
		},
		Selection: Selection{
			TopK:        defaultTopK,
			MaxSelected: defaultMaxSelected,
		},
		Refine: Refine{
			Enabled:  false,
			Workers:  defaultRefineWorkers,
			Prompt:   defaultRefinePrompt,
			DPI:      defaultRefineDPI,
			MaxPages: defaultRefineMaxPages,
			Pdftoppm: defaultPdftoppm,
		},
		Summarize: Summarize{
			Enabled:            true,
			Provider:           "deepseek",
			Model:              "deepseek-chat",
			Workers:            defaultSummarizeWorkers,
			SystemPrompt:       defaultSummarizeSystemPrompt,
			UserPromptTemplate: defaultSummarizeUserPrompt,
			MaxChars:           defaultSummarizeMaxChars,
		},
		Render: Render{
			Title:   defaultRenderTitle,
			Formats: []string{"md"},
			Pandoc:  defaultPandoc,
		},
		Deliver: Deliver{
			Enabled:         false,
			SMTPPort:        defaultSMTPPort,
			Attach:          []string{"md"},
			MaxAttachmentMB: defaultMaxAttachmentMB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
