package registry

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/metrics"
	"chatrelay/internal/providers"
)

// FallbackProvider is used when the configured default id is unknown.
const FallbackProvider = string(providers.KindOpenAIChat)

// ProviderConfig is the static, per-kind configuration.
type ProviderConfig struct {
	Kind         providers.Kind
	Label        string
	DefaultModel string
	BaseURL      string
	APIKey       string
	Models       []string
	TokenURL     string
	BodyTemplate string
	// Headers are extra request headers; "{{api_key}}" expands to the credential.
	Headers map[string]string
}

// Defaults returns the built-in provider table without environment credentials.
func Defaults() []ProviderConfig {
	return []ProviderConfig{
		{
			Kind:         providers.KindOpenAIChat,
			Label:        "ChatGPT",
			DefaultModel: "gpt-4o-mini",
			BaseURL:      "https://api.openai.com/v1",
			Models:       []string{"gpt-5", "gpt-5-mini", "gpt-4.1", "gpt-4o", "gpt-4o-mini"},
			TokenURL:     "https://platform.openai.com/api-keys",
		},
		{
			Kind:         providers.KindGemini,
			Label:        "Google Gemini",
			DefaultModel: "gemini-1.5-flash",
			Models:       []string{"gemini-2.5-pro", "gemini-2.5-flash"},
			TokenURL:     "https://makersuite.google.com/app/apikey",
		},
		{
			Kind:         providers.KindClaude,
			Label:        "Claude",
			DefaultModel: "claude-3-5-sonnet-20241022",
			BaseURL:      "https://api.anthropic.com",
			Models:       []string{"claude-opus-4.1", "claude-sonnet-4.5", "claude-haiku-4.5"},
			TokenURL:     "https://console.anthropic.com/",
		},
		{
			Kind:         providers.KindGrok,
			Label:        "Grok",
			DefaultModel: "grok-beta",
			BaseURL:      "https://api.x.ai/v1",
			Models:       []string{"grok-4", "grok-4-fast", "grok-code-fast-1"},
			TokenURL:     "https://console.x.ai/",
		},
		{
			Kind:         providers.KindCustom,
			Label:        "Custom LLM",
			DefaultModel: "llama3",
			BaseURL:      "http://localhost:11434/v1/chat/completions",
			Models:       []string{"llama-4-scout", "llama-3.3-70b", "magistral-medium", "devstral-small"},
			TokenURL:     "Your custom LLM endpoint",
		},
	}
}

type Config struct {
	Providers       []ProviderConfig
	DefaultProvider string
	HTTPClient      *http.Client
	Timeout         time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// Entry pairs a provider id with an adapter built from its defaults.
type Entry struct {
	ID      string
	Adapter *Adapter
}

type Registry struct {
	order           []string
	configs         map[string]ProviderConfig
	defaultProvider string
	httpClient      *http.Client
	timeout         time.Duration
	maxRetries      int
	backoffBase     time.Duration
	logger          zerolog.Logger
	metrics         *metrics.Metrics
}

func New(cfg Config) *Registry {
	if cfg.Providers == nil {
		cfg.Providers = Defaults()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}

	r := &Registry{
		configs:     make(map[string]ProviderConfig, len(cfg.Providers)),
		httpClient:  cfg.HTTPClient,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		logger:      cfg.Logger.With().Str("component", "providers").Logger(),
		metrics:     cfg.Metrics,
	}
	for _, pc := range cfg.Providers {
		if !knownKind(pc.Kind) {
			r.logger.Warn().Str("kind", string(pc.Kind)).Msg("skipping unknown provider kind")
			continue
		}
		id := normalizeID(string(pc.Kind))
		if _, dup := r.configs[id]; !dup {
			r.order = append(r.order, id)
		}
		r.configs[id] = pc
	}

	r.defaultProvider = normalizeID(cfg.DefaultProvider)
	if _, ok := r.configs[r.defaultProvider]; !ok {
		r.defaultProvider = FallbackProvider
	}
	return r
}

// Resolve builds a fresh adapter for id with the env credential and either the
// model override or the provider default.
func (r *Registry) Resolve(id, model string) (*Adapter, bool) {
	pc, ok := r.configs[normalizeID(id)]
	if !ok {
		return nil, false
	}
	if strings.TrimSpace(model) == "" {
		model = pc.DefaultModel
	}
	return r.newAdapter(pc, model), true
}

// ListAvailable returns providers with an env credential or, per hasUserToken,
// a stored user credential, in declaration order.
func (r *Registry) ListAvailable(hasUserToken func(id string) bool) []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		a := r.newAdapter(r.configs[id], r.configs[id].DefaultModel)
		if a.IsAvailable("") || (hasUserToken != nil && hasUserToken(id)) {
			out = append(out, Entry{ID: id, Adapter: a})
		}
	}
	return out
}

// All returns every known provider in declaration order.
func (r *Registry) All() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Entry{ID: id, Adapter: r.newAdapter(r.configs[id], r.configs[id].DefaultModel)})
	}
	return out
}

func (r *Registry) ModelsFor(id string) []string {
	pc, ok := r.configs[normalizeID(id)]
	if !ok {
		return []string{}
	}
	out := make([]string, len(pc.Models))
	copy(out, pc.Models)
	return out
}

func (r *Registry) Config(id string) (ProviderConfig, bool) {
	pc, ok := r.configs[normalizeID(id)]
	return pc, ok
}

func (r *Registry) DefaultProvider() string {
	return r.defaultProvider
}

func (r *Registry) newAdapter(pc ProviderConfig, model string) *Adapter {
	return &Adapter{
		kind:         pc.Kind,
		label:        pc.Label,
		model:        model,
		baseURL:      pc.BaseURL,
		envKey:       pc.APIKey,
		bodyTemplate: pc.BodyTemplate,
		headers:      pc.Headers,
		httpClient:   r.httpClient,
		timeout:      r.timeout,
		maxRetries:   r.maxRetries,
		backoffBase:  r.backoffBase,
		logger:       r.logger,
		metrics:      r.metrics,
	}
}

func knownKind(k providers.Kind) bool {
	for _, known := range providers.Kinds {
		if k == known {
			return true
		}
	}
	return false
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
