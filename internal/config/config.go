package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

const (
	UpdateModePolling = "polling"
	UpdateModeWebhook = "webhook"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var (
	ErrMissingBotToken   = errors.New("BOT_TOKEN is required")
	ErrMissingWebhookURL = errors.New("WEBHOOK_URL is required in webhook mode")
)

type Config struct {
	BotToken   string
	UpdateMode string

	// StateBackend selects where credentials, transcripts and setup
	// sessions live. Both backends are volatile.
	StateBackend string

	DefaultProvider string

	Webhook   WebhookConfig
	Redis     RedisConfig
	DB        DBConfig
	HTTP      HTTPConfig
	Rate      RateConfig
	Log       LogConfig
	Providers ProvidersConfig
}

type WebhookConfig struct {
	ListenAddr     string
	PublicURL      string
	SecretPath     string
	SecretToken    string
	HealthPath     string
	MetricsPath    string
	WebhookTimeout time.Duration
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	UpdateTTL  time.Duration
	SetupTTL   time.Duration
	HistoryTTL time.Duration
}

// DBConfig configures the audit log. An empty DSN disables it.
type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type HTTPConfig struct {
	ClientTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type RateConfig struct {
	PerHour int64
}

type LogConfig struct {
	Level string
}

// ProviderEnv holds the process-wide settings of one provider. Empty fields
// keep the built-in defaults.
type ProviderEnv struct {
	APIKey       string
	Model        string
	BaseURL      string
	BodyTemplate string
	Headers      map[string]string
}

type ProvidersConfig struct {
	OpenAI    ProviderEnv
	Gemini    ProviderEnv
	Anthropic ProviderEnv
	XAI       ProviderEnv
	Custom    ProviderEnv
}

func Load() (*Config, error) {
	cfg := &Config{
		BotToken:        mustEnv("BOT_TOKEN", ""),
		UpdateMode:      strings.ToLower(mustEnv("UPDATE_MODE", UpdateModePolling)),
		StateBackend:    strings.ToLower(mustEnv("STATE_BACKEND", BackendMemory)),
		DefaultProvider: strings.ToLower(mustEnv("DEFAULT_AI_SERVICE", "chatgpt")),
		Webhook: WebhookConfig{
			ListenAddr:     mustEnv("WEBHOOK_LISTEN_ADDR", ":8080"),
			PublicURL:      mustEnv("WEBHOOK_URL", ""),
			SecretPath:     strings.Trim(mustEnv("WEBHOOK_SECRET_PATH", "telegram"), "/"),
			SecretToken:    mustEnv("WEBHOOK_SECRET_TOKEN", ""),
			HealthPath:     mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:    mustEnv("METRICS_PATH", "/metrics"),
			WebhookTimeout: mustDuration("WEBHOOK_TIMEOUT", 8*time.Second),
		},
		Redis: RedisConfig{
			Addr:       mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:   mustEnv("REDIS_PASSWORD", ""),
			DB:         mustInt("REDIS_DB", 0),
			KeyPrefix:  mustEnv("REDIS_KEY_PREFIX", "chatrelay"),
			UpdateTTL:  mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
			SetupTTL:   mustDuration("SETUP_TTL", 20*time.Minute),
			HistoryTTL: mustDuration("HISTORY_TTL", 0),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 60*time.Second),
			MaxRetries:    mustInt("HTTP_MAX_RETRIES", 0),
			BackoffBase:   mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Rate: RateConfig{
			PerHour: mustInt64("RATE_LIMIT_PER_HOUR", 0),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
		Providers: ProvidersConfig{
			OpenAI:    providerEnv("OPENAI"),
			Gemini:    providerEnv("GEMINI"),
			Anthropic: providerEnv("ANTHROPIC"),
			XAI:       providerEnv("XAI"),
			Custom: ProviderEnv{
				APIKey:       mustEnv("CUSTOM_LLM_API_KEY", ""),
				Model:        mustEnv("CUSTOM_LLM_MODEL", ""),
				BaseURL:      mustEnv("CUSTOM_LLM_BASE_URL", ""),
				BodyTemplate: mustEnv("CUSTOM_LLM_BODY_TEMPLATE", ""),
			},
		},
	}

	if cfg.BotToken == "" {
		return nil, ErrMissingBotToken
	}
	headers, err := headerMap("CUSTOM_LLM_HEADERS")
	if err != nil {
		return nil, err
	}
	cfg.Providers.Custom.Headers = headers
	if cfg.UpdateMode != UpdateModePolling && cfg.UpdateMode != UpdateModeWebhook {
		return nil, fmt.Errorf("unsupported UPDATE_MODE %q", cfg.UpdateMode)
	}
	if cfg.UpdateMode == UpdateModeWebhook && cfg.Webhook.PublicURL == "" {
		return nil, ErrMissingWebhookURL
	}
	if cfg.StateBackend != BackendMemory && cfg.StateBackend != BackendRedis {
		return nil, fmt.Errorf("unsupported STATE_BACKEND %q", cfg.StateBackend)
	}
	if cfg.HTTP.ClientTimeout <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if cfg.HTTP.MaxRetries < 0 {
		cfg.HTTP.MaxRetries = 0
	}

	return cfg, nil
}

// headerMap reads a JSON object of header names to values.
func headerMap(key string) (map[string]string, error) {
	v := mustEnv(key, "")
	if v == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object of strings: %w", key, err)
	}
	return out, nil
}

func providerEnv(prefix string) ProviderEnv {
	return ProviderEnv{
		APIKey:  mustEnv(prefix+"_API_KEY", ""),
		Model:   mustEnv(prefix+"_MODEL", ""),
		BaseURL: mustEnv(prefix+"_BASE_URL", ""),
	}
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
