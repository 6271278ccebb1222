package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/metrics"
	"chatrelay/internal/providers"
	"chatrelay/internal/providers/anthropic_messages"
	"chatrelay/internal/providers/custom_http"
	"chatrelay/internal/providers/google_genai"
	"chatrelay/internal/providers/openai_chat"
	"chatrelay/internal/providers/openai_compat"
)

const (
	ErrorPrefix       = "❌ "
	InvalidKeyMessage = ErrorPrefix + "Invalid API key. Please update your token with /settoken."
	emptyReply        = "Provider returned an empty response."
)

// Adapter is one provider kind bound to a model and its env credential.
// Every failure is folded into the returned reply text.
type Adapter struct {
	kind         providers.Kind
	label        string
	model        string
	baseURL      string
	envKey       string
	bodyTemplate string
	headers      map[string]string
	httpClient   *http.Client
	timeout      time.Duration
	maxRetries   int
	backoffBase  time.Duration
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

func (a *Adapter) Kind() providers.Kind { return a.kind }
func (a *Adapter) ID() string           { return string(a.kind) }
func (a *Adapter) Model() string        { return a.model }
func (a *Adapter) Label() string        { return a.label }

// Name is the provenance label shown under replies.
func (a *Adapter) Name() string {
	return fmt.Sprintf("%s (%s)", a.label, a.model)
}

// HasEnvCredential reports whether the process-wide credential is set.
func (a *Adapter) HasEnvCredential() bool {
	if a.kind == providers.KindCustom {
		return a.IsAvailable("")
	}
	return strings.TrimSpace(a.envKey) != ""
}

func (a *Adapter) IsAvailable(userKey string) bool {
	if a.kind == providers.KindCustom {
		return strings.TrimSpace(a.baseURL) != ""
	}
	return a.effectiveKey(userKey) != ""
}

// effectiveKey prefers the user's credential over the env one.
func (a *Adapter) effectiveKey(userKey string) string {
	if k := strings.TrimSpace(userKey); k != "" {
		return k
	}
	return strings.TrimSpace(a.envKey)
}

func (a *Adapter) Generate(ctx context.Context, prompt string, history []providers.Message, userKey string) string {
	log := a.logger.With().Str("provider", a.ID()).Str("model", a.model).Logger()
	if !a.IsAvailable(userKey) {
		a.metrics.ProviderRequests.WithLabelValues(a.ID(), "not_configured").Inc()
		return a.notConfiguredText()
	}

	msgs := make([]providers.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, providers.Message{Role: providers.RoleUser, Content: prompt})

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	resp, err := a.client(a.effectiveKey(userKey)).Chat(ctx, providers.ChatRequest{
		Model:       a.model,
		Messages:    msgs,
		MaxTokens:   providers.DefaultMaxTokens,
		Temperature: providers.DefaultTemperature,
	})
	a.metrics.ProviderLatency.WithLabelValues(a.ID()).Observe(time.Since(started).Seconds())

	if err != nil {
		if providers.IsUnauthorized(err) {
			log.Warn().Err(err).Msg("provider rejected credential")
			a.metrics.ProviderRequests.WithLabelValues(a.ID(), "unauthorized").Inc()
			return InvalidKeyMessage
		}
		if code, ok := providers.StatusCode(err); ok {
			log.Error().Err(err).Int("status", code).Msg("provider api error")
			a.metrics.ProviderRequests.WithLabelValues(a.ID(), "http_error").Inc()
			return fmt.Sprintf("%s%s API error: %d", ErrorPrefix, a.label, code)
		}
		log.Error().Err(err).Msg("provider call failed")
		a.metrics.ProviderRequests.WithLabelValues(a.ID(), "error").Inc()
		return fmt.Sprintf("%sError: %s", ErrorPrefix, err.Error())
	}

	a.metrics.ProviderRequests.WithLabelValues(a.ID(), "ok").Inc()
	if strings.TrimSpace(resp.Text) == "" {
		return emptyReply
	}
	return resp.Text
}

// client dispatches on the provider kind.
func (a *Adapter) client(apiKey string) providers.Provider {
	switch a.kind {
	case providers.KindOpenAIChat:
		return openai_chat.New(openai_chat.Config{
			BaseURL:    a.baseURL,
			APIKey:     apiKey,
			HTTPClient: a.httpClient,
		})
	case providers.KindGemini:
		return google_genai.New(google_genai.Config{
			BaseURL:    a.baseURL,
			APIKey:     apiKey,
			HTTPClient: a.httpClient,
		})
	case providers.KindClaude:
		return anthropic_messages.New(anthropic_messages.Config{
			BaseURL:    a.baseURL,
			APIKey:     apiKey,
			HTTPClient: a.httpClient,
		})
	case providers.KindGrok:
		return openai_compat.New(openai_compat.Config{
			BaseURL:     a.baseURL,
			APIKey:      apiKey,
			HTTPClient:  a.httpClient,
			MaxRetries:  a.maxRetries,
			BackoffBase: a.backoffBase,
		})
	case providers.KindCustom:
		return custom_http.New(custom_http.Config{
			URL:          a.baseURL,
			APIKey:       apiKey,
			BodyTemplate: a.bodyTemplate,
			Headers:      a.headers,
			HTTPClient:   a.httpClient,
			MaxRetries:   a.maxRetries,
			BackoffBase:  a.backoffBase,
		})
	default:
		panic(fmt.Sprintf("registry: unhandled provider kind %q", a.kind))
	}
}

func (a *Adapter) notConfiguredText() string {
	if a.kind == providers.KindCustom {
		return ErrorPrefix + a.label + " is not configured. Please set CUSTOM_LLM_BASE_URL."
	}
	return ErrorPrefix + a.label + " is not configured. Please set your API key with /settoken."
}
