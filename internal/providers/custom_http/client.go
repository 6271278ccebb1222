package custom_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"chatrelay/internal/providers"
	"chatrelay/internal/providers/openai_compat"
)

type Config struct {
	URL          string
	APIKey       string
	BodyTemplate string
	// Headers are sent on every request; "{{api_key}}" expands to APIKey.
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

// Client talks to a self-hosted or third-party endpoint that is mostly
// OpenAI-compatible. The URL is used verbatim and the API key is optional.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return providers.ChatResponse{}, fmt.Errorf("custom http url is empty")
	}
	body, err := c.renderBody(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	raw, err := openai_compat.PostJSON(ctx, c.cfg.HTTPClient, c.cfg.URL, body, c.header(),
		openai_compat.Retry{Max: c.cfg.MaxRetries, Backoff: c.cfg.BackoffBase})
	if err != nil {
		return providers.ChatResponse{}, err
	}
	text, err := extractText(raw)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return providers.ChatResponse{Text: text}, nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		h.Set("Authorization", "Bearer "+key)
	}
	for k, v := range c.cfg.Headers {
		h.Set(k, strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey))
	}
	return h
}

func (c *Client) renderBody(req providers.ChatRequest) ([]byte, error) {
	if strings.TrimSpace(c.cfg.BodyTemplate) == "" {
		payload := map[string]any{
			"model":       req.Model,
			"messages":    req.Messages,
			"max_tokens":  req.MaxTokens,
			"temperature": req.Temperature,
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal custom payload: %w", err)
		}
		return b, nil
	}

	messagesJSON, err := json.Marshal(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("marshal custom messages: %w", err)
	}
	_, prompt := providers.SplitPrompt(req.Messages)
	promptJSON, _ := json.Marshal(prompt)

	tpl, err := template.New("custom_http_body").Option("missingkey=zero").Parse(c.cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, map[string]any{
		"Model":        req.Model,
		"MessagesJSON": string(messagesJSON),
		"PromptJSON":   string(promptJSON),
		"MaxTokens":    req.MaxTokens,
		"Temperature":  req.Temperature,
	}); err != nil {
		return nil, fmt.Errorf("execute body template: %w", err)
	}
	return buf.Bytes(), nil
}

// extractText accepts an OpenAI-shaped body, a flat text field, and as a
// last resort returns the whole payload re-encoded.
func extractText(body []byte) (string, error) {
	var simple map[string]any
	if err := json.Unmarshal(body, &simple); err != nil {
		trimmed := strings.TrimSpace(string(body))
		if trimmed != "" {
			return trimmed, nil
		}
		return "", fmt.Errorf("decode custom response: %w", err)
	}

	if _, ok := simple["choices"]; ok {
		if text, err := openai_compat.ParseChatCompletions(body); err == nil {
			return text, nil
		}
	}

	for _, key := range []string{"response", "text", "answer", "output_text"} {
		if v, ok := simple[key].(string); ok && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}

	dump, err := json.Marshal(simple)
	if err != nil {
		return "", fmt.Errorf("encode custom response: %w", err)
	}
	return string(dump), nil
}
