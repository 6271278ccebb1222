package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatrelay/internal/providers"
)

// Config targets an OpenAI-shaped chat completions API such as xAI.
type Config struct {
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

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
	body, endpoint, err := c.buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	header := http.Header{}
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		header.Set("Authorization", "Bearer "+key)
	}
	raw, err := PostJSON(ctx, c.cfg.HTTPClient, endpoint, body, header, Retry{Max: c.cfg.MaxRetries, Backoff: c.cfg.BackoffBase})
	if err != nil {
		return providers.ChatResponse{}, err
	}
	text, err := ParseChatCompletions(raw)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return providers.ChatResponse{Text: text}, nil
}

type chatPayload struct {
	Model       string              `json:"model"`
	Messages    []providers.Message `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, string, error) {
	endpoint, err := chatEndpoint(c.cfg.BaseURL)
	if err != nil {
		return nil, "", err
	}
	b, err := json.Marshal(chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpoint, nil
}

func chatEndpoint(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

// Retry bounds how often transport failures, 429 and 5xx answers are retried.
// Backoff doubles after every attempt.
type Retry struct {
	Max     int
	Backoff time.Duration
}

// PostJSON sends body and returns the body of a 2xx answer. Any other status
// becomes a *providers.StatusError.
func PostJSON(ctx context.Context, hc *http.Client, endpoint string, body []byte, header http.Header, retry Retry) ([]byte, error) {
	if retry.Backoff <= 0 {
		retry.Backoff = 400 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= max(retry.Max, 0); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retry.Backoff << (attempt - 1)):
			}
		}
		raw, retryable, err := postOnce(ctx, hc, endpoint, body, header)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func postOnce(ctx context.Context, hc *http.Client, endpoint string, body []byte, header http.Header) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, false, fmt.Errorf("read response body: %w", err)
	}
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, &providers.StatusError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, false, &providers.StatusError{StatusCode: resp.StatusCode}
	}
	return raw, false, nil
}

// ParseChatCompletions reads choices[0] of an OpenAI-shaped completion body.
func ParseChatCompletions(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat completion response")
	}
	if strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("missing message content in chat completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
