package openai_compat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatrelay/internal/providers"
)

func TestBuildPayloadChatCompletions(t *testing.T) {
	c := New(Config{BaseURL: "https://api.x.ai/v1"})

	body, endpoint, err := c.buildPayload(providers.ChatRequest{
		Model: "grok-4",
		Messages: []providers.Message{
			{Role: providers.RoleUser, Content: "hi"},
			{Role: providers.RoleAssistant, Content: "hello"},
			{Role: providers.RoleUser, Content: "how are you"},
		},
		MaxTokens:   2000,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.x.ai/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload struct {
		Model       string              `json:"model"`
		Messages    []providers.Message `json:"messages"`
		MaxTokens   int                 `json:"max_tokens"`
		Temperature float64             `json:"temperature"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Model != "grok-4" {
		t.Fatalf("expected model grok-4, got %q", payload.Model)
	}
	if len(payload.Messages) != 3 || payload.Messages[2].Content != "how are you" {
		t.Fatalf("unexpected messages %#v", payload.Messages)
	}
	if payload.MaxTokens != 2000 || payload.Temperature != 0.7 {
		t.Fatalf("unexpected sampling params %d %v", payload.MaxTokens, payload.Temperature)
	}
}

func TestBuildEndpointKeepsFullURL(t *testing.T) {
	c := New(Config{BaseURL: "https://api.x.ai/v1/chat/completions"})
	_, endpoint, err := c.buildPayload(providers.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.x.ai/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}
}

func TestChatSendsBearerAndParsesChoice(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "xai-key"})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{
		Model:    "grok-4",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "ping"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "pong" {
		t.Fatalf("expected pong, got %q", resp.Text)
	}
	if auth != "Bearer xai-key" {
		t.Fatalf("unexpected auth header %q", auth)
	}
}

func TestChatReturnsStatusError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "bad", MaxRetries: 2})
	_, err := c.Chat(context.Background(), providers.ChatRequest{Model: "m"})
	if !providers.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized status error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("401 must not be retried, got %d calls", calls)
	}
}

func TestPostJSONRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"third time"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 2, BackoffBase: time.Millisecond})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "third time" || calls != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", resp.Text, calls)
	}

	calls = -10
	c = New(Config{BaseURL: srv.URL})
	_, err = c.Chat(context.Background(), providers.ChatRequest{Model: "m"})
	if code, ok := providers.StatusCode(err); !ok || code != http.StatusServiceUnavailable || calls != -9 {
		t.Fatalf("without retries expected a single 503, got %v after %d calls", err, calls+10)
	}
}
