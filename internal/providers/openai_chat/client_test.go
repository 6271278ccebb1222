package openai_chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/internal/providers"
)

func TestChatPostsCompletionRequest(t *testing.T) {
	var auth, path string
	var payload struct {
		Model     string              `json:"model"`
		Messages  []providers.Message `json:"messages"`
		MaxTokens int                 `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "sk-user"})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []providers.Message{
			{Role: providers.RoleUser, Content: "hello"},
			{Role: providers.RoleAssistant, Content: "hey"},
			{Role: providers.RoleUser, Content: "again"},
		},
		MaxTokens:   providers.DefaultMaxTokens,
		Temperature: providers.DefaultTemperature,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "hi there" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if auth != "Bearer sk-user" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if path != "/v1/chat/completions" {
		t.Fatalf("unexpected path %q", path)
	}
	if payload.Model != "gpt-4o-mini" || len(payload.Messages) != 3 || payload.MaxTokens != 2000 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Messages[1].Role != "assistant" {
		t.Fatalf("assistant role lost: %+v", payload.Messages)
	}
}

func TestChatMapsStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "bad"})
	_, err := c.Chat(context.Background(), providers.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "x"}},
	})
	if !providers.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
