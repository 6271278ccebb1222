package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"chatrelay/internal/config"
	"chatrelay/internal/providers"
	"chatrelay/internal/storage"
)

func TestSanitizeTelegramErr(t *testing.T) {
	token := "12345:secret"
	err := errors.New(`Post "https://api.telegram.org/bot12345:secret/getMe": dial tcp: timeout`)

	got := sanitizeTelegramErr(err, token)
	if strings.Contains(got, "secret") {
		t.Fatalf("token leaked: %q", got)
	}
	if !strings.Contains(got, "<redacted-token>") {
		t.Fatalf("expected redaction marker, got %q", got)
	}
	if sanitizeTelegramErr(nil, token) != "" {
		t.Fatalf("nil error must render empty")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBuildProvidersOverlaysEnvironment(t *testing.T) {
	out := buildProviders(config.ProvidersConfig{
		Anthropic: config.ProviderEnv{APIKey: "sk-ant", Model: "claude-haiku-4.5"},
		Custom: config.ProviderEnv{
			BaseURL:      "http://llm.local/generate",
			BodyTemplate: `{"p":{{.PromptJSON}}}`,
			Headers:      map[string]string{"X-Api-Key": "{{api_key}}"},
		},
	})
	if len(out) != len(providers.Kinds) {
		t.Fatalf("expected %d providers, got %d", len(providers.Kinds), len(out))
	}
	for _, pc := range out {
		switch pc.Kind {
		case providers.KindClaude:
			if pc.APIKey != "sk-ant" || pc.DefaultModel != "claude-haiku-4.5" {
				t.Fatalf("claude overlay not applied: %+v", pc)
			}
		case providers.KindCustom:
			if pc.BaseURL != "http://llm.local/generate" || pc.BodyTemplate == "" || pc.Headers["X-Api-Key"] == "" {
				t.Fatalf("custom overlay not applied: %+v", pc)
			}
		case providers.KindOpenAIChat:
			if pc.APIKey != "" || pc.DefaultModel != "gpt-4o-mini" {
				t.Fatalf("defaults must survive an empty overlay: %+v", pc)
			}
		}
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthy answer %d %q", rec.Code, rec.Body.String())
	}

	store, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "audit.db"), true)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	checks := []healthCheck{{name: "audit_db", ping: store.Ping}}

	rec = httptest.NewRecorder()
	healthHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("open store must be healthy, got %d", rec.Code)
	}

	_ = store.Close()
	rec = httptest.NewRecorder()
	healthHandler(checks)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "audit_db") {
		t.Fatalf("closed store must fail health, got %d %q", rec.Code, rec.Body.String())
	}
}
