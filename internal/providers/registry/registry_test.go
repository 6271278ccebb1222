package registry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"chatrelay/internal/metrics"
	"chatrelay/internal/providers"
)

func newTestRegistry(t *testing.T, mutate func([]ProviderConfig)) *Registry {
	t.Helper()
	cfgs := Defaults()
	if mutate != nil {
		mutate(cfgs)
	}
	return New(Config{
		Providers: cfgs,
		Logger:    zerolog.Nop(),
		Metrics:   metrics.New(),
	})
}

func setProvider(cfgs []ProviderConfig, kind providers.Kind, fn func(*ProviderConfig)) {
	for i := range cfgs {
		if cfgs[i].Kind == kind {
			fn(&cfgs[i])
		}
	}
}

func TestResolveIsCaseInsensitiveAndAppliesModel(t *testing.T) {
	r := newTestRegistry(t, nil)

	a, ok := r.Resolve("ChatGPT", "")
	if !ok {
		t.Fatalf("expected chatgpt to resolve")
	}
	if a.Model() != "gpt-4o-mini" || a.Name() != "ChatGPT (gpt-4o-mini)" {
		t.Fatalf("unexpected default adapter %q", a.Name())
	}

	a, ok = r.Resolve("claude", "claude-haiku-4.5")
	if !ok || a.Name() != "Claude (claude-haiku-4.5)" {
		t.Fatalf("model override not applied")
	}

	if _, ok := r.Resolve("llama-corp", ""); ok {
		t.Fatalf("unknown provider must not resolve")
	}
}

func TestModelsForAndDefault(t *testing.T) {
	r := newTestRegistry(t, nil)
	if got := r.ModelsFor("gemini"); len(got) != 2 || got[0] != "gemini-2.5-pro" {
		t.Fatalf("unexpected gemini models %v", got)
	}
	if got := r.ModelsFor("nope"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty list for unknown provider, got %v", got)
	}
	if r.DefaultProvider() != "chatgpt" {
		t.Fatalf("unexpected default %q", r.DefaultProvider())
	}

	r = New(Config{DefaultProvider: "Grok", Logger: zerolog.Nop(), Metrics: metrics.New()})
	if r.DefaultProvider() != "grok" {
		t.Fatalf("expected grok default, got %q", r.DefaultProvider())
	}
	r = New(Config{DefaultProvider: "mystery", Logger: zerolog.Nop(), Metrics: metrics.New()})
	if r.DefaultProvider() != FallbackProvider {
		t.Fatalf("expected fallback default, got %q", r.DefaultProvider())
	}
}

func TestListAvailableFollowsDeclarationOrder(t *testing.T) {
	r := newTestRegistry(t, func(cfgs []ProviderConfig) {
		setProvider(cfgs, providers.KindGrok, func(pc *ProviderConfig) { pc.APIKey = "env-xai" })
		setProvider(cfgs, providers.KindCustom, func(pc *ProviderConfig) { pc.BaseURL = "" })
	})

	got := r.ListAvailable(func(id string) bool { return id == "chatgpt" })
	if len(got) != 2 || got[0].ID != "chatgpt" || got[1].ID != "grok" {
		ids := make([]string, 0, len(got))
		for _, e := range got {
			ids = append(ids, e.ID)
		}
		t.Fatalf("unexpected available providers %v", ids)
	}

	if len(r.ListAvailable(nil)) != 1 {
		t.Fatalf("only grok has an env credential")
	}
}

func TestCustomAvailabilityNeedsURLOnly(t *testing.T) {
	r := newTestRegistry(t, nil)
	a, _ := r.Resolve("custom", "")
	if !a.IsAvailable("") {
		t.Fatalf("custom with base url must be available without a key")
	}

	r = newTestRegistry(t, func(cfgs []ProviderConfig) {
		setProvider(cfgs, providers.KindCustom, func(pc *ProviderConfig) { pc.BaseURL = "" })
	})
	a, _ = r.Resolve("custom", "")
	if a.IsAvailable("user-key") {
		t.Fatalf("custom without base url must be unavailable even with a key")
	}
	if !strings.Contains(a.Generate(context.Background(), "hi", nil, "k"), "CUSTOM_LLM_BASE_URL") {
		t.Fatalf("expected base url hint")
	}
}

func TestGenerateWithoutCredentialMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	r := newTestRegistry(t, func(cfgs []ProviderConfig) {
		setProvider(cfgs, providers.KindGrok, func(pc *ProviderConfig) { pc.BaseURL = srv.URL })
	})
	a, _ := r.Resolve("grok", "")
	reply := a.Generate(context.Background(), "hello", nil, "")
	if !strings.HasPrefix(reply, ErrorPrefix) || !strings.Contains(reply, "not configured") {
		t.Fatalf("unexpected reply %q", reply)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no http call")
	}
}

func TestUserCredentialOverridesEnvironment(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	r := newTestRegistry(t, func(cfgs []ProviderConfig) {
		setProvider(cfgs, providers.KindGrok, func(pc *ProviderConfig) {
			pc.BaseURL = srv.URL
			pc.APIKey = "env-key"
		})
	})
	a, _ := r.Resolve("grok", "grok-4")

	if reply := a.Generate(context.Background(), "hi", nil, "user-key"); reply != "ok" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if auth != "Bearer user-key" {
		t.Fatalf("user credential must win, got %q", auth)
	}

	_ = a.Generate(context.Background(), "hi", nil, "")
	if auth != "Bearer env-key" {
		t.Fatalf("env credential expected without user key, got %q", auth)
	}
}

func TestGenerateFoldsFailuresIntoText(t *testing.T) {
	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	r := newTestRegistry(t, func(cfgs []ProviderConfig) {
		setProvider(cfgs, providers.KindGrok, func(pc *ProviderConfig) { pc.BaseURL = srv.URL })
	})
	a, _ := r.Resolve("grok", "")

	if reply := a.Generate(context.Background(), "hi", nil, "k"); reply != InvalidKeyMessage {
		t.Fatalf("unexpected 401 reply %q", reply)
	}

	status = http.StatusBadGateway
	if reply := a.Generate(context.Background(), "hi", nil, "k"); reply != "❌ Grok API error: 502" {
		t.Fatalf("unexpected 502 reply %q", reply)
	}

	srv.Close()
	if reply := a.Generate(context.Background(), "hi", nil, "k"); !strings.HasPrefix(reply, "❌ Error: ") {
		t.Fatalf("unexpected transport failure reply %q", reply)
	}
}

func TestGenerateSendsHistoryThenPrompt(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		_, _ = w.Write([]byte(`{"response":"fine"}`))
	}))
	defer srv.Close()

	r := newTestRegistry(t, func(cfgs []ProviderConfig) {
		setProvider(cfgs, providers.KindCustom, func(pc *ProviderConfig) { pc.BaseURL = srv.URL })
	})
	a, _ := r.Resolve("custom", "")
	history := []providers.Message{
		{Role: providers.RoleUser, Content: "first"},
		{Role: providers.RoleAssistant, Content: "second"},
	}
	if reply := a.Generate(context.Background(), "third", history, ""); reply != "fine" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if strings.Index(body, "first") > strings.Index(body, "second") || strings.Index(body, "second") > strings.Index(body, "third") {
		t.Fatalf("messages out of order: %s", body)
	}
	if len(history) != 2 {
		t.Fatalf("history slice must not be modified")
	}
}

func TestCustomHeadersReachEndpoint(t *testing.T) {
	var tenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	r := newTestRegistry(t, func(cfgs []ProviderConfig) {
		setProvider(cfgs, providers.KindCustom, func(pc *ProviderConfig) {
			pc.BaseURL = srv.URL
			pc.Headers = map[string]string{"X-Api-Key": "{{api_key}}"}
		})
	})
	a, _ := r.Resolve("custom", "")
	if reply := a.Generate(context.Background(), "hi", nil, "user-key"); reply != "ok" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if tenant != "user-key" {
		t.Fatalf("expected expanded header, got %q", tenant)
	}
}
