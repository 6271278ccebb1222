package telegram

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"chatrelay/internal/conversation"
	"chatrelay/internal/credentials"
	"chatrelay/internal/metrics"
	"chatrelay/internal/providers"
	"chatrelay/internal/providers/registry"
	"chatrelay/internal/setup"
	"chatrelay/internal/storage"
)

type serviceFixture struct {
	svc     *Service
	machine *setup.Machine
	creds   *credentials.MemoryStore
	history *conversation.MemoryStore
	audit   *storage.Store
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	ctx := context.Background()
	audit, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "audit.db"), true)
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	m := metrics.New()
	reg := registry.New(registry.Config{Logger: zerolog.Nop(), Metrics: m})
	creds := credentials.NewMemoryStore()
	history := conversation.NewMemoryStore()
	machine := setup.NewMachine(setup.Config{
		Registry:    reg,
		Credentials: creds,
		Holder:      setup.NewMemoryHolder(),
		Auditor:     audit,
		Logger:      zerolog.Nop(),
		Metrics:     m,
	})
	svc := NewService(Config{
		Machine:      machine,
		Registry:     reg,
		Credentials:  creds,
		Conversation: history,
		Audit:        audit,
		Logger:       zerolog.Nop(),
		Metrics:      m,
	})
	return serviceFixture{svc: svc, machine: machine, creds: creds, history: history, audit: audit}
}

func (f serviceFixture) completeSetup(t *testing.T, uid int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.machine.SelectProvider(ctx, uid, "claude"); err != nil {
		t.Fatalf("select provider: %v", err)
	}
	if _, err := f.machine.SubmitToken(ctx, uid, "sk-ant-user"); err != nil {
		t.Fatalf("submit token: %v", err)
	}
	if _, err := f.machine.SelectModel(ctx, uid, "claude-haiku-4.5"); err != nil {
		t.Fatalf("select model: %v", err)
	}
}

func TestClearUserDataRemovesEverything(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	f.completeSetup(t, 1)
	f.completeSetup(t, 2)
	if err := f.history.Append(ctx, 1,
		providers.Message{Role: providers.RoleUser, Content: "hi"},
		providers.Message{Role: providers.RoleAssistant, Content: "hello"},
	); err != nil {
		t.Fatalf("append history: %v", err)
	}
	if _, err := f.machine.Start(ctx, 1); err != nil {
		t.Fatalf("start setup: %v", err)
	}

	if err := f.svc.clearUserData(ctx, 1); err != nil {
		t.Fatalf("clear user data: %v", err)
	}

	if ids, _ := f.creds.Providers(ctx, 1); len(ids) != 0 {
		t.Fatalf("credentials survived: %v", ids)
	}
	if _, ok, _ := f.creds.PreferredProvider(ctx, 1); ok {
		t.Fatalf("preferred provider survived")
	}
	if _, ok, _ := f.creds.PreferredModel(ctx, 1); ok {
		t.Fatalf("preferred model survived")
	}
	if n, _ := f.history.Len(ctx, 1); n != 0 {
		t.Fatalf("history survived with %d turns", n)
	}
	if s, _ := f.machine.Current(ctx, 1); s != nil {
		t.Fatalf("setup session survived: %+v", s)
	}
	assertSingleClearRow(t, f.audit, 1, "2")

	if err := f.svc.clearUserData(ctx, 1); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	assertSingleClearRow(t, f.audit, 1, "1")

	other, err := f.audit.ListActions(ctx, 2, 0)
	if err != nil || len(other) != 2 {
		t.Fatalf("other user's audit rows touched: %v %v", other, err)
	}
	if has, _ := f.creds.HasCredential(ctx, 2, "claude"); !has {
		t.Fatalf("other user's credential removed")
	}
}

func assertSingleClearRow(t *testing.T, audit *storage.Store, uid int64, removed string) {
	t.Helper()
	rows, err := audit.ListActions(context.Background(), uid, 0)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(rows) != 1 || rows[0].Action != storage.ActionDataCleared {
		t.Fatalf("expected one data_cleared row, got %+v", rows)
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(rows[0].MetaJSON), &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta["rows_removed"] != removed {
		t.Fatalf("expected rows_removed=%s, got %v", removed, meta)
	}
}

func TestRemoveTokenAudited(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	if err := f.creds.SetCredential(ctx, 5, "grok", "xai-key", ""); err != nil {
		t.Fatalf("set credential: %v", err)
	}

	text, err := f.svc.removeToken(ctx, 5, "grok")
	if err != nil {
		t.Fatalf("remove token: %v", err)
	}
	if text != tokenRemovedText("grok") {
		t.Fatalf("unexpected reply %q", text)
	}
	if has, _ := f.creds.HasCredential(ctx, 5, "grok"); has {
		t.Fatalf("credential still stored")
	}

	text, err = f.svc.removeToken(ctx, 5, "grok")
	if err != nil || text != noStoredTokens {
		t.Fatalf("second removal: %q %v", text, err)
	}

	rows, _ := f.audit.ListActions(ctx, 5, 0)
	if len(rows) != 1 || rows[0].Action != storage.ActionTokenRemoved {
		t.Fatalf("expected one token_removed row, got %+v", rows)
	}
}

func TestClearUserDataWithoutAuditLog(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.svc.audit = nil
	if err := f.creds.SetCredential(ctx, 3, "claude", "k", ""); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	if err := f.svc.clearUserData(ctx, 3); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if has, _ := f.creds.HasCredential(ctx, 3, "claude"); has {
		t.Fatalf("credential survived")
	}
}

func TestLooksLikeCommand(t *testing.T) {
	cases := map[string]bool{
		"/start":              true,
		"/unknown":            true,
		"/help@chatrelay_bot": true,
		"/etc/hosts explain":  false,
		"/etc/hosts":          false,
		"/ what is this":      false,
		"/":                   false,
		"hello":               false,
	}
	for in, want := range cases {
		if got := looksLikeCommand(in); got != want {
			t.Fatalf("looksLikeCommand(%q) = %v, want %v", in, got, want)
		}
	}
}
