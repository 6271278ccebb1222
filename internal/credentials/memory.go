package credentials

import (
	"context"
	"sort"
	"sync"
	"time"
)

type preference struct {
	provider string
	model    string
}

type MemoryStore struct {
	mu    sync.RWMutex
	creds map[int64]map[string]Entry
	prefs map[int64]preference
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[int64]map[string]Entry),
		prefs: make(map[int64]preference),
		now:   time.Now,
	}
}

func (m *MemoryStore) SetCredential(_ context.Context, userID int64, provider, token, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byProvider, ok := m.creds[userID]
	if !ok {
		byProvider = make(map[string]Entry)
		m.creds[userID] = byProvider
	}
	e := byProvider[provider]
	e.Provider = provider
	e.Token = token
	if model != "" {
		e.Model = model
	}
	e.SetAt = m.now().UTC()
	byProvider[provider] = e
	return nil
}

func (m *MemoryStore) Credential(_ context.Context, userID int64, provider string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.creds[userID][provider]
	if !ok {
		return "", false, nil
	}
	return e.Token, true, nil
}

func (m *MemoryStore) Model(_ context.Context, userID int64, provider string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.creds[userID][provider]
	if !ok || e.Model == "" {
		return "", false, nil
	}
	return e.Model, true, nil
}

func (m *MemoryStore) RemoveCredential(_ context.Context, userID int64, provider string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byProvider, ok := m.creds[userID]
	if !ok {
		return false, nil
	}
	if _, ok := byProvider[provider]; !ok {
		return false, nil
	}
	delete(byProvider, provider)
	if len(byProvider) == 0 {
		delete(m.creds, userID)
	}
	return true, nil
}

func (m *MemoryStore) HasCredential(_ context.Context, userID int64, provider string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.creds[userID][provider]
	return ok, nil
}

func (m *MemoryStore) SetModel(_ context.Context, userID int64, provider, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.creds[userID][provider]
	if !ok {
		return nil
	}
	e.Model = model
	m.creds[userID][provider] = e
	return nil
}

func (m *MemoryStore) SetPreferredProvider(_ context.Context, userID int64, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prefs[userID]
	p.provider = provider
	m.prefs[userID] = p
	return nil
}

func (m *MemoryStore) PreferredProvider(_ context.Context, userID int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.prefs[userID]
	return p.provider, p.provider != "", nil
}

func (m *MemoryStore) SetPreferredModel(_ context.Context, userID int64, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prefs[userID]
	p.model = model
	m.prefs[userID] = p
	return nil
}

func (m *MemoryStore) PreferredModel(_ context.Context, userID int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.prefs[userID]
	return p.model, p.model != "", nil
}

func (m *MemoryStore) Providers(_ context.Context, userID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.creds[userID]))
	for id := range m.creds[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ClearAll(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, userID)
	delete(m.prefs, userID)
	return nil
}

func (m *MemoryStore) Snapshot(_ context.Context, userID int64) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.prefs[userID]
	snap := Snapshot{
		PreferredProvider: p.provider,
		PreferredModel:    p.model,
		Configured:        make([]ConfiguredProvider, 0, len(m.creds[userID])),
	}
	for _, e := range m.creds[userID] {
		snap.Configured = append(snap.Configured, ConfiguredProvider{Provider: e.Provider, Model: e.Model, SetAt: e.SetAt})
	}
	sortConfigured(snap.Configured)
	return snap, nil
}
