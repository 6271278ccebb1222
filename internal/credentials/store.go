package credentials

import (
	"context"
	"sort"
	"time"
)

// Entry is one user's stored credential for a provider.
type Entry struct {
	Provider string
	Token    string
	Model    string
	SetAt    time.Time
}

type ConfiguredProvider struct {
	Provider string
	Model    string
	SetAt    time.Time
}

// Snapshot is a read-only projection of a user's settings. Tokens are never part of it.
type Snapshot struct {
	PreferredProvider string
	PreferredModel    string
	Configured        []ConfiguredProvider
}

func (s Snapshot) Empty() bool {
	return s.PreferredProvider == "" && s.PreferredModel == "" && len(s.Configured) == 0
}

// Store keeps per-user provider credentials and the user's preferred provider.
// Records of different users never share state.
type Store interface {
	SetCredential(ctx context.Context, userID int64, provider, token, model string) error
	Credential(ctx context.Context, userID int64, provider string) (string, bool, error)
	Model(ctx context.Context, userID int64, provider string) (string, bool, error)
	RemoveCredential(ctx context.Context, userID int64, provider string) (bool, error)
	HasCredential(ctx context.Context, userID int64, provider string) (bool, error)
	// SetModel only updates an existing credential record.
	SetModel(ctx context.Context, userID int64, provider, model string) error
	SetPreferredProvider(ctx context.Context, userID int64, provider string) error
	PreferredProvider(ctx context.Context, userID int64) (string, bool, error)
	SetPreferredModel(ctx context.Context, userID int64, model string) error
	PreferredModel(ctx context.Context, userID int64) (string, bool, error)
	Providers(ctx context.Context, userID int64) ([]string, error)
	ClearAll(ctx context.Context, userID int64) error
	Snapshot(ctx context.Context, userID int64) (Snapshot, error)
}

func sortConfigured(in []ConfiguredProvider) {
	sort.Slice(in, func(i, j int) bool { return in[i].Provider < in[j].Provider })
}
