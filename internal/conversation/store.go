package conversation

import (
	"context"
	"sync"

	"chatrelay/internal/providers"
)

// MaxTurns is the size of the rolling transcript kept per user.
const MaxTurns = 10

// Store keeps the most recent MaxTurns messages per user, oldest first.
type Store interface {
	Append(ctx context.Context, userID int64, turns ...providers.Message) error
	Get(ctx context.Context, userID int64) ([]providers.Message, error)
	Clear(ctx context.Context, userID int64) error
	Len(ctx context.Context, userID int64) (int, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	turns map[int64][]providers.Message
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[int64][]providers.Message)}
}

func (m *MemoryStore) Append(_ context.Context, userID int64, turns ...providers.Message) error {
	if len(turns) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all := append(m.turns[userID], turns...)
	if over := len(all) - MaxTurns; over > 0 {
		all = append([]providers.Message(nil), all[over:]...)
	}
	m.turns[userID] = all
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID int64) ([]providers.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]providers.Message, len(m.turns[userID]))
	copy(out, m.turns[userID])
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, userID)
	return nil
}

func (m *MemoryStore) Len(_ context.Context, userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns[userID]), nil
}
