package setup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type State string

const (
	StateSelectingProvider State = "selecting_provider"
	StateSelectingModel    State = "selecting_model"
	StateEnteringToken     State = "entering_token"
)

type Session struct {
	State    State  `json:"state"`
	Provider string `json:"provider,omitempty"`
}

// StateHolder is the per-user session storage the machine runs on.
// Get returns nil without an error when the user has no session.
type StateHolder interface {
	Get(ctx context.Context, userID int64) (*Session, error)
	Set(ctx context.Context, userID int64, s Session) error
	Clear(ctx context.Context, userID int64) error
}

type MemoryHolder struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

func NewMemoryHolder() *MemoryHolder {
	return &MemoryHolder{sessions: make(map[int64]Session)}
}

func (h *MemoryHolder) Get(_ context.Context, userID int64) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (h *MemoryHolder) Set(_ context.Context, userID int64, s Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[userID] = s
	return nil
}

func (h *MemoryHolder) Clear(_ context.Context, userID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, userID)
	return nil
}

// RedisHolder stores sessions as JSON with a TTL, so an abandoned dialog
// expires on its own.
type RedisHolder struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisHolder(rdb *redis.Client, prefix string, ttl time.Duration) *RedisHolder {
	if prefix == "" {
		prefix = "chatrelay"
	}
	return &RedisHolder{redis: rdb, prefix: prefix, ttl: ttl}
}

func (h *RedisHolder) key(userID int64) string {
	return fmt.Sprintf("%s:setup:%d", h.prefix, userID)
}

func (h *RedisHolder) Set(ctx context.Context, userID int64, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return h.redis.Set(ctx, h.key(userID), string(b), h.ttl).Err()
}

func (h *RedisHolder) Get(ctx context.Context, userID int64) (*Session, error) {
	raw, err := h.redis.Get(ctx, h.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *RedisHolder) Clear(ctx context.Context, userID int64) error {
	return h.redis.Del(ctx, h.key(userID)).Err()
}
