package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatrelay/internal/providers"
)

type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore keeps transcripts in redis lists. A positive ttl expires an
// idle transcript.
func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "chatrelay"
	}
	return &RedisStore{redis: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(userID int64) string {
	return fmt.Sprintf("%s:history:%d", r.prefix, userID)
}

func (r *RedisStore) Append(ctx context.Context, userID int64, turns ...providers.Message) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, string(b))
	}

	key := r.key(userID)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -MaxTurns, -1)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, userID int64) ([]providers.Message, error) {
	raw, err := r.redis.LRange(ctx, r.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]providers.Message, 0, len(raw))
	for _, item := range raw {
		var m providers.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode history turn: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := r.redis.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (r *RedisStore) Len(ctx context.Context, userID int64) (int, error) {
	n, err := r.redis.LLen(ctx, r.key(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("history length: %w", err)
	}
	return int(n), nil
}
