package credentials

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var setModelIfPresentScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

const (
	prefProviderField = "provider"
	prefModelField    = "model"
)

// RedisStore keeps the same volatile records in redis so that several bot
// processes can share them.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "chatrelay"
	}
	return &RedisStore{redis: rdb, prefix: prefix, now: time.Now}
}

func (r *RedisStore) tokensKey(userID int64) string {
	return fmt.Sprintf("%s:cred:%d:tokens", r.prefix, userID)
}

func (r *RedisStore) modelsKey(userID int64) string {
	return fmt.Sprintf("%s:cred:%d:models", r.prefix, userID)
}

func (r *RedisStore) setAtKey(userID int64) string {
	return fmt.Sprintf("%s:cred:%d:set_at", r.prefix, userID)
}

func (r *RedisStore) prefKey(userID int64) string {
	return fmt.Sprintf("%s:pref:%d", r.prefix, userID)
}

func (r *RedisStore) SetCredential(ctx context.Context, userID int64, provider, token, model string) error {
	setAt := strconv.FormatInt(r.now().UTC().UnixNano(), 10)
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.tokensKey(userID), provider, token)
		pipe.HSet(ctx, r.setAtKey(userID), provider, setAt)
		if model != "" {
			pipe.HSet(ctx, r.modelsKey(userID), provider, model)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

func (r *RedisStore) Credential(ctx context.Context, userID int64, provider string) (string, bool, error) {
	return r.hget(ctx, r.tokensKey(userID), provider)
}

func (r *RedisStore) Model(ctx context.Context, userID int64, provider string) (string, bool, error) {
	return r.hget(ctx, r.modelsKey(userID), provider)
}

func (r *RedisStore) RemoveCredential(ctx context.Context, userID int64, provider string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, r.tokensKey(userID), provider)
		pipe.HDel(ctx, r.modelsKey(userID), provider)
		pipe.HDel(ctx, r.setAtKey(userID), provider)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove credential: %w", err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisStore) HasCredential(ctx context.Context, userID int64, provider string) (bool, error) {
	ok, err := r.redis.HExists(ctx, r.tokensKey(userID), provider).Result()
	if err != nil {
		return false, fmt.Errorf("has credential: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) SetModel(ctx context.Context, userID int64, provider, model string) error {
	keys := []string{r.tokensKey(userID), r.modelsKey(userID)}
	if err := setModelIfPresentScript.Run(ctx, r.redis, keys, provider, model).Err(); err != nil {
		return fmt.Errorf("set model script: %w", err)
	}
	return nil
}

func (r *RedisStore) SetPreferredProvider(ctx context.Context, userID int64, provider string) error {
	if err := r.redis.HSet(ctx, r.prefKey(userID), prefProviderField, provider).Err(); err != nil {
		return fmt.Errorf("set preferred provider: %w", err)
	}
	return nil
}

func (r *RedisStore) PreferredProvider(ctx context.Context, userID int64) (string, bool, error) {
	return r.hget(ctx, r.prefKey(userID), prefProviderField)
}

func (r *RedisStore) SetPreferredModel(ctx context.Context, userID int64, model string) error {
	if err := r.redis.HSet(ctx, r.prefKey(userID), prefModelField, model).Err(); err != nil {
		return fmt.Errorf("set preferred model: %w", err)
	}
	return nil
}

func (r *RedisStore) PreferredModel(ctx context.Context, userID int64) (string, bool, error) {
	return r.hget(ctx, r.prefKey(userID), prefModelField)
}

func (r *RedisStore) Providers(ctx context.Context, userID int64) ([]string, error) {
	ids, err := r.redis.HKeys(ctx, r.tokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *RedisStore) ClearAll(ctx context.Context, userID int64) error {
	err := r.redis.Del(ctx, r.tokensKey(userID), r.modelsKey(userID), r.setAtKey(userID), r.prefKey(userID)).Err()
	if err != nil {
		return fmt.Errorf("clear user data: %w", err)
	}
	return nil
}

func (r *RedisStore) Snapshot(ctx context.Context, userID int64) (Snapshot, error) {
	var tokens, models, setAts, pref *redis.MapStringStringCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		tokens = pipe.HGetAll(ctx, r.tokensKey(userID))
		models = pipe.HGetAll(ctx, r.modelsKey(userID))
		setAts = pipe.HGetAll(ctx, r.setAtKey(userID))
		pref = pipe.HGetAll(ctx, r.prefKey(userID))
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}

	snap := Snapshot{
		PreferredProvider: pref.Val()[prefProviderField],
		PreferredModel:    pref.Val()[prefModelField],
		Configured:        make([]ConfiguredProvider, 0, len(tokens.Val())),
	}
	for provider := range tokens.Val() {
		cp := ConfiguredProvider{Provider: provider, Model: models.Val()[provider]}
		if ns, err := strconv.ParseInt(setAts.Val()[provider], 10, 64); err == nil {
			cp.SetAt = time.Unix(0, ns).UTC()
		}
		snap.Configured = append(snap.Configured, cp)
	}
	sortConfigured(snap.Configured)
	return snap, nil
}

func (r *RedisStore) hget(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.redis.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s: %w", field, err)
	}
	return v, v != "", nil
}
