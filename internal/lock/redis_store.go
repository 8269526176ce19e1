// SPDX-License-Identifier: MIT

package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mextic/recargas/internal/log"
)

const redisKeyPrefix = "recargas:lock:"

// RedisStore holds locks as JSON values under recargas:lock:<key> with
// a server-side TTL, so a crashed holder expires without a sweeper.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects and pings the Redis server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping %s: %v", ErrBackendUnavailable, cfg.Addr, err)
	}

	logger := log.WithComponent("lock.redis")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to redis lock store")
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, for tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Name() string { return "redis" }

// TryAcquire uses SET NX with the record TTL; the conditional set is
// the atomicity guarantee.
func (s *RedisStore) TryAcquire(ctx context.Context, rec Record) (bool, *Record, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, nil, err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return false, nil, fmt.Errorf("lock: non-positive ttl for %s", rec.Key)
	}

	ok, err := s.client.SetNX(ctx, redisKeyPrefix+rec.Key, payload, ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if ok {
		return true, nil, nil
	}

	existing, err := s.Get(ctx, rec.Key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// releaseScript deletes the key only if the stored holder matches, so a
// process whose lock already expired and was re-acquired elsewhere can
// never release the new holder's lock.
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then return 0 end
local rec = cjson.decode(raw)
if rec.holderId == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) Release(ctx context.Context, key, holderID string) error {
	return releaseScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, holderID).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("lock: corrupt record for %s: %w", key, err)
	}
	return &rec, nil
}

// SweepExpired is a no-op on Redis: the server TTL already evicts
// expired locks. Kept for Store symmetry.
func (s *RedisStore) SweepExpired(context.Context) (int, error) { return 0, nil }

func (s *RedisStore) ReleaseAll(ctx context.Context, holderID string, force bool) (int, error) {
	var released int
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		if force {
			if err := s.client.Del(ctx, fullKey).Err(); err == nil {
				released++
			}
			continue
		}
		raw, err := s.client.Get(ctx, fullKey).Bytes()
		if err != nil {
			continue
		}
		var rec Record
		if json.Unmarshal(raw, &rec) == nil && rec.HolderID == holderID {
			if err := releaseScript.Run(ctx, s.client, []string{fullKey}, holderID).Err(); err == nil {
				released++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return released, err
	}
	return released, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
