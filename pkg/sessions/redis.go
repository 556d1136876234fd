package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cobrance/lucia/pkg/negotiation"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lucia:session:"

// RedisStore shares sessions across gateway instances. Expiry is
// delegated to Redis TTLs. The ttl is fixed at construction; Put may
// run concurrently with the janitor, so nothing mutates it afterwards.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    24 * time.Hour,
	}
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (negotiation.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return negotiation.Snapshot{}, false, nil
	}
	if err != nil {
		return negotiation.Snapshot{}, false, err
	}

	var snap negotiation.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return negotiation.Snapshot{}, false, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return snap, true, nil
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, snap negotiation.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	return s.client.Set(ctx, redisKeyPrefix+sessionID, string(raw), s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, redisKeyPrefix+sessionID).Err()
}

// DeleteExpired is a no-op: Redis evicts expired keys on its own, the
// janitor only matters for the memory and SQLite backends.
func (s *RedisStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
