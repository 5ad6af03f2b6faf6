package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// statusKeyPrefix is the cache key scheme for kitchen status entries.
const statusKeyPrefix = "subscription:status:"

// RedisCache is a Redis-backed StatusCache. Entries are JSON snapshots
// of the subscription, deleted (never updated in place) on every
// committed transition so the next read always recomputes from the
// store.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a StatusCache on top of the given Redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	if client == nil {
		panic("billing: redis client is required")
	}
	return &RedisCache{client: client}
}

func statusKey(kitchenID uuid.UUID) string {
	return statusKeyPrefix + kitchenID.String()
}

func (c *RedisCache) Get(ctx context.Context, kitchenID uuid.UUID) (*Subscription, error) {
	raw, err := c.client.Get(ctx, statusKey(kitchenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Join(ErrDependencyUnavailable, err)
	}

	var sub Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		// Corrupt entries behave like misses; the next Set overwrites.
		return nil, ErrCacheMiss
	}
	return &sub, nil
}

func (c *RedisCache) Set(ctx context.Context, sub *Subscription, ttl time.Duration) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, statusKey(sub.KitchenID), raw, ttl).Err(); err != nil {
		return errors.Join(ErrDependencyUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, kitchenID uuid.UUID) error {
	if err := c.client.Del(ctx, statusKey(kitchenID)).Err(); err != nil {
		return errors.Join(ErrDependencyUnavailable, err)
	}
	return nil
}
