package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "rbac:perms:"

// Cache stores resolved permission sets per user in Redis. Entries carry a
// TTL as a safety net, but correctness relies on explicit invalidation:
// every write touching a user's roles or direct grants must call Invalidate.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("%s%d", cacheKeyPrefix, userID)
}

// Get loads the cached permission set for a user. The second return value
// reports whether an entry was present.
func (c *Cache) Get(ctx context.Context, userID int64) ([]EffectivePermission, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var perms []EffectivePermission
	if err := json.Unmarshal(payload, &perms); err != nil {
		return nil, false, err
	}
	return perms, true, nil
}

// Set stores the permission set for a user.
func (c *Cache) Set(ctx context.Context, userID int64, perms []EffectivePermission) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(userID), payload, c.ttl).Err()
}

// Invalidate deletes the cached sets for the given users. Deletion, not
// expiry: a stale entry could keep serving a permission after a denial.
func (c *Cache) Invalidate(ctx context.Context, userIDs ...int64) error {
	if c == nil || c.client == nil || len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = cacheKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}
