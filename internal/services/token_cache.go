package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oncokb/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const tokenCacheKeyPrefix = "oncokb:token:"

type CachedToken struct {
	TokenID    uuid.UUID `json:"tokenID"`
	UserID     uuid.UUID `json:"userID"`
	Expiration time.Time `json:"expiration"`
}

// TokenCache keeps recent API token lookups in redis. A nil *TokenCache is a
// valid, disabled cache.
type TokenCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewTokenCache(client *redis.Client, ttl time.Duration) *TokenCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenCache{client: client, ttl: ttl}
}

func cacheKey(value uuid.UUID) string {
	return tokenCacheKeyPrefix + value.String()
}

func (c *TokenCache) Get(ctx context.Context, value uuid.UUID) (*CachedToken, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, cacheKey(value)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("token_cache_get_failed", map[string]interface{}{"error": err.Error()})
		}
		return nil, false
	}

	var cached CachedToken
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

func (c *TokenCache) Set(ctx context.Context, value uuid.UUID, cached CachedToken) {
	if c == nil {
		return
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(value), data, c.ttl).Err(); err != nil {
		logger.Warn("token_cache_set_failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *TokenCache) Evict(ctx context.Context, values ...uuid.UUID) {
	if c == nil || len(values) == 0 {
		return
	}

	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = cacheKey(v)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("token_cache_evict_failed", map[string]interface{}{
			"error": err.Error(),
			"count": len(keys),
		})
	}
}
