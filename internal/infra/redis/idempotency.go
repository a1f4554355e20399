package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pineos/referral-ledger/internal/ledger"
	"github.com/pineos/referral-ledger/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a resolved idempotency key stays cached.
	// The database unique index remains authoritative after expiry.
	DefaultTTL = 24 * time.Hour

	// KeyPrefix is the prefix for idempotency cache keys
	KeyPrefix = "idempotency:"
)

// IdempotencyCache is a Redis-backed read-through cache for resolved
// idempotency keys. It only serves to short-circuit duplicate lookups;
// correctness never depends on it.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewIdempotencyCache creates a new idempotency cache
func NewIdempotencyCache(client *redis.Client, log *logger.Logger) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		ttl:    DefaultTTL,
		logger: log.WithField("component", "idempotency_cache"),
	}
}

// NewIdempotencyCacheWithTTL creates a new idempotency cache with custom TTL
func NewIdempotencyCacheWithTTL(client *redis.Client, ttl time.Duration, log *logger.Logger) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "idempotency_cache"),
	}
}

// Get retrieves a cached key resolution. A miss returns (nil, nil).
func (c *IdempotencyCache) Get(ctx context.Context, key string) (*ledger.CachedKey, error) {
	val, err := c.client.Get(ctx, KeyPrefix+key).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "idempotency_key", key)
		return nil, nil
	}
	if err != nil {
		c.logger.Error("cache error", "operation", "get", "idempotency_key", key, "error", err)
		return nil, fmt.Errorf("failed to get cached key: %w", err)
	}

	var cached ledger.CachedKey
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached key: %w", err)
	}

	c.logger.Debug("cache hit", "idempotency_key", key)
	return &cached, nil
}

// Set stores a resolved key with the configured TTL
func (c *IdempotencyCache) Set(ctx context.Context, key string, cached ledger.CachedKey) error {
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal cached key: %w", err)
	}

	if err := c.client.Set(ctx, KeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Error("cache error", "operation", "set", "idempotency_key", key, "error", err)
		return fmt.Errorf("failed to cache key: %w", err)
	}

	return nil
}
