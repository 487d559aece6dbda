// Package cache mirrors published views into redis so other processes can read a
// party's latest state without holding a session.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/datnetwork/datmind/internal/views"
	"github.com/datnetwork/datmind/pkg/config"
	"github.com/datnetwork/datmind/pkg/logging"
)

const keyPrefix = "datmind:"

// Cache wraps Redis client
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Redis cache client
func New(cfg *config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		logging.GetLogger().Info("Redis cache disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established")

	return &Cache{
		client: client,
		ttl:    cfg.ViewTTL,
	}, nil
}

// HashKey derives a fixed-length key segment from arbitrary parts
func HashKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) namespaceKey(key string) string {
	return keyPrefix + key
}

func (c *Cache) viewsKey(party string) string {
	return c.namespaceKey("views:" + HashKey(party))
}

// SetJSON stores value encoded as JSON with TTL
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, c.namespaceKey(key), data, ttl).Err()
}

// StoreViews mirrors the latest views of a party. Older versions never overwrite
// newer ones because a session publishes from a single goroutine.
func (c *Cache) StoreViews(ctx context.Context, v *views.Views) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.SetJSON(ctx, "views:"+HashKey(v.Me), v, c.ttl)
}

// DropViews removes the mirrored views of party
func (c *Cache) DropViews(ctx context.Context, party string) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Del(ctx, c.viewsKey(party)).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Ping(ctx).Err()
}

var (
	// ErrCacheDisabled is returned when cache operations are attempted but cache is disabled
	ErrCacheDisabled = fmt.Errorf("cache is disabled")
)
