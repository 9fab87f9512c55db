package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a resolved rate stays fresh.
const DefaultCacheTTL = 60 * time.Second

// RedisCache keeps last-good rates in Redis with a staleness TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisCacheOptions configure a RedisCache.
type RedisCacheOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisCacheOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisCache(client, opts.Prefix, opts.TTL), nil
}

func newRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "corridor:oracle"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, symbol string) (Rate, bool, error) {
	data, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Rate{}, false, nil
		}
		return Rate{}, false, err
	}
	var r Rate
	if err := json.Unmarshal(data, &r); err != nil {
		return Rate{}, false, fmt.Errorf("decode cached rate: %w", err)
	}
	return r, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, r Rate) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(r.Symbol), data, c.ttl).Err()
}

func (c *RedisCache) key(symbol string) string {
	return fmt.Sprintf("%s:%s", c.prefix, strings.ToUpper(symbol))
}

var _ Cache = (*RedisCache)(nil)
