package pictures

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// avatarKeyPrefix is the Redis key prefix for cached picture URLs.
const avatarKeyPrefix = "triptuner:avatar:"

// opTimeout bounds each Redis round trip; a slow cache must never stall a
// leaderboard refresh.
const opTimeout = 3 * time.Second

// RedisCache is a Cache shared across app restarts, backed by Redis.
// Entries are stored without expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// ConnectRedisCache dials Redis from a URI and verifies the connection.
func ConnectRedisCache(redisURI string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURI)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(userID string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	val, err := c.client.Get(ctx, avatarKeyPrefix+userID).Result()
	if err != nil {
		return "", false // miss or unreachable, caller falls through
	}
	return val, true
}

func (c *RedisCache) Put(userID, url string) {
	if userID == "" || url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_ = c.client.Set(ctx, avatarKeyPrefix+userID, url, 0).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
