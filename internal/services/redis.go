package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "edulearn:"

// releaseLockScript deletes the lock only if it still holds our token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisCache provides caching and short-lived locks using Redis
type RedisCache struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisCache creates a new Redis cache client
func NewRedisCache(redisURL string, log *zap.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info("redis connection established")
	return NewRedisCacheFromClient(client, log), nil
}

func NewRedisCacheFromClient(client *redis.Client, log *zap.Logger) *RedisCache {
	return &RedisCache{client: client, log: log.Named("redis")}
}

func redisKey(k string) string { return redisKeyPrefix + k }

// Set stores a value in cache with expiration
func (c *RedisCache) Set(ctx context.Context, k string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey(k), data, expiration).Err()
}

// Get retrieves a value from cache. A miss returns redis.Nil.
func (c *RedisCache) Get(ctx context.Context, k string, dest interface{}) error {
	data, err := c.client.Get(ctx, redisKey(k)).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// GetOrSet retrieves a value from cache, or calls fn to fetch and cache it.
// A nil cache always calls fn.
func GetOrSet[T any](c *RedisCache, ctx context.Context, k string, expiration time.Duration, fn func() (T, error)) (T, error) {
	var result T
	if c == nil {
		return fn()
	}

	err := c.Get(ctx, k, &result)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.log.Warn("cache read failed", zap.String("key", k), zap.Error(err))
	}

	result, err = fn()
	if err != nil {
		return result, err
	}

	// Store in cache (ignore cache set errors)
	_ = c.Set(ctx, k, result, expiration)

	return result, nil
}

// Delete removes a key from cache
func (c *RedisCache) Delete(ctx context.Context, k string) error {
	return c.client.Del(ctx, redisKey(k)).Err()
}

// AcquireLock takes a SET NX lock for ttl. When acquired is false another
// holder owns the key. release is always safe to call.
func (c *RedisCache) AcquireLock(ctx context.Context, k string, ttl time.Duration) (release func(), acquired bool, err error) {
	token := uuid.NewString()
	lockKey := redisKey("lock:" + k)

	ok, err := c.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}

	return func() {
		// The caller's context may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseLockScript.Run(releaseCtx, c.client, []string{lockKey}, token).Err(); err != nil {
			c.log.Warn("release lock failed", zap.String("key", k), zap.Error(err))
		}
	}, true, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
