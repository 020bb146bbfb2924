package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisStampKeyPrefix = "subgate:stamp:"

// RedisStampCache はRedisを使った共有StampCache。
// 複数のAPIインスタンスでInvalidateの効果を共有する。
type RedisStampCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStampCache はRedisStampCacheを生成する。ttlが0以下なら既定値を使う。
func NewRedisStampCache(client redis.UniversalClient, ttl time.Duration) *RedisStampCache {
	if ttl <= 0 {
		ttl = DefaultStampCacheTTL
	}
	return &RedisStampCache{client: client, ttl: ttl}
}

// NewRedisClient はredis://形式のURLからクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Get はキャッシュ済みのスタンプを返す。
func (c *RedisStampCache) Get(ctx context.Context, userID string) (string, bool, error) {
	stamp, err := c.client.Get(ctx, redisStampKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get stamp from redis: %w", err)
	}
	return stamp, true, nil
}

// Set はスタンプをTTL付きで保存する。
func (c *RedisStampCache) Set(ctx context.Context, userID, stamp string) error {
	if err := c.client.Set(ctx, redisStampKeyPrefix+userID, stamp, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set stamp in redis: %w", err)
	}
	return nil
}

// Invalidate はエントリを削除する。
func (c *RedisStampCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, redisStampKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete stamp from redis: %w", err)
	}
	return nil
}

var _ StampCache = (*RedisStampCache)(nil)
