package crossref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	workKeyPrefix   = "crossref:work:"
	defaultCacheTTL = 24 * time.Hour
)

// RedisWorkCache はRedisに論文メタデータを保存するWorkCache。
type RedisWorkCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisWorkCache はRedisWorkCacheを生成する。ttlが0以下の場合は24時間。
func NewRedisWorkCache(client *redis.Client, ttl time.Duration) *RedisWorkCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisWorkCache{client: client, ttl: ttl}
}

// Get はキャッシュ済みの論文を返す。無い場合は(nil, nil)。
func (c *RedisWorkCache) Get(ctx context.Context, doi string) (*Work, error) {
	raw, err := c.client.Get(ctx, workKey(doi)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var w Work
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode cached work: %w", err)
	}
	return &w, nil
}

// Set は論文をTTL付きで保存する。
func (c *RedisWorkCache) Set(ctx context.Context, doi string, work *Work) error {
	raw, err := json.Marshal(work)
	if err != nil {
		return fmt.Errorf("encode work: %w", err)
	}
	return c.client.Set(ctx, workKey(doi), raw, c.ttl).Err()
}

// DOIは大文字小文字を区別しないため、キーは小文字に揃える。
func workKey(doi string) string {
	return workKeyPrefix + strings.ToLower(doi)
}

var _ WorkCache = (*RedisWorkCache)(nil)
