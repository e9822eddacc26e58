package crossref

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// 接続できないRedisに対してはエラーを返し、panicしないことを検証する。
func TestRedisWorkCache_UnreachableReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cache := NewRedisWorkCache(client, 0)
	if cache.ttl != defaultCacheTTL {
		t.Errorf("ttl = %v, want %v", cache.ttl, defaultCacheTTL)
	}

	ctx := context.Background()
	if _, err := cache.Get(ctx, "10.1000/xyz"); err == nil {
		t.Error("expected error from unreachable redis")
	}
	if err := cache.Set(ctx, "10.1000/xyz", &Work{DOI: "10.1000/xyz"}); err == nil {
		t.Error("expected error from unreachable redis")
	}
}

func TestWorkKey_CaseInsensitive(t *testing.T) {
	if workKey("10.1000/XYZ") != workKey("10.1000/xyz") {
		t.Error("work keys should be case-insensitive")
	}
}
