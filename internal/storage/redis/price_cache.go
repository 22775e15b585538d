package redis

import (
	"context"
	stdErrors "errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"SwapAgent-Chain/internal/catalog"
)

// PriceCache 把价格索引的原始响应缓存在 Redis 中，实现 catalog.PriceCache。
type PriceCache struct {
	client *goredis.Client
	prefix string
}

// NewPriceCache 创建 PriceCache。
func NewPriceCache(client *goredis.Client, prefix string) *PriceCache {
	return &PriceCache{client: client, prefix: prefix}
}

// Get 返回缓存内容，未命中时 ok 为 false。
func (c *PriceCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, prefixed(c.prefix, key)).Bytes()
	if err != nil {
		if stdErrors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set 写入缓存。
func (c *PriceCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, prefixed(c.prefix, key), value, ttl).Err()
}

var _ catalog.PriceCache = (*PriceCache)(nil)
