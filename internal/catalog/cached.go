package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"time"
)

// Cached is a cache-aside Lookup in front of the catalog. Concurrent misses
// for one product share a single upstream fetch. Stock on cached entries can
// be stale; only name and price are read from it when freezing line items.
type Cached struct {
	Next  Lookup
	Redis *redis.Client
	TTL   time.Duration
	Log   *zap.Logger

	group singleflight.Group
}

var _ Lookup = (*Cached)(nil)

func (c *Cached) GetProduct(ctx context.Context, id string) (Product, error) {
	key := fmt.Sprintf(redisx.KeyCatalogProduct, id)
	if p, ok := c.fromCache(ctx, key); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if p, ok := c.fromCache(ctx, key); ok {
			return p, nil
		}
		p, err := c.Next.GetProduct(ctx, id)
		if err != nil {
			return Product{}, err
		}
		if b, err := json.Marshal(p); err == nil {
			if err := c.Redis.Set(ctx, key, string(b), c.TTL).Err(); err != nil {
				c.log().Warn("catalog cache write failed", zap.String("product_id", id), zap.Error(err))
			}
		}
		return p, nil
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

// Invalidate drops the cached entry, e.g. after a price or stock correction.
func (c *Cached) Invalidate(ctx context.Context, id string) error {
	return c.Redis.Del(ctx, fmt.Sprintf(redisx.KeyCatalogProduct, id)).Err()
}

func (c *Cached) fromCache(ctx context.Context, key string) (Product, bool) {
	s, err := c.Redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log().Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		}
		return Product{}, false
	}
	var p Product
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Product{}, false
	}
	return p, true
}

func (c *Cached) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
