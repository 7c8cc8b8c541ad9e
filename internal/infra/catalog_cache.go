package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mealmate/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedCatalog serves restaurant lookups through Redis. Menu item lookups always
// hit the catalog so cart prices are never stale.
type CachedCatalog struct {
	origin CatalogInterface
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

func NewCachedCatalog(origin CatalogInterface, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedCatalog {
	return &CachedCatalog{origin: origin, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *CachedCatalog) GetMenuItem(ctx context.Context, id uint64) (*MenuItemInfo, error) {
	return c.origin.GetMenuItem(ctx, id)
}

func (c *CachedCatalog) GetRestaurant(ctx context.Context, id uint64) (*RestaurantInfo, error) {
	cacheKey := restaurantKey(id)

	if c.rdb != nil {
		cached, err := c.rdb.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var r RestaurantInfo
			if err := json.Unmarshal(cached, &r); err == nil {
				metrics.RecordCatalogCache("hit")
				return &r, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			c.logger.Warn("restaurant cache read failed", zap.Uint64("restaurant_id", id), zap.Error(err))
		}
	}
	metrics.RecordCatalogCache("miss")

	v, err, _ := c.group.Do(cacheKey, func() (any, error) {
		r, err := c.origin.GetRestaurant(ctx, id)
		if err != nil || r == nil {
			return r, err
		}
		c.store(ctx, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RestaurantInfo), nil
}

// Warmup preloads restaurants into the cache. Failures are logged and skipped.
func (c *CachedCatalog) Warmup(ctx context.Context, ids []uint64) {
	if c.rdb == nil {
		return
	}
	for _, id := range ids {
		r, err := c.origin.GetRestaurant(ctx, id)
		if err != nil {
			c.logger.Warn("failed to warm up restaurant cache", zap.Uint64("restaurant_id", id), zap.Error(err))
			continue
		}
		if r != nil {
			c.store(ctx, r)
		}
	}
}

func (c *CachedCatalog) Invalidate(ctx context.Context, id uint64) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, restaurantKey(id)).Err()
}

func (c *CachedCatalog) store(ctx context.Context, r *RestaurantInfo) {
	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, restaurantKey(r.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("restaurant cache write failed", zap.Uint64("restaurant_id", r.ID), zap.Error(err))
	}
}

func restaurantKey(id uint64) string {
	return fmt.Sprintf("restaurant:%d", id)
}
