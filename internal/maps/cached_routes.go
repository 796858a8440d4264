package maps

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"tricykol/internal/cache"
	"tricykol/internal/types"
)

const DefaultRouteTTL = 24 * time.Hour

type RoutePlanner interface {
	Route(ctx context.Context, origin, destination types.Point) ([]types.Point, error)
}

// CachedRoutes serves routes from the cache keyed by origin and
// destination, falling back to the wrapped planner on a miss.
type CachedRoutes struct {
	next   RoutePlanner
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRoutes(next RoutePlanner, store cache.Store, ttl time.Duration, logger *slog.Logger) *CachedRoutes {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}
	return &CachedRoutes{next: next, store: store, ttl: ttl, logger: logger}
}

func (c *CachedRoutes) Route(ctx context.Context, origin, destination types.Point) ([]types.Point, error) {
	key := cache.RouteKey(origin, destination)
	if raw, ok, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn("route cache read failed", "key", key, "error", err)
	} else if ok {
		var path []types.Point
		if err := json.Unmarshal([]byte(raw), &path); err == nil && len(path) > 0 {
			return path, nil
		}
		_ = c.store.Del(ctx, key)
	}

	path, err := c.next.Route(ctx, origin, destination)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(path); err == nil {
		if err := c.store.Set(ctx, key, string(raw), c.ttl); err != nil {
			c.logger.Warn("route cache write failed", "key", key, "error", err)
		}
	}
	return path, nil
}
