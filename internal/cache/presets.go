package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/pkg/logger"
)

// Freshness presets for cached reads, by how often the underlying data changes.
const (
	TTLStatic     = 30 * time.Minute
	TTLSemiStatic = 10 * time.Minute
	TTLDynamic    = 2 * time.Minute
	TTLRealtime   = 0
)

// Fetch returns the cached JSON value for key or calls load and caches its result for ttl.
// A zero ttl or nil store bypasses the cache. Cache failures degrade to calling load.
func Fetch[T any](ctx context.Context, store Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if store == nil || ttl <= 0 {
		return load(ctx)
	}

	log := logger.WithModule("cache")
	if raw, ok, err := store.Get(ctx, key); err != nil {
		log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		_ = store.Delete(ctx, key)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	if raw, err := json.Marshal(value); err == nil {
		if err := store.Set(ctx, key, raw, ttl); err != nil {
			log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return value, nil
}
