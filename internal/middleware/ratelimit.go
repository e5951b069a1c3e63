package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/cache"
	"github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/logger"
	"github.com/charlesng35/schoolx/pkg/response"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// RateLimit limits requests per (caller, route) within a fixed window. The caller is the
// authenticated user when known and the client IP otherwise. Store failures let the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	if store == nil {
		store = NewMemoryRateStore()
	}
	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		caller := c.GetString(CtxUserIDKey)
		if caller == "" {
			caller = c.ClientIP()
		}
		key := "ratelimit:" + caller + "|" + c.FullPath()

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			log.Warn("rate limit store failed", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > maxRequests {
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}
		c.Next()
	}
}

type memoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	clock func() time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateStore constructs a process-local rate store. Expired windows are
// dropped lazily on the next increment for any key.
func NewMemoryRateStore() RateStore {
	return &memoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: time.Now,
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, counter := range s.data {
		if now.After(counter.windowEnd) {
			delete(s.data, k)
		}
	}

	counter, ok := s.data[key]
	if !ok {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}
	counter.count++
	return counter.count, counter.windowEnd.Sub(now), nil
}

type storeRateStore struct {
	store cache.Store
}

// NewCacheRateStore adapts a cache.Store (Redis or SQL) into a RateStore shared across instances.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store}
}

func (s *storeRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
