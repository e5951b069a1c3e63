package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/schoolx/internal/cache"
	"github.com/charlesng35/schoolx/internal/database/testutil"
)

func serveN(r *gin.Engine, n int) []int {
	codes := make([]int, 0, n)
	for i := 0; i < n; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	return codes
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(nil, 2, 100*time.Millisecond))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.Equal(t, []int{200, 200, 429}, serveN(r, 3))

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, []int{200}, serveN(r, 1))
}

func TestRateLimitWithCacheStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewCacheRateStore(cache.NewDatabaseStore(db))

	r := gin.New()
	r.Use(RateLimit(store, 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.Equal(t, []int{200, 429}, serveN(r, 2))
}

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, context.DeadlineExceeded
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(failingRateStore{}, 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.Equal(t, []int{200, 200}, serveN(r, 2))
}
