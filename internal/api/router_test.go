package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/schoolx/internal/api"
	"github.com/charlesng35/schoolx/internal/app"
	iauth "github.com/charlesng35/schoolx/internal/auth"
	sharedtestutil "github.com/charlesng35/schoolx/internal/database/testutil"
	"github.com/charlesng35/schoolx/internal/handlers/testutil"
	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/models"
)

func TestMetricsEndpointIsPublic(t *testing.T) {
	t.Parallel()

	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "go_goroutines")
}

func TestNewRouterValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := api.NewRouter(nil, api.Dependencies{}, nil)
	require.Error(t, err)

	_, err = api.NewRouter(&app.Config{}, api.Dependencies{}, nil)
	require.ErrorContains(t, err, "jwt")

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "secret"})
	require.NoError(t, err)
	_, err = api.NewRouter(&app.Config{}, api.Dependencies{JWT: jwtSvc}, nil)
	require.ErrorContains(t, err, "database")
}

func TestRouterWithoutRealtimeOrMonitoring(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "secret"})
	require.NoError(t, err)

	router, err := api.NewRouter(&app.Config{}, api.Dependencies{DB: db, JWT: jwtSvc}, nil)
	require.NoError(t, err)

	for _, path := range []string{"/health", "/metrics", "/ws"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestRateLimitAppliesPerUser(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	school := sharedtestutil.MustCreateSchool(t, db, "rl")
	student := sharedtestutil.MustCreateProfile(t, db, school, models.RoleStudent, "kemi")

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "secret", AccessTokenTTL: time.Hour})
	require.NoError(t, err)
	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: student.ID})
	require.NoError(t, err)

	cfg := &app.Config{RateLimit: app.RateLimitConfig{Requests: 2, Window: time.Minute}}
	router, err := api.NewRouter(cfg, api.Dependencies{DB: db, JWT: jwtSvc, RateStore: middleware.NewMemoryRateStore()}, nil)
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
