package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/api"
	"github.com/charlesng35/schoolx/internal/app"
	iauth "github.com/charlesng35/schoolx/internal/auth"
	sharedtestutil "github.com/charlesng35/schoolx/internal/database/testutil"
	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/pkg/response"
)

const jwtSecret = "test-suite-super-secret-key-32-bytes!!"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Hub      *realtime.Hub
	Services *api.Services
	School   *models.School
}

// NewEnv provisions a fresh handler test environment with migrations applied and one school created.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		Audience:       "authenticated",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Notifications: app.NotificationConfig{
			FeedLimit: 50,
			Realtime:  app.RealtimeConfig{Enabled: true},
		},
	}

	hub := realtime.NewHub()
	deps := api.Dependencies{DB: db, JWT: jwtSvc, Hub: hub}

	svc, err := api.NewServices(cfg, deps)
	require.NoError(t, err)

	router, err := api.NewRouter(cfg, deps, svc)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Hub:      hub,
		Services: svc,
		School:   sharedtestutil.MustCreateSchool(t, db, "sch-"+uuid.NewString()[:8]),
	}
}

// CreateProfile inserts an active profile in the environment's school.
func (e *Env) CreateProfile(role, name string) *models.UserProfile {
	e.T.Helper()
	return sharedtestutil.MustCreateProfile(e.T, e.DB, e.School, role, name)
}

// Token mints an access token whose subject is userID.
func (e *Env) Token(userID string) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
