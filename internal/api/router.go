package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/schoolx/internal/app"
	"github.com/charlesng35/schoolx/internal/handlers"
	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/monitoring"
)

const probeTimeout = 2 * time.Second

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(cfg *app.Config, deps Dependencies, svc *Services) (*gin.Engine, error) {
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if deps.JWT == nil {
		return nil, errors.New("jwt service must be provided")
	}
	if svc == nil {
		var err error
		if svc, err = NewServices(cfg, deps); err != nil {
			return nil, err
		}
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(newHealthManager(cfg, deps)))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	if deps.Hub != nil && cfg.Notifications.Realtime.Enabled {
		deps.Hub.AllowOrigins(cfg.Server.AllowedOrigins...)
		registerRealtimeRoutes(r, handlers.NewRealtimeHandler(deps.Hub, deps.JWT, svc.Profiles))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))
	api.Use(middleware.Profile(svc.Profiles))
	api.Use(middleware.RateLimit(deps.RateStore, cfg.RateLimit.Requests, cfg.RateLimit.Window))

	registerNotificationRoutes(api, svc)
	registerProfileRoutes(api, svc)
	registerFeedbackRoutes(api, svc)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func newHealthManager(cfg *app.Config, deps Dependencies) *monitoring.HealthManager {
	var observer monitoring.RealtimeObserver
	if deps.Hub != nil {
		observer = deps.Hub
	}
	return monitoring.NewHealthManager(
		monitoring.Database(deps.DB, probeTimeout),
		monitoring.Redis(monitoring.RedisClient(deps.Redis), cfg.Cache.Redis.Enabled, probeTimeout),
		monitoring.Realtime(observer, cfg.Notifications.Realtime.Enabled),
		monitoring.Maintenance(deps.Jobs, 0),
	)
}
