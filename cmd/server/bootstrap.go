package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/api"
	"github.com/charlesng35/schoolx/internal/app"
	"github.com/charlesng35/schoolx/internal/app/maintenance"
	iauth "github.com/charlesng35/schoolx/internal/auth"
	"github.com/charlesng35/schoolx/internal/cache"
	"github.com/charlesng35/schoolx/internal/database"
	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/internal/security"
	"github.com/charlesng35/schoolx/pkg/logger"
	"github.com/charlesng35/schoolx/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *goredis.Client
	Cache     cache.Store
	Hub       *realtime.Hub
	Relay     *realtime.RedisRelay
	Services  *api.Services
	Scheduler *maintenance.Scheduler
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, cache, realtime hub, services and HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}
	logSecurityAudit(ctx, stack.DB, cfg, log)

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Cache = dbStore
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			stack.Cache = cache.NewRedisStore(stack.Redis)
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	deps := api.Dependencies{
		DB:        stack.DB,
		JWT:       jwtSvc,
		Cache:     stack.Cache,
		RateStore: middleware.NewCacheRateStore(stack.Cache),
	}

	if cfg.Notifications.Realtime.Enabled {
		stack.Hub = realtime.NewHub()
		deps.Hub = stack.Hub
		if cfg.Notifications.Realtime.Relay && stack.Redis != nil {
			relay := realtime.NewRedisRelay(stack.Redis, stack.Hub, cfg.Notifications.Realtime.Channel)
			if err := relay.Start(ctx); err != nil {
				log.Warn("realtime relay unavailable; delivering locally", zap.Error(err))
			} else {
				stack.Relay = relay
				deps.Broadcaster = relay
			}
		}
	}

	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		deps.Mailer = mailer
	}

	stack.Services, err = api.NewServices(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}

	var purger maintenance.CachePurger
	if stack.Redis == nil {
		purger = dbStore
	}
	stack.Scheduler = maintenance.NewScheduler(stack.Services.Analytics, purger,
		maintenance.WithAnalyticsSchedule(cfg.Feedback.AnalyticsSchedule),
		maintenance.WithCachePurgeSchedule(cfg.Feedback.CachePurgeSchedule),
	)
	if err := stack.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}
	deps.Jobs = stack.Scheduler
	if stack.Redis != nil {
		deps.Redis = stack.Redis
	}

	stack.Router, err = api.NewRouter(cfg, deps, stack.Services)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	var errs error
	if s.Scheduler != nil {
		select {
		case <-s.Scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}
	if s.Relay != nil {
		errs = multierr.Append(errs, s.Relay.Stop())
	}
	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
	}

	for _, err := range multierr.Errors(errs) {
		log.Warn("shutdown", zap.Error(err))
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseClientConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))
	return db, nil
}

func logSecurityAudit(ctx context.Context, db *gorm.DB, cfg *app.Config, log *zap.Logger) {
	result := security.NewAuditService(db, cfg).Run(ctx)
	for _, finding := range result.Findings() {
		log.Warn("security audit",
			zap.String("check", finding.ID),
			zap.String("status", string(finding.Status)),
			zap.String("message", finding.Message),
			zap.String("remediation", finding.Remediation),
		)
	}
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const shutdownTimeout = 15 * time.Second
