package api

import (
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/app"
	iauth "github.com/charlesng35/schoolx/internal/auth"
	"github.com/charlesng35/schoolx/internal/cache"
	"github.com/charlesng35/schoolx/internal/middleware"
	"github.com/charlesng35/schoolx/internal/monitoring"
	"github.com/charlesng35/schoolx/internal/realtime"
	"github.com/charlesng35/schoolx/internal/services"
	"github.com/charlesng35/schoolx/pkg/mail"
)

// Dependencies are the infrastructure handles the API is built from.
type Dependencies struct {
	DB  *gorm.DB
	JWT *iauth.JWTService
	Hub *realtime.Hub

	// Broadcaster defaults to Hub. Set it to a Redis relay to fan out across instances.
	Broadcaster realtime.Broadcaster
	Cache       cache.Store
	Mailer      mail.Mailer
	RateStore   middleware.RateStore

	// Redis and Jobs only feed the health report.
	Redis goredis.UniversalClient
	Jobs  monitoring.JobReporter
}

// Services bundles the domain services shared by the router and background jobs.
type Services struct {
	Profiles      *services.ProfileService
	Notifications *services.NotificationService
	Settings      *services.NotificationSettingsService
	Feedback      *services.FeedbackService
	Analytics     *services.FeedbackAnalyticsService
	Delivery      *services.DeliveryService
}

// NewServices wires the domain services.
func NewServices(cfg *app.Config, deps Dependencies) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}
	if deps.DB == nil {
		return nil, errors.New("database handle must be provided")
	}

	var broadcaster realtime.Broadcaster
	switch {
	case deps.Broadcaster != nil:
		broadcaster = deps.Broadcaster
	case deps.Hub != nil:
		broadcaster = deps.Hub
	}

	profiles, err := services.NewProfileService(deps.DB)
	if err != nil {
		return nil, err
	}
	settings, err := services.NewNotificationSettingsService(deps.DB)
	if err != nil {
		return nil, err
	}

	notificationOpts := []services.NotificationOption{services.WithFeedLimit(cfg.Notifications.FeedLimit)}
	var delivery *services.DeliveryService
	if deps.Mailer != nil {
		delivery, err = services.NewDeliveryService(profiles, settings, deps.Mailer, time.Local)
		if err != nil {
			return nil, err
		}
		notificationOpts = append(notificationOpts, services.WithDispatcher(delivery))
	}

	notifications, err := services.NewNotificationService(deps.DB, broadcaster, notificationOpts...)
	if err != nil {
		return nil, err
	}
	analytics, err := services.NewFeedbackAnalyticsService(deps.DB, deps.Cache, cfg.Feedback.AnalyticsCacheTTL)
	if err != nil {
		return nil, err
	}
	feedback, err := services.NewFeedbackService(deps.DB, profiles, analytics, broadcaster)
	if err != nil {
		return nil, err
	}

	return &Services{
		Profiles:      profiles,
		Notifications: notifications,
		Settings:      settings,
		Feedback:      feedback,
		Analytics:     analytics,
		Delivery:      delivery,
	}, nil
}
