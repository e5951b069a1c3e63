package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/pkg/logger"
	"github.com/charlesng35/schoolx/pkg/mail"
	"github.com/charlesng35/schoolx/pkg/metrics"
)

// Delivery outcomes.
const (
	DeliverySent    = "sent"
	DeliverySkipped = "skipped"
	DeliveryFailed  = "failed"
)

const channelEmail = "email"

// DeliveryService copies notifications to email according to each user's settings.
type DeliveryService struct {
	profiles *ProfileService
	settings *NotificationSettingsService
	mailer   mail.Mailer
	location *time.Location
	now      func() time.Time
	log      *zap.Logger
}

// NewDeliveryService constructs a DeliveryService. Quiet hours are evaluated in loc.
func NewDeliveryService(profiles *ProfileService, settings *NotificationSettingsService, mailer mail.Mailer, loc *time.Location) (*DeliveryService, error) {
	if profiles == nil || settings == nil {
		return nil, errors.New("delivery service: profiles and settings are required")
	}
	if loc == nil {
		loc = time.Local
	}
	return &DeliveryService{
		profiles: profiles,
		settings: settings,
		mailer:   mailer,
		location: loc,
		now:      time.Now,
		log:      logger.WithModule("delivery"),
	}, nil
}

// Dispatch implements Dispatcher.
func (s *DeliveryService) Dispatch(ctx context.Context, notification NotificationDTO) error {
	_, err := s.Deliver(ctx, notification)
	return err
}

// Deliver emails the notification unless the user's settings rule it out.
// Urgent notifications ignore quiet hours.
func (s *DeliveryService) Deliver(ctx context.Context, notification NotificationDTO) (string, error) {
	ctx = ensureContext(ctx)
	result, err := s.deliverEmail(ctx, notification)
	metrics.NotificationDeliveries.WithLabelValues(channelEmail, result).Inc()
	return result, err
}

func (s *DeliveryService) deliverEmail(ctx context.Context, notification NotificationDTO) (string, error) {
	if s.mailer == nil {
		return DeliverySkipped, nil
	}

	settings, _, err := s.settings.Get(ctx, notification.UserID)
	if err != nil {
		return DeliveryFailed, err
	}
	if !settings.EmailEnabled || !settings.CategoryEnabled(notification.Type) {
		return DeliverySkipped, nil
	}
	if notification.Priority != models.PriorityUrgent && settings.InQuietHours(s.now().In(s.location)) {
		return DeliverySkipped, nil
	}

	profile, err := s.profiles.Get(ctx, notification.UserID)
	if err != nil {
		return DeliveryFailed, err
	}
	if !profile.IsActive || strings.TrimSpace(profile.Email) == "" {
		return DeliverySkipped, nil
	}

	err = s.mailer.Send(ctx, mail.Message{
		To:      []string{profile.Email},
		Subject: notification.Title,
		Body:    emailBody(notification),
	})
	switch {
	case errors.Is(err, mail.ErrSMTPDisabled):
		return DeliverySkipped, nil
	case err != nil:
		s.log.Warn("email delivery failed",
			zap.String("notification_id", notification.ID),
			zap.Error(err),
		)
		return DeliveryFailed, fmt.Errorf("delivery service: send email: %w", err)
	}
	return DeliverySent, nil
}

func emailBody(notification NotificationDTO) string {
	var b strings.Builder
	b.WriteString(notification.Message)
	if url := derefString(notification.ActionURL); url != "" {
		b.WriteString("\n\n")
		b.WriteString(url)
	}
	return b.String()
}
