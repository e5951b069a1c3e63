package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/models"
	"github.com/charlesng35/schoolx/internal/realtime"
	apperrors "github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/logger"
	"github.com/charlesng35/schoolx/pkg/metrics"
)

const (
	// DefaultFeedLimit is the number of notifications returned when no limit is given.
	DefaultFeedLimit = 50
	maxFeedLimit     = 100

	dispatchTimeout = 30 * time.Second
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Priority    string         `json:"priority"`
	RelatedID   *string        `json:"related_id,omitempty"`
	RelatedType *string        `json:"related_type,omitempty"`
	ActionURL   *string        `json:"action_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Read        bool           `json:"read"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CreateNotificationInput defines attributes required to persist a notification.
type CreateNotificationInput struct {
	UserID      string         `json:"user_id"`
	Type        string         `json:"type" validate:"required"`
	Title       string         `json:"title" validate:"required,max=255"`
	Message     string         `json:"message"`
	Priority    string         `json:"priority"`
	RelatedID   string         `json:"related_id"`
	RelatedType string         `json:"related_type"`
	ActionURL   string         `json:"action_url"`
	Metadata    map[string]any `json:"metadata"`
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID string
	Limit  int
	Offset int
}

// NotificationEventPayload represents data sent to realtime consumers.
type NotificationEventPayload struct {
	Notification   *NotificationDTO `json:"notification,omitempty"`
	NotificationID string           `json:"notification_id,omitempty"`
	Count          int64            `json:"count,omitempty"`
}

// Dispatcher delivers a notification over channels other than the in-app feed.
type Dispatcher interface {
	Dispatch(ctx context.Context, notification NotificationDTO) error
}

// NotificationOption customises a NotificationService.
type NotificationOption func(*NotificationService)

// WithDispatcher sends every created notification to d in the background.
func WithDispatcher(d Dispatcher) NotificationOption {
	return func(s *NotificationService) {
		s.dispatcher = d
	}
}

// WithFeedLimit overrides the default page size of ListForUser.
func WithFeedLimit(limit int) NotificationOption {
	return func(s *NotificationService) {
		if limit > 0 && limit <= maxFeedLimit {
			s.feedLimit = limit
		}
	}
}

// WithNotificationClock overrides the clock used for read timestamps.
func WithNotificationClock(now func() time.Time) NotificationOption {
	return func(s *NotificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// NotificationService manages user in-app notifications.
type NotificationService struct {
	db          *gorm.DB
	broadcaster realtime.Broadcaster
	dispatcher  Dispatcher
	feedLimit   int
	now         func() time.Time
	log         *zap.Logger
}

// NewNotificationService constructs a NotificationService. broadcaster may be nil.
func NewNotificationService(db *gorm.DB, broadcaster realtime.Broadcaster, opts ...NotificationOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	svc := &NotificationService{
		db:          db,
		broadcaster: broadcaster,
		feedLimit:   DefaultFeedLimit,
		now:         func() time.Time { return time.Now().UTC() },
		log:         logger.WithModule("notifications"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ListForUser returns notifications for the supplied user, newest first.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = s.feedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	var rows []models.Notification
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	return mapNotificationRows(rows), nil
}

// UnreadCount returns the number of unread notifications held by the user.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", strings.TrimSpace(userID), false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification service: count unread: %w", err)
	}
	return count, nil
}

// Create persists a notification, broadcasts notification.created and hands it to the dispatcher.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	notification, err := buildNotification(input)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	dto := mapNotification(notification)
	s.afterCreate(dto)
	return &dto, nil
}

// CreateForUsers persists one copy of input per user in a single transaction.
func (s *NotificationService) CreateForUsers(ctx context.Context, userIDs []string, input CreateNotificationInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userIDs = normaliseIDs(userIDs)
	if len(userIDs) == 0 {
		return nil, apperrors.NewBadRequest("at least one recipient is required")
	}

	rows := make([]models.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		input.UserID = userID
		notification, err := buildNotification(input)
		if err != nil {
			return nil, err
		}
		rows = append(rows, notification)
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, 100).Error
	}); err != nil {
		return nil, fmt.Errorf("notification service: create notifications: %w", err)
	}

	items := mapNotificationRows(rows)
	for _, dto := range items {
		s.afterCreate(dto)
	}
	return items, nil
}

// MarkRead sets the read flag. Marking an already-read notification changes nothing.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	notification, err := s.load(ctx, userID, notificationID)
	if err != nil {
		return nil, err
	}

	if notification.Read {
		dto := mapNotification(*notification)
		return &dto, nil
	}

	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND is_read = ?", notification.ID, notification.UserID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("notification service: mark read: %w", result.Error)
	}

	notification.Read = true
	notification.ReadAt = &now
	dto := mapNotification(*notification)

	if result.RowsAffected > 0 {
		s.broadcast(notification.UserID, realtime.EventNotificationRead, &NotificationEventPayload{
			Notification:   &dto,
			NotificationID: notification.ID,
		})
	}
	return &dto, nil
}

// MarkAllRead marks every unread notification of the user as read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": s.now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.broadcast(userID, realtime.EventNotificationsReadAll, &NotificationEventPayload{Count: result.RowsAffected})
	}
	return result.RowsAffected, nil
}

// Delete removes a notification owned by the supplied user.
func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", strings.TrimSpace(notificationID), strings.TrimSpace(userID)).
		Delete(&models.Notification{})
	if result.Error != nil {
		return fmt.Errorf("notification service: delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	s.broadcast(userID, realtime.EventNotificationDeleted, &NotificationEventPayload{
		NotificationID: notificationID,
	})
	return nil
}

// ClearAll removes every notification of the user and returns how many were removed.
func (s *NotificationService) ClearAll(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.NewBadRequest("user id is required")
	}

	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: clear notifications: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.broadcast(userID, realtime.EventNotificationsCleared, &NotificationEventPayload{Count: result.RowsAffected})
	}
	return result.RowsAffected, nil
}

func (s *NotificationService) load(ctx context.Context, userID, notificationID string) (*models.Notification, error) {
	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", strings.TrimSpace(notificationID), strings.TrimSpace(userID)).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}
	return &notification, nil
}

func (s *NotificationService) afterCreate(dto NotificationDTO) {
	metrics.NotificationsCreated.WithLabelValues(dto.Type, dto.Priority).Inc()

	s.broadcast(dto.UserID, realtime.EventNotificationCreated, &NotificationEventPayload{
		Notification: &dto,
	})

	if s.dispatcher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := s.dispatcher.Dispatch(ctx, dto); err != nil {
			s.log.Warn("notification dispatch failed",
				zap.String("notification_id", dto.ID),
				zap.Error(err),
			)
		}
	}()
}

func (s *NotificationService) broadcast(userID, event string, payload *NotificationEventPayload) {
	if s.broadcaster == nil {
		return
	}
	message := realtime.Message{
		Stream: realtime.StreamNotifications,
		Event:  event,
	}
	if payload != nil {
		message.Data = payload
	}
	s.broadcaster.BroadcastToUser(realtime.StreamNotifications, userID, message)
}

func buildNotification(input CreateNotificationInput) (models.Notification, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return models.Notification{}, apperrors.NewBadRequest("user id is required")
	}
	notificationType := strings.ToLower(strings.TrimSpace(input.Type))
	if !containsString(models.NotificationTypes, notificationType) {
		return models.Notification{}, apperrors.NewBadRequest(fmt.Sprintf("unsupported notification type %q", input.Type))
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return models.Notification{}, apperrors.NewBadRequest("title is required")
	}
	priority := strings.ToLower(strings.TrimSpace(defaultIfEmpty(input.Priority, models.PriorityMedium)))
	if !containsString(models.NotificationPriorities, priority) {
		return models.Notification{}, apperrors.NewBadRequest(fmt.Sprintf("unsupported priority %q", input.Priority))
	}

	notification := models.Notification{
		UserID:      userID,
		Type:        notificationType,
		Title:       title,
		Message:     strings.TrimSpace(input.Message),
		Priority:    priority,
		RelatedID:   optionalString(input.RelatedID),
		RelatedType: optionalString(input.RelatedType),
		ActionURL:   optionalString(input.ActionURL),
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return models.Notification{}, fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		notification.Metadata = datatypes.JSON(data)
	}
	return notification, nil
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:          row.ID,
		UserID:      row.UserID,
		Type:        row.Type,
		Title:       row.Title,
		Message:     row.Message,
		Priority:    defaultIfEmpty(row.Priority, models.PriorityMedium),
		RelatedID:   row.RelatedID,
		RelatedType: row.RelatedType,
		ActionURL:   row.ActionURL,
		Metadata:    decodeJSON(row.Metadata),
		Read:        row.Read,
		ReadAt:      row.ReadAt,
		CreatedAt:   row.CreatedAt,
	}
}
