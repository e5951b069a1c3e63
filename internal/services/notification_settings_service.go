package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/schoolx/internal/models"
	apperrors "github.com/charlesng35/schoolx/pkg/errors"
	"github.com/charlesng35/schoolx/pkg/validator"
)

// ReminderAdvanceOptions lists the accepted reminder lead times in days.
var ReminderAdvanceOptions = []int{0, 1, 2, 3, 7}

const (
	defaultReminderAdvanceDays = 1
	defaultQuietHoursStart     = "22:00"
	defaultQuietHoursEnd       = "08:00"
)

// NotificationSettings is the per-user delivery policy.
type NotificationSettings struct {
	InAppEnabled        bool   `json:"inapp_enabled"`
	EmailEnabled        bool   `json:"email_enabled"`
	PushEnabled         bool   `json:"push_enabled"`
	ScheduleChanges     bool   `json:"schedule_changes"`
	ExamReminders       bool   `json:"exam_reminders"`
	AssignmentReminders bool   `json:"assignment_reminders"`
	AttendanceReminders bool   `json:"attendance_reminders"`
	GradeUpdates        bool   `json:"grade_updates"`
	Announcements       bool   `json:"announcements"`
	ReminderAdvanceDays int    `json:"reminder_advance_days"`
	QuietHoursStart     string `json:"quiet_hours_start"`
	QuietHoursEnd       string `json:"quiet_hours_end"`
}

// CategoryEnabled reports whether the toggle covering the notification type is on.
// Unknown types are treated as enabled.
func (s NotificationSettings) CategoryEnabled(notificationType string) bool {
	switch notificationType {
	case models.NotificationScheduleChange:
		return s.ScheduleChanges
	case models.NotificationExamDate:
		return s.ExamReminders
	case models.NotificationAssignmentDeadline:
		return s.AssignmentReminders
	case models.NotificationAttendanceReminder:
		return s.AttendanceReminders
	case models.NotificationGradeUpdated:
		return s.GradeUpdates
	case models.NotificationAnnouncement:
		return s.Announcements
	default:
		return true
	}
}

// InQuietHours reports whether the wall-clock time of t falls inside the quiet window.
// A window whose start is after its end wraps past midnight. Equal bounds mean no quiet hours.
func (s NotificationSettings) InQuietHours(t time.Time) bool {
	start, okStart := minutesOfDay(s.QuietHoursStart)
	end, okEnd := minutesOfDay(s.QuietHoursEnd)
	if !okStart || !okEnd || start == end {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func minutesOfDay(value string) (int, bool) {
	if !validator.IsTimeOfDay(value) {
		return 0, false
	}
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, false
	}
	return parsed.Hour()*60 + parsed.Minute(), true
}

// NotificationSettingsService reads and upserts per-user notification settings.
type NotificationSettingsService struct {
	db *gorm.DB
}

// NewNotificationSettingsService constructs a NotificationSettingsService.
func NewNotificationSettingsService(db *gorm.DB) (*NotificationSettingsService, error) {
	if db == nil {
		return nil, errors.New("notification settings service: db is required")
	}
	return &NotificationSettingsService{db: db}, nil
}

// Get returns the stored settings of the user. found is false, with defaults returned, when none exist.
func (s *NotificationSettingsService) Get(ctx context.Context, userID string) (NotificationSettings, bool, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DefaultNotificationSettings(), false, apperrors.NewBadRequest("user id is required")
	}

	var row models.NotificationSettings
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultNotificationSettings(), false, nil
		}
		return DefaultNotificationSettings(), false, fmt.Errorf("notification settings service: load settings: %w", err)
	}
	return NormaliseNotificationSettings(row.Settings), true, nil
}

// Upsert writes the full settings record for the user, creating it on first save.
func (s *NotificationSettingsService) Upsert(ctx context.Context, userID string, settings NotificationSettings) (NotificationSettings, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DefaultNotificationSettings(), apperrors.NewBadRequest("user id is required")
	}

	sanitised := sanitizeNotificationSettings(settings)
	row := models.NotificationSettings{
		UserID:   userID,
		Settings: MarshalNotificationSettings(sanitised),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"settings", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return DefaultNotificationSettings(), fmt.Errorf("notification settings service: upsert settings: %w", err)
	}
	return sanitised, nil
}

// DefaultNotificationSettings returns the settings applied when a user has none stored.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		InAppEnabled:        true,
		EmailEnabled:        true,
		PushEnabled:         false,
		ScheduleChanges:     true,
		ExamReminders:       true,
		AssignmentReminders: true,
		AttendanceReminders: true,
		GradeUpdates:        true,
		Announcements:       true,
		ReminderAdvanceDays: defaultReminderAdvanceDays,
		QuietHoursStart:     defaultQuietHoursStart,
		QuietHoursEnd:       defaultQuietHoursEnd,
	}
}

// NormaliseNotificationSettings coerces the stored JSON map into settings, defaulting missing or malformed keys.
func NormaliseNotificationSettings(raw datatypes.JSONMap) NotificationSettings {
	settings := DefaultNotificationSettings()
	if len(raw) == 0 {
		return settings
	}

	toggles := map[string]*bool{
		"inapp_enabled":        &settings.InAppEnabled,
		"email_enabled":        &settings.EmailEnabled,
		"push_enabled":         &settings.PushEnabled,
		"schedule_changes":     &settings.ScheduleChanges,
		"exam_reminders":       &settings.ExamReminders,
		"assignment_reminders": &settings.AssignmentReminders,
		"attendance_reminders": &settings.AttendanceReminders,
		"grade_updates":        &settings.GradeUpdates,
		"announcements":        &settings.Announcements,
	}
	for key, target := range toggles {
		if value, ok := asBool(raw[key]); ok {
			*target = value
		}
	}

	if days, ok := asInt(raw["reminder_advance_days"]); ok {
		settings.ReminderAdvanceDays = days
	}
	if start, ok := asString(raw["quiet_hours_start"]); ok {
		settings.QuietHoursStart = start
	}
	if end, ok := asString(raw["quiet_hours_end"]); ok {
		settings.QuietHoursEnd = end
	}

	return sanitizeNotificationSettings(settings)
}

// MarshalNotificationSettings converts settings into the JSON map persisted in the database.
func MarshalNotificationSettings(settings NotificationSettings) datatypes.JSONMap {
	return datatypes.JSONMap{
		"inapp_enabled":         settings.InAppEnabled,
		"email_enabled":         settings.EmailEnabled,
		"push_enabled":          settings.PushEnabled,
		"schedule_changes":      settings.ScheduleChanges,
		"exam_reminders":        settings.ExamReminders,
		"assignment_reminders":  settings.AssignmentReminders,
		"attendance_reminders":  settings.AttendanceReminders,
		"grade_updates":         settings.GradeUpdates,
		"announcements":         settings.Announcements,
		"reminder_advance_days": settings.ReminderAdvanceDays,
		"quiet_hours_start":     settings.QuietHoursStart,
		"quiet_hours_end":       settings.QuietHoursEnd,
	}
}

func sanitizeNotificationSettings(input NotificationSettings) NotificationSettings {
	out := input
	if !containsInt(ReminderAdvanceOptions, out.ReminderAdvanceDays) {
		out.ReminderAdvanceDays = defaultReminderAdvanceDays
	}
	out.QuietHoursStart = strings.TrimSpace(out.QuietHoursStart)
	if !validator.IsTimeOfDay(out.QuietHoursStart) {
		out.QuietHoursStart = defaultQuietHoursStart
	}
	out.QuietHoursEnd = strings.TrimSpace(out.QuietHoursEnd)
	if !validator.IsTimeOfDay(out.QuietHoursEnd) {
		out.QuietHoursEnd = defaultQuietHoursEnd
	}
	return out
}

func containsInt(values []int, target int) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
