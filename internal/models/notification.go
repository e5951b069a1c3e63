package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification types.
const (
	NotificationScheduleChange     = "schedule_change"
	NotificationExamDate           = "exam_date"
	NotificationAssignmentDeadline = "assignment_deadline"
	NotificationAttendanceReminder = "attendance_reminder"
	NotificationGradeUpdated       = "grade_updated"
	NotificationAnnouncement       = "announcement"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// NotificationTypes lists every accepted notification type.
var NotificationTypes = []string{
	NotificationScheduleChange,
	NotificationExamDate,
	NotificationAssignmentDeadline,
	NotificationAttendanceReminder,
	NotificationGradeUpdated,
	NotificationAnnouncement,
}

// NotificationPriorities lists every accepted priority, lowest first.
var NotificationPriorities = []string{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Notification is an in-app message for one user. Only Read and ReadAt change after insert.
type Notification struct {
	BaseModel

	UserID      string         `gorm:"type:uuid;index:idx_notifications_user_created,priority:1;not null" json:"user_id"`
	Type        string         `gorm:"type:varchar(64);not null" json:"type"`
	Title       string         `gorm:"type:varchar(255);not null" json:"title"`
	Message     string         `gorm:"type:text" json:"message"`
	Priority    string         `gorm:"type:varchar(16);default:'medium'" json:"priority"`
	RelatedID   *string        `gorm:"type:varchar(64)" json:"related_id"`
	RelatedType *string        `gorm:"type:varchar(64)" json:"related_type"`
	ActionURL   *string        `gorm:"type:text" json:"action_url"`
	Metadata    datatypes.JSON `json:"metadata"`

	Read   bool       `gorm:"column:is_read;default:false;index" json:"read"`
	ReadAt *time.Time `json:"read_at"`
}
