package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationSettings stores the preference record of one user as a JSON document.
type NotificationSettings struct {
	UserID    string            `gorm:"primaryKey;type:uuid" json:"user_id"`
	Settings  datatypes.JSONMap `gorm:"not null" json:"settings"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (NotificationSettings) TableName() string {
	return "notification_settings"
}
