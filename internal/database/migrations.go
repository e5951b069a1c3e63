package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/models"
)

// DefaultSchoolCode identifies the school created on an empty database.
const DefaultSchoolCode = "DEFAULT"

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.School{},
		&models.UserProfile{},
		&models.Notification{},
		&models.NotificationSettings{},
		&models.FeedbackSubmission{},
		&models.FeedbackAnalytics{},
		&models.CacheEntry{},
	)
}

// SeedData creates the default school so a fresh install can resolve profiles.
func SeedData(db *gorm.DB) error {
	school := models.School{
		Name: "Default School",
		Code: DefaultSchoolCode,
	}
	return db.Where(models.School{Code: school.Code}).Attrs(school).FirstOrCreate(&models.School{}).Error
}
