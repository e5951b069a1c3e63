package database

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("SELECT 1").Error)
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	for _, table := range []interface{}{
		&models.School{},
		&models.UserProfile{},
		&models.Notification{},
		&models.NotificationSettings{},
		&models.FeedbackSubmission{},
		&models.FeedbackAnalytics{},
		&models.CacheEntry{},
	} {
		require.True(t, migrator.HasTable(table), "expected table for %T", table)
	}
	require.True(t, migrator.HasTable("notification_settings"))
	require.True(t, migrator.HasColumn(&models.FeedbackSubmission{}, "nps_score"))
}

func TestSeedDataIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrateAndSeed(db))
	require.NoError(t, AutoMigrateAndSeed(db))

	var count int64
	require.NoError(t, db.Model(&models.School{}).Where("code = ?", DefaultSchoolCode).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestAutoMigrateAndSeedRejectsNil(t *testing.T) {
	require.Error(t, AutoMigrateAndSeed(nil))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{
		Driver:       "sqlite",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
