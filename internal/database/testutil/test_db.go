package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/database"
	"github.com/charlesng35/schoolx/internal/models"
)

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
	seedData    bool
}

// WithAutoMigrate applies the schema after opening the test database.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// WithSeedData applies the schema and inserts default seed rows.
func WithSeedData() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
		cfg.seedData = true
	}
}

// MustOpenTestDB opens a private in-memory SQLite database that is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := testDBConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(database.Config{
		Driver:       "sqlite",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	if cfg.seedData {
		require.NoError(t, database.AutoMigrateAndSeed(db))
	} else if cfg.autoMigrate {
		require.NoError(t, database.AutoMigrate(db))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// MustCreateSchool inserts a school with the given code.
func MustCreateSchool(t *testing.T, db *gorm.DB, code string) *models.School {
	t.Helper()
	school := &models.School{Name: code + " school", Code: code}
	require.NoError(t, db.Create(school).Error)
	return school
}

// MustCreateProfile inserts an active profile with the given role in school.
func MustCreateProfile(t *testing.T, db *gorm.DB, school *models.School, role, name string) *models.UserProfile {
	t.Helper()
	profile := &models.UserProfile{
		FullName: name,
		Email:    name + "@school.example",
		Role:     role,
		SchoolID: school.ID,
		IsActive: true,
	}
	require.NoError(t, db.Create(profile).Error)
	return profile
}
