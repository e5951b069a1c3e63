package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/schoolx/internal/models"
)

var errDatabaseStoreNil = errors.New("cache: database store not initialised")

// DatabaseStore implements Store on top of the primary SQL database.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// IncrementWithTTL increments a fixed-window counter, restarting it once the window elapsed.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errDatabaseStoreNil
	}
	ctx = orBackground(ctx)
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	var (
		count  int64
		expiry time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&entry, "key = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			count, expiry = 1, now.Add(window)
			return tx.Create(&models.CacheEntry{Key: key, Value: []byte("1"), ExpiresAt: expiry}).Error
		case err != nil:
			return err
		}

		if !entry.ExpiresAt.After(now) {
			count, expiry = 1, now.Add(window)
		} else {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count, expiry = current+1, entry.ExpiresAt
		}
		entry.Value = []byte(strconv.FormatInt(count, 10))
		entry.ExpiresAt = expiry
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return count, expiry.Sub(now), nil
}

func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errDatabaseStoreNil
	}

	var expiry time.Time
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}

	return s.db.WithContext(orBackground(ctx)).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).
		Create(&models.CacheEntry{Key: key, Value: value, ExpiresAt: expiry}).Error
}

// Get returns the stored value; expired entries are removed and reported as missing.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errDatabaseStoreNil
	}
	ctx = orBackground(ctx)

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Take(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !entry.ExpiresAt.IsZero() && s.now().After(entry.ExpiresAt) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(orBackground(ctx)).Where("key IN ?", keys).Delete(&models.CacheEntry{}).Error
}

// PurgeExpired deletes entries whose expiry has passed and reports how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errDatabaseStoreNil
	}
	res := s.db.WithContext(orBackground(ctx)).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, s.now()).
		Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
