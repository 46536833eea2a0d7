package cache

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheRecord corresponds to the cache_records table backing the indexed tier.
type CacheRecord struct {
	Key       string    `gorm:"type:varchar(255);primaryKey" json:"key"`
	Data      []byte    `gorm:"type:blob;not null" json:"data"`
	Timestamp int64     `gorm:"not null;index" json:"timestamp"`
	TTLMillis int64     `gorm:"not null" json:"ttl_millis"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName sets the table name for gorm.
func (CacheRecord) TableName() string {
	return "cache_records"
}

// indexedTier stores cache entries in the structured database. It is the
// slowest and most durable tier.
type indexedTier struct {
	db *gorm.DB
}

func newIndexedTier(db *gorm.DB) *indexedTier {
	return &indexedTier{db: db}
}

func (t *indexedTier) get(key string) ([]byte, bool) {
	var record CacheRecord
	err := t.db.Where("key = ?", key).First(&record).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.WithError(err).WithField("key", key).Debug("Indexed cache read failed")
		}
		return nil, false
	}

	if record.TTLMillis > 0 && time.Now().UnixMilli()-record.Timestamp > record.TTLMillis {
		// Lazy eviction on access.
		if err := t.db.Delete(&CacheRecord{}, "key = ?", key).Error; err != nil {
			logrus.WithError(err).WithField("key", key).Debug("Failed to evict expired cache record")
		}
		return nil, false
	}

	return record.Data, true
}

func (t *indexedTier) set(key string, data []byte, ttl time.Duration) error {
	record := CacheRecord{
		Key:       key,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		TTLMillis: ttl.Milliseconds(),
	}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "timestamp", "ttl_millis", "updated_at"}),
	}).Create(&record).Error
}

func (t *indexedTier) delete(key string) {
	if err := t.db.Delete(&CacheRecord{}, "key = ?", key).Error; err != nil {
		logrus.WithError(err).WithField("key", key).Debug("Indexed cache delete failed")
	}
}

func (t *indexedTier) clear(prefix string) {
	if err := t.db.Delete(&CacheRecord{}, "key LIKE ?", prefix+"%").Error; err != nil {
		logrus.WithError(err).Debug("Indexed cache clear failed")
	}
}

// removeExpired purges expired rows. Returns the number of rows removed.
func (t *indexedTier) removeExpired() int64 {
	now := time.Now().UnixMilli()
	result := t.db.Where("ttl_millis > 0 AND ? - timestamp > ttl_millis", now).Delete(&CacheRecord{})
	if result.Error != nil {
		logrus.WithError(result.Error).Debug("Indexed cache expiry sweep failed")
		return 0
	}
	return result.RowsAffected
}
