package gormstore

import (
	"gorm.io/gorm"

	"github.com/ngoclaw/chatcore/internal/apperrors"
)

// kvModel backs KVAdapter: a flat key/value table sharing the transcript
// store's connection, used to persist internal/usage.Tracker's running
// totals across restarts.
type kvModel struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// KVAdapter implements internal/usage.StorageAdapter on top of the same
// database the transcript store uses, so a single DSN covers both.
type KVAdapter struct {
	db *gorm.DB
}

// KV returns a usage.StorageAdapter sharing this Store's connection,
// migrating its table on first use.
func (s *Store) KV() (*KVAdapter, error) {
	if err := s.db.AutoMigrate(&kvModel{}); err != nil {
		return nil, apperrors.NewFatalError("failed to migrate usage kv table", err)
	}
	return &KVAdapter{db: s.db}, nil
}

func (k *KVAdapter) Get(key string) (string, bool) {
	var row kvModel
	if err := k.db.Where("key = ?", key).First(&row).Error; err != nil {
		return "", false
	}
	return row.Value, true
}

func (k *KVAdapter) Set(key, value string) error {
	return k.db.Save(&kvModel{Key: key, Value: value}).Error
}
