package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DatabaseBackend persists entries in a SQL table through GORM.
type DatabaseBackend struct {
	db          *gorm.DB
	driverLabel string
}

type sessionEntryRecord struct {
	Key         string `gorm:"column:entry_key;primaryKey"`
	Value       []byte `gorm:"column:value;not null"`
	UpdatedUnix int64  `gorm:"column:updated_unix;not null"`
}

func (sessionEntryRecord) TableName() string {
	return "session_entries"
}

// NewDatabaseBackend opens dialector and migrates the entry table.
func NewDatabaseBackend(ctx context.Context, dialector gorm.Dialector, driverLabel string) (*DatabaseBackend, error) {
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("credstore.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionEntryRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("credstore.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseBackend{db: gormDB, driverLabel: driverLabel}, nil
}

// Driver exposes the selected database driver label.
func (backend *DatabaseBackend) Driver() string {
	return backend.driverLabel
}

// Get reads one entry.
func (backend *DatabaseBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var record sessionEntryRecord
	err := backend.db.WithContext(ctx).Where("entry_key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("credstore.get.%s: %w", backend.driverLabel, err)
	}
	return record.Value, nil
}

// SetMany upserts all entries in one transaction.
func (backend *DatabaseBackend) SetMany(ctx context.Context, entries map[string][]byte) error {
	nowUnix := time.Now().UTC().Unix()
	err := backend.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		for key, value := range entries {
			record := sessionEntryRecord{Key: key, Value: value, UpdatedUnix: nowUnix}
			upsertErr := transaction.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "entry_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_unix"}),
			}).Create(&record).Error
			if upsertErr != nil {
				return upsertErr
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("credstore.set.%s: %w", backend.driverLabel, err)
	}
	return nil
}

// Delete removes entries.
func (backend *DatabaseBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := backend.db.WithContext(ctx).Where("entry_key IN ?", keys).Delete(&sessionEntryRecord{}).Error; err != nil {
		return fmt.Errorf("credstore.delete.%s: %w", backend.driverLabel, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (backend *DatabaseBackend) Close() error {
	sqlDB, err := backend.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
