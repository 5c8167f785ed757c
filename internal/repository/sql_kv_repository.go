package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyValue is the row backing SQLKVRepository.
type KeyValue struct {
	Key       string `gorm:"column:kv_key;primaryKey;size:191"`
	Value     []byte `gorm:"column:kv_value"`
	UpdatedAt time.Time
}

func (KeyValue) TableName() string {
	return "echo_key_values"
}

// MigrateSQL creates or updates the key-value table.
func MigrateSQL(db *gorm.DB) error {
	if err := db.AutoMigrate(&KeyValue{}); err != nil {
		return fmt.Errorf("failed to migrate key-value table: %w", err)
	}
	return nil
}

// SQLKVRepository stores values in a single table. Update locks the row with
// SELECT ... FOR UPDATE inside a transaction.
type SQLKVRepository struct {
	db *gorm.DB
}

func NewSQLKVRepository(db *gorm.DB) *SQLKVRepository {
	return &SQLKVRepository{db: db}
}

func (r *SQLKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var kv KeyValue
	err := r.db.WithContext(ctx).Where("kv_key = ?", key).Take(&kv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %s: %w", key, err)
	}
	if len(kv.Value) == 0 {
		return nil, nil
	}
	return kv.Value, nil
}

func (r *SQLKVRepository) Set(ctx context.Context, key string, value []byte) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
	}).Create(&KeyValue{Key: key, Value: value, UpdatedAt: time.Now()}).Error
	if err != nil {
		return fmt.Errorf("sql set %s: %w", key, err)
	}
	return nil
}

func (r *SQLKVRepository) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	db := r.db.WithContext(ctx)

	// The row must exist before it can be locked; an empty value reads as absent.
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&KeyValue{Key: key, UpdatedAt: time.Now()}).Error; err != nil {
		return fmt.Errorf("sql update %s: %w", key, err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var kv KeyValue
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("kv_key = ?", key).Take(&kv).Error; err != nil {
			return err
		}

		var current []byte
		if len(kv.Value) > 0 {
			current = kv.Value
		}
		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}

		return tx.Model(&KeyValue{}).Where("kv_key = ?", key).Updates(map[string]any{
			"kv_value":   next,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("sql update %s: %w", key, err)
	}
	return nil
}

func (r *SQLKVRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
