package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// entry is the row layout of the kv_entries table. An empty value marks a
// placeholder row created only to take a lock.
type entry struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Value     []byte    `gorm:"type:bytea;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (entry) TableName() string {
	return "kv_entries"
}

// GormStore persists values in Postgres through gorm. Update locks the row
// with SELECT ... FOR UPDATE inside a transaction.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore migrates the kv_entries table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate kv_entries: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e entry
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(e.Value) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return e.Value, nil
}

// Set implements Store.
func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	return upsert(s.db.WithContext(ctx), &entry{Key: key, Value: value, UpdatedAt: s.now()})
}

// Delete implements Store.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Update implements Store.
func (s *GormStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Make sure a row exists so FOR UPDATE has something to lock.
		placeholder := &entry{Key: key, Value: []byte{}, UpdatedAt: s.now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(placeholder).Error; err != nil {
			return fmt.Errorf("reserve %s: %w", key, err)
		}

		var e entry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("key = ?", key).First(&e).Error; err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}

		var current []byte
		if len(e.Value) > 0 {
			current = e.Value
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		return upsert(tx, &entry{Key: key, Value: next, UpdatedAt: s.now()})
	})
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func upsert(db *gorm.DB, e *entry) error {
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(e).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.Key, err)
	}
	return nil
}
