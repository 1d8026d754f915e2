package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// CreateReader inserts a patron record.
func CreateReader(ctx context.Context, db *gorm.DB, r *domain.Reader) error {
	return db.WithContext(ctx).Create(r).Error
}

// GetReader fetches a reader by ID or returns ErrNotFound.
func GetReader(ctx context.Context, db *gorm.DB, id string) (*domain.Reader, error) {
	var r domain.Reader
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReaderForUpdate is GetReader with a row lock held until the transaction ends.
func GetReaderForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Reader, error) {
	var r domain.Reader
	if err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// SetReaderCredit stores a new (already clamped) balance.
func SetReaderCredit(ctx context.Context, tx *gorm.DB, id string, credit int, now time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.Reader{}).
		Where("id = ?", id).
		Updates(map[string]any{"credit": credit, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReaderIDsBelowCredit returns IDs of readers whose credit is strictly
// below ceiling, in ID order.
func ListReaderIDsBelowCredit(ctx context.Context, db *gorm.DB, ceiling int) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Reader{}).
		Where("credit < ?", ceiling).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
