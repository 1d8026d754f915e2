// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for BorrowRecord
// and ExtensionRequest.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// CreateBorrow inserts a new active loan and fills in its ID.
func CreateBorrow(ctx context.Context, tx *gorm.DB, b *domain.BorrowRecord) error {
	return tx.WithContext(ctx).Create(b).Error
}

// GetBorrow fetches a loan by ID or returns ErrNotFound.
func GetBorrow(ctx context.Context, db *gorm.DB, id uint64) (*domain.BorrowRecord, error) {
	var b domain.BorrowRecord
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBorrowForUpdate is GetBorrow with a row lock held until the transaction ends.
func GetBorrowForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*domain.BorrowRecord, error) {
	var b domain.BorrowRecord
	if err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetActiveBorrowByBarcode returns the open loan of a copy, or ErrNotFound.
func GetActiveBorrowByBarcode(ctx context.Context, db *gorm.DB, barcode string) (*domain.BorrowRecord, error) {
	var b domain.BorrowRecord
	err := forUpdate(db.WithContext(ctx)).
		Where("barcode = ? AND status = ?", barcode, domain.BorrowActive).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CountActiveBorrows returns the number of open loans held by a reader.
func CountActiveBorrows(ctx context.Context, db *gorm.DB, readerID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.BorrowRecord{}).
		Where("reader_id = ? AND status = ?", readerID, domain.BorrowActive).
		Count(&n).Error
	return n, err
}

// CloseBorrow marks an active loan as returned. Returns ErrStale when the
// loan was already closed.
func CloseBorrow(ctx context.Context, tx *gorm.DB, id uint64, status domain.BorrowStatus, returnedAt time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.BorrowRecord{}).
		Where("id = ? AND status = ?", id, domain.BorrowActive).
		Updates(map[string]any{"status": status, "returned_at": returnedAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// ExtendBorrowDue moves the due date of an active loan.
func ExtendBorrowDue(ctx context.Context, tx *gorm.DB, id uint64, due time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.BorrowRecord{}).
		Where("id = ? AND status = ?", id, domain.BorrowActive).
		Update("due_at", due)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// CountBorrowsByReader returns the number of loans (any status) for readerID.
func CountBorrowsByReader(ctx context.Context, db *gorm.DB, readerID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.BorrowRecord{}).
		Where("reader_id = ?", readerID).
		Count(&total).Error
	return total, err
}

// ListBorrowsByReaderPage returns a reader's loans, most recent first.
func ListBorrowsByReaderPage(ctx context.Context, db *gorm.DB, readerID string, offset, limit int) ([]domain.BorrowRecord, error) {
	var out []domain.BorrowRecord
	err := db.WithContext(ctx).
		Where("reader_id = ?", readerID).
		Order("borrowed_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateExtension inserts a pending extension request.
func CreateExtension(ctx context.Context, tx *gorm.DB, e *domain.ExtensionRequest) error {
	return tx.WithContext(ctx).Create(e).Error
}

// GetExtension fetches an extension request by ID or returns ErrNotFound.
func GetExtension(ctx context.Context, db *gorm.DB, id uint64) (*domain.ExtensionRequest, error) {
	var e domain.ExtensionRequest
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// GetExtensionForUpdate loads an extension request under a row lock.
func GetExtensionForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*domain.ExtensionRequest, error) {
	var e domain.ExtensionRequest
	if err := forUpdate(tx.WithContext(ctx)).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// HasPendingExtension reports whether a loan already has an undecided request.
func HasPendingExtension(ctx context.Context, db *gorm.DB, borrowID uint64) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ExtensionRequest{}).
		Where("borrow_id = ? AND status = ?", borrowID, domain.ExtensionPending).
		Count(&n).Error
	return n > 0, err
}

// DecideExtension records the review outcome of a pending request.
func DecideExtension(ctx context.Context, tx *gorm.DB, id uint64, status domain.ExtensionStatus, reviewer string, at time.Time) error {
	res := tx.WithContext(ctx).
		Model(&domain.ExtensionRequest{}).
		Where("id = ? AND status = ?", id, domain.ExtensionPending).
		Updates(map[string]any{"status": status, "reviewed_by": reviewer, "reviewed_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}
