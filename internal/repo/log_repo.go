// Credit and damage logs are append-only: there are insert and list helpers
// and nothing that updates or deletes a row.

package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// AppendCreditLog inserts one ledger row.
func AppendCreditLog(ctx context.Context, tx *gorm.DB, e *domain.CreditLogEntry) error {
	return tx.WithContext(ctx).Create(e).Error
}

// CountCreditLog returns the number of ledger rows for readerID.
func CountCreditLog(ctx context.Context, db *gorm.DB, readerID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.CreditLogEntry{}).
		Where("reader_id = ?", readerID).
		Count(&total).Error
	return total, err
}

// ListCreditLogPage returns a reader's ledger, newest first.
func ListCreditLogPage(ctx context.Context, db *gorm.DB, readerID string, offset, limit int) ([]domain.CreditLogEntry, error) {
	var out []domain.CreditLogEntry
	err := db.WithContext(ctx).
		Where("reader_id = ?", readerID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AppendDamageLog inserts one damage audit row.
func AppendDamageLog(ctx context.Context, tx *gorm.DB, e *domain.DamageLogEntry) error {
	return tx.WithContext(ctx).Create(e).Error
}

// ListDamageLogByBarcode returns the damage history of a copy, oldest first.
func ListDamageLogByBarcode(ctx context.Context, db *gorm.DB, barcode string) ([]domain.DamageLogEntry, error) {
	var out []domain.DamageLogEntry
	err := db.WithContext(ctx).
		Where("barcode = ?", barcode).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CreateJobRun records one maintenance job execution.
func CreateJobRun(ctx context.Context, db *gorm.DB, r *domain.JobRun) error {
	return db.WithContext(ctx).Create(r).Error
}

// ListJobRuns returns the latest runs, optionally filtered by job name.
func ListJobRuns(ctx context.Context, db *gorm.DB, job string, limit int) ([]domain.JobRun, error) {
	q := db.WithContext(ctx).Model(&domain.JobRun{})
	if job != "" {
		q = q.Where("job = ?", job)
	}
	var out []domain.JobRun
	err := q.Order("started_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}
