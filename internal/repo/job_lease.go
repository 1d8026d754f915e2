package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// AcquireJobLease claims job for holder until the given time. It reports
// false when another holder's lease is still live at now.
func AcquireJobLease(ctx context.Context, db *gorm.DB, job, holder string, now, until time.Time) (bool, error) {
	var ok bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.JobLease{Job: job, Holder: holder, LeaseUntil: until})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			ok = true
			return nil
		}
		res = tx.Model(&domain.JobLease{}).
			Where("job = ? AND lease_until <= ?", job, now).
			Updates(map[string]any{"holder": holder, "lease_until": until})
		if res.Error != nil {
			return res.Error
		}
		ok = res.RowsAffected == 1
		return nil
	})
	return ok, err
}

// ReleaseJobLease drops holder's lease on job. Releasing a lease that was
// taken over after expiry is a no-op.
func ReleaseJobLease(ctx context.Context, db *gorm.DB, job, holder string) error {
	return db.WithContext(ctx).
		Where("job = ? AND holder = ?", job, holder).
		Delete(&domain.JobLease{}).Error
}
